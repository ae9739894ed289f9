package serverapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/auth"
	"github.com/Yoak3n/ducker/internal/config"
	"github.com/Yoak3n/ducker/internal/httpmw"
	"github.com/Yoak3n/ducker/internal/server"
	"github.com/Yoak3n/ducker/internal/store"
	"github.com/Yoak3n/ducker/internal/task"
	"github.com/Yoak3n/ducker/internal/telemetry"
	staticfiles "github.com/Yoak3n/ducker/static"
)

type Options struct {
	Config  *config.Config
	Backend task.Backend
	// Extra change sources merged with the backend's own notifications.
	Sources []task.ChangeSource
	Logger  *zap.Logger
	Now     func() time.Time
}

// App is a running server: the HTTP handler plus the repository it serves
// views from.
type App struct {
	Handler http.Handler
	Repo    *task.Repository
	Events  *telemetry.MemoryRepository
	Routes  *server.RouteRegistry
}

// NewApp wires the task API, the views and the dashboard around a backend.
// The repository is loaded once and then kept in sync until ctx is done.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config
	log := opts.Logger

	events := telemetry.NewMemoryRepository(cfg.Telemetry.Limit)
	repo := task.New(opts.Backend,
		task.WithLogger(log.Named("repository")),
		task.WithEvents(events),
		task.WithClock(opts.Now),
	)
	if _, err := repo.FetchAll(ctx); err != nil {
		// The server still starts; Watch or a resync will fill the snapshot.
		log.Warn("initial fetch failed", zap.Error(err))
	}

	sources := append([]task.ChangeSource{opts.Backend}, opts.Sources...)
	changes, err := task.Merge(sources...).Changes(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}
	go func() {
		if err := repo.Watch(ctx, task.FromChannel(changes)); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("watch stopped", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	rr := &server.RouteRegistry{}

	staticHandler := http.FileServer(http.FS(staticfiles.EmbeddedFS()))
	if cfg.Server.UseDiskStatic {
		staticHandler = http.FileServer(http.Dir(cfg.Server.StaticDir))
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", staticHandler))

	server.Handle(mux, rr, "GET /healthz", "Liveness", "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "ducker",
			"time":    opts.Now().UTC().Format(time.RFC3339),
		})
	})
	server.Handle(mux, rr, "GET /readyz", "Readiness: backend reachable", "", func(w http.ResponseWriter, r *http.Request) {
		if _, err := opts.Backend.FetchAllTasks(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":    false,
				"error": "task storage unavailable",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":      true,
			"service": "ducker",
			"backend": cfg.Storage.Backend,
			"time":    opts.Now().UTC().Format(time.RFC3339),
		})
	})
	server.Handle(mux, rr, "GET /api/config", "Effective configuration", "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cfg)
	})

	taskHandler := task.NewHandler(opts.Backend, log.Named("api"))
	taskHandler.SetHeartbeat(cfg.Sync.Heartbeat)
	server.Mount(mux, rr, taskHandler.Routes())

	views := &server.Views{Repo: repo, Events: events, Now: opts.Now, Log: log.Named("views")}
	server.RegisterViewRoutes(mux, rr, views)
	server.RegisterAdminUI(mux, rr, cfg.Server.Addr)
	mux.HandleFunc("GET /{$}", views.Dashboard)

	handler := httpmw.Chain(
		mux,
		httpmw.WithAccessLog(log.Named("http")),
		httpmw.WithRequestID,
		httpmw.WithRecover(log),
		auth.NewGuard(cfg.Server.Token, log.Named("auth")).ProtectAPI,
	)
	return &App{Handler: handler, Repo: repo, Events: events, Routes: rr}, nil
}

// OpenBackend builds the backend named by cfg.Storage. The returned close
// function releases it and is never nil. Extra change sources, such as the
// sqlite file watcher, are returned alongside.
func OpenBackend(cfg *config.Config, log *zap.Logger) (task.Backend, []task.ChangeSource, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return task.NewMemoryBackend(), nil, noop, nil
	case config.BackendFile:
		b, err := task.NewFileBackend(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, noop, err
		}
		return b, nil, noop, nil
	case config.BackendSQLite:
		db, err := store.Open(cfg.Storage.DataDir, log.Named("sqlite"))
		if err != nil {
			return nil, nil, noop, err
		}
		var sources []task.ChangeSource
		if cfg.Storage.Watch {
			fw := store.NewFileWatcher(db.Path(), log.Named("watcher"))
			fw.SetDebounce(cfg.Sync.Debounce)
			sources = append(sources, fw)
		}
		return db, sources, db.Close, nil
	case config.BackendRemote:
		c := task.NewClient(cfg.Storage.RemoteURL, nil, log.Named("client"))
		c.SetReconnectDelay(cfg.Sync.Reconnect)
		c.SetToken(cfg.Storage.RemoteToken)
		return c, nil, noop, nil
	default:
		return nil, nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
