package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Yoak3n/ducker/internal/config"
	"github.com/Yoak3n/ducker/internal/model"
	"github.com/Yoak3n/ducker/internal/serverapp"
	"github.com/Yoak3n/ducker/internal/task"
)

var (
	flagConfig  string
	flagBackend string
	flagDataDir string
	flagRemote  string
	flagToken   string
	flagJSON    bool
	flagVerbose bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ducker",
		Short: "Track daily, weekly and periodic tasks from the terminal",
		Long: `ducker keeps a synced snapshot of your tasks and shows them as a Today
list, a Monday-to-Sunday week or a month grid. It talks to a local sqlite or
JSON data directory, or to a running ducker server with --remote.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadOrDefault(flagConfig)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if flagBackend != "" {
				cfg.Storage.Backend = strings.ToLower(flagBackend)
			}
			if flagDataDir != "" {
				cfg.Storage.DataDir = flagDataDir
			}
			if flagRemote != "" {
				cfg.Storage.Backend = config.BackendRemote
				cfg.Storage.RemoteURL = flagRemote
			}
			if flagToken != "" {
				cfg.Storage.RemoteToken = flagToken
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The CLI logs to stderr only when asked to.
			logger, err = config.NewLogger(cliLog(cfg.Log, flagVerbose))
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", "", "Storage backend: memory, file, sqlite or remote")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory for file and sqlite backends")
	rootCmd.PersistentFlags().StringVar(&flagRemote, "remote", "", "Base URL of a ducker server")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token for --remote")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(monthCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(periodicCmd())
	rootCmd.AddCommand(exportICSCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(drillCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// cliLog switches to console output at warn, or debug when verbose.
func cliLog(l config.Log, verbose bool) config.Log {
	l.Format = "console"
	l.Level = zapcore.WarnLevel.String()
	if verbose {
		l.Level = zapcore.DebugLevel.String()
	}
	return l
}

// session is an opened backend plus a repository loaded from it.
type session struct {
	backend task.Backend
	repo    *task.Repository
	sources []task.ChangeSource
	close   func() error
}

func openSession(ctx context.Context) (*session, error) {
	backend, sources, closeFn, err := serverapp.OpenBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	repo := task.New(backend, task.WithLogger(logger.Named("repository")))
	if _, err := repo.FetchAll(ctx); err != nil {
		_ = closeFn()
		return nil, err
	}
	return &session{backend: backend, repo: repo, sources: sources, close: closeFn}, nil
}

func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const dateLayout = "2006-01-02"

// parseDate reads a YYYY-MM-DD flag as that day at the current clock time.
func parseDate(s string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return now, nil
	}
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), now.Hour(), now.Minute(), now.Second(), 0, now.Location()), nil
}

// parseWhen accepts "15:04" (today), "2006-01-02" (end of that day), or any
// timestamp the backend wire format accepts.
func parseWhen(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	loc := now.Location()
	if c, err := time.ParseInLocation("15:04", s, loc); err == nil {
		t := time.Date(now.Year(), now.Month(), now.Day(), c.Hour(), c.Minute(), 0, 0, loc)
		return &t, nil
	}
	if d, err := time.ParseInLocation(dateLayout, s, loc); err == nil {
		t := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 0, 0, loc)
		return &t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, loc); err == nil {
		return &t, nil
	}
	t, err := model.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
