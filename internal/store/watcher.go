package store

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/Yoak3n/ducker/internal/task"
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// FileWatcher reports writes to a database file made by any process, such
// as another ducker instance sharing the data directory. Rapid bursts of
// filesystem events collapse into one change.
type FileWatcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger
}

var _ task.ChangeSource = (*FileWatcher)(nil)

func NewFileWatcher(path string, log *zap.Logger) *FileWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileWatcher{path: path, debounce: 200 * time.Millisecond, log: log}
}

func (w *FileWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// relevant matches the file itself and its SQLite side files.
func (w *FileWatcher) relevant(name string) bool {
	base := filepath.Base(w.path)
	got := filepath.Base(name)
	return got == base || strings.HasPrefix(got, base+"-")
}

func (w *FileWatcher) Changes(ctx context.Context) (<-chan task.Change, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: SQLite replaces journal files, which drops
	// watches placed on the files themselves.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return nil, err
	}

	out := make(chan task.Change, 1)
	go w.run(ctx, fw, out)
	return out, nil
}

func (w *FileWatcher) run(ctx context.Context, fw *fsnotify.Watcher, out chan<- task.Change) {
	defer close(out)
	defer fw.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) || ev.Op&watchedOps == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("file watcher error", zap.String("path", w.path), zap.Error(err))

		case <-fire:
			fire = nil
			select {
			case out <- task.Change{Source: "file", At: time.Now()}:
			default:
			}
		}
	}
}
