// Package watcher triggers a callback when the corpus file changes on disk.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"medrag/internal/logging"
)

const DefaultDebounce = 500 * time.Millisecond

// Watcher watches the directory holding a single file. Editors often replace
// files by rename, so watching the file itself would lose track of it.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(ctx context.Context) error
	fs       *fsnotify.Watcher
}

// New creates a watcher for path. Bursts of events closer together than
// debounce collapse into one onChange call.
func New(path string, debounce time.Duration, onChange func(ctx context.Context) error) (*Watcher, error) {
	if onChange == nil {
		return nil, goerr.New("onChange callback is required")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve watched path", goerr.V("path", path))
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, goerr.Wrap(err, "failed to watch directory", goerr.V("dir", filepath.Dir(abs)))
	}
	return &Watcher{path: abs, debounce: debounce, onChange: onChange, fs: fw}, nil
}

// Run blocks until ctx is cancelled, then releases the underlying watcher.
// Callback failures are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fs.Close() }()
	log := logging.From(ctx).With("path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			log.Debug("corpus change observed", "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn("watcher error", logging.ErrAttrs(err)...)
		case <-timer.C:
			log.Info("corpus changed, rebuilding index")
			if err := w.onChange(ctx); err != nil {
				log.Error("rebuild after corpus change failed", logging.ErrAttrs(err)...)
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	name, err := filepath.Abs(ev.Name)
	if err != nil || name != w.path {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}
