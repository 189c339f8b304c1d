// Package shaderwatch reports when compiled shader files change on disk.
package shaderwatch

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// DefaultQuiet is how long a file must go without further events before
// its change is reported.
const DefaultQuiet = 250 * time.Millisecond

// Watcher watches the directories holding a set of files, since editors and
// compilers often replace a file rather than write it in place.
type Watcher struct {
	watcher *fsnotify.Watcher
	files   map[string]struct{}
	quiet   time.Duration
	log     *slog.Logger

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	exit      chan struct{}
}

// New starts watching paths. onChange runs on the watcher's goroutine once
// a watched file has been written, created or renamed into place and then
// left alone for quiet. A zero quiet selects DefaultQuiet.
func New(log *slog.Logger, quiet time.Duration, onChange func(path string), paths ...string) (*Watcher, error) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}

	w := &Watcher{
		watcher: watcher,
		files:   make(map[string]struct{}),
		quiet:   quiet,
		log:     log,
		done:    make(chan struct{}),
		exit:    make(chan struct{}),
	}

	dirs := make(map[string]struct{})
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "resolve %s", path)
		}
		w.files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	for dir := range dirs {
		err = watcher.Add(dir)
		if err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "watch %s", dir)
		}
	}

	go w.run(onChange)
	return w, nil
}

func (w *Watcher) run(onChange func(path string)) {
	defer close(w.exit)

	// A compiler may write a file in several chunks. Every event restarts
	// the quiet timer and only a settled file is reported.
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.quiet)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	var settled <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			if _, watched := w.files[path]; !watched {
				continue
			}
			w.log.Debug("shader file event", "path", path, "op", event.Op.String())
			pending[path] = struct{}{}

			if settled != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.quiet)
			settled = timer.C
		case <-settled:
			settled = nil
			for path := range pending {
				w.log.Debug("shader changed", "path", path)
				onChange(path)
			}
			clear(pending)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("shader watcher", "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit. Later calls
// return the first call's result.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.closeErr = errors.Wrap(w.watcher.Close(), "close file watcher")
		<-w.exit
	})
	return w.closeErr
}
