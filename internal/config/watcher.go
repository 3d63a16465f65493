package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches scenario files for changes and reloads them.
type Watcher struct {
	paths    map[string]bool
	configs  map[string]*Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher loads every path and calls onChange with the freshly loaded
// scenario whenever one of them is written or replaced. Invalid edits are
// logged and ignored; the last good scenario stays current.
func NewWatcher(paths []string, onChange func(*Config)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		paths:    make(map[string]bool),
		configs:  make(map[string]*Config),
		watcher:  fsWatcher,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		cfg, err := Load(p)
		if err != nil {
			fsWatcher.Close()
			return nil, err
		}
		w.paths[p] = true
		w.configs[p] = cfg

		// Watch the directory to handle editors that replace files.
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, err
		}
		dirs[dir] = true
	}

	w.wg.Add(1)
	go w.watch()

	return w, nil
}

// Config returns the current scenario loaded from path.
func (w *Watcher) Config(path string) *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.configs[filepath.Clean(path)]
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Clean(event.Name)
			if !w.paths[name] {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload(name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("failed to reload scenario",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid scenario after reload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	w.mu.Lock()
	w.configs[path] = cfg
	w.mu.Unlock()

	slog.Info("scenario reloaded", slog.String("path", path))

	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops watching and waits for the watch loop to exit. It is safe to
// call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
