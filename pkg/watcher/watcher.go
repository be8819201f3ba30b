package watcher

import (
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Loader is anything that can (re)load itself from a file.
type Loader interface {
	Load(path string) error
}

type Watcher struct {
	stop chan struct{}
	done chan error
}

// LoadAndWatch loads the file once, then reloads it on every write until
// Close is called. Reload errors are logged, not fatal.
func LoadAndWatch(path string, loader Loader, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	err := loader.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create watcher")
	}
	err = watcher.Add(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to add file to watcher")
	}
	stop := make(chan struct{})
	done := make(chan error)
	go func() {
		for {
			select {
			case event := <-watcher.Events:
				if event.Op&fsnotify.Write == fsnotify.Write {
					if err := loader.Load(path); err != nil {
						log.Warn("failed to reload file", zap.String("path", path), zap.Error(err))
					}
				}
			case err := <-watcher.Errors:
				log.Warn("watch error", zap.String("path", path), zap.Error(err))
			case <-stop:
				done <- watcher.Close()
				return
			}
		}
	}()
	return &Watcher{stop: stop, done: done}, nil
}

func (w *Watcher) Close() error {
	close(w.stop)
	return <-w.done
}
