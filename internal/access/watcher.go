package access

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// MissingClearer clears missing flags for tracks stored under any of uris
type MissingClearer interface {
	ClearMissingByURI(ctx context.Context, uris ...string) (int64, error)
}

// Watcher clears missing flags when files reappear under the sandbox
type Watcher struct {
	watcher *fsnotify.Watcher
	clearer MissingClearer
	logger  logrus.FieldLogger
	done    chan struct{}
}

// NewWatcher starts watching dirs recursively
func NewWatcher(dirs []string, clearer MissingClearer, logger logrus.FieldLogger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{watcher: fw, clearer: clearer, logger: logger, done: make(chan struct{})}
	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			logger.WithError(err).WithField("dir", dir).Warn("Cannot watch library directory")
		}
	}

	go w.run()
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
		return
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := w.addTree(event.Name); err != nil {
			w.logger.WithError(err).WithField("dir", event.Name).Warn("Cannot watch new directory")
		}
		return
	}

	// Tracks may be stored as a file:// URI or as a bare absolute path
	n, err := w.clearer.ClearMissingByURI(context.Background(), FileURI(event.Name), event.Name)
	if err != nil {
		w.logger.WithError(err).WithField("path", event.Name).Error("Failed to clear missing flag")
		return
	}
	if n > 0 {
		w.logger.WithField("path", event.Name).WithField("tracks", n).Info("Missing file reappeared")
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
