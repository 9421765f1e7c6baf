package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to a single config file. It watches the parent
// directory so editors that replace the file by rename are still seen.
type Watcher struct {
	path     string
	logger   *zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange func(path string)
	stop     chan struct{}
	done     chan struct{}
}

// Watch starts watching path and calls onChange from the watcher goroutine
// whenever the file is written, created or renamed into place.
func Watch(logger *zerolog.Logger, path string, onChange func(path string)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	w := &Watcher{
		path:     abs,
		logger:   logger,
		watcher:  fw,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	select {
	case <-w.stop:
		return nil
	default:
	}
	close(w.stop)
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("path", w.path).Str("op", event.Op.String()).Msg("config changed")
			if w.onChange != nil {
				w.onChange(w.path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Str("path", w.path).Msg("config watcher error")
		}
	}
}
