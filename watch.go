package eventbus

import (
	"errors"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches path for writes and re-applies its Config to b on
// every change. Only the fields safe to change while dispatchers are
// live — RecoverPanics and AuditVerbosity —
// are applied; JanitorSchedule is not applied, since StartJanitor takes
// its schedule as an argument.
//
// The returned stop function closes the underlying watcher and must be
// called to release its file descriptor.
func (b *Bus) WatchConfig(path string) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("eventbus: create config watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("eventbus: watch config %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					b.logger.Warn("config reload failed, keeping previous config", "path", path, "error", err)
					continue
				}
				current := b.Config()
				current.RecoverPanics = cfg.RecoverPanics
				current.AuditVerbosity = cfg.AuditVerbosity
				b.SetConfig(current)
				b.logger.Info("config reloaded", "path", path)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				b.logger.Warn("config watcher error", "error", watchErr)
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		if err := watcher.Close(); err != nil && !errors.Is(err, fsnotify.ErrEventOverflow) {
			return err
		}
		return nil
	}, nil
}
