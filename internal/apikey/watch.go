package apikey

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the key whenever the key file changes, until ctx is done.
// It is a no-op for sources without a key file.
func (s *Source) Watch(ctx context.Context, log *zap.Logger) error {
	if s.loader == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.loader.Path()); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				debounce.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						log.Error("watch re-add", zap.String("path", ev.Name), zap.Error(err))
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(reloadDebounce)
				}
			case <-debounce.C:
				changed, err := s.Reload()
				if err != nil {
					log.Error("api key reload failed", zap.Error(err))
					continue
				}
				if changed {
					log.Info("api key reloaded", zap.String("key", Redact(s.Get())))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("watch error", zap.Error(err))
			}
		}
	}()
	return nil
}
