package config

import (
	"context"
	"os"
	"time"
)

// WatchAvailability loads availability.yaml, hands it to onUpdate and then
// polls the file. A newer mtime triggers a reload, but onUpdate only runs
// when the parsed content differs from the last config it received, so
// touching or re-deploying an identical file is a no-op. Reload failures go
// to onError and keep the previous config in effect.
func WatchAvailability(ctx context.Context, path string, interval time.Duration, onUpdate func(*AvailabilityConfig), onError func(error)) error {
	if path == "" {
		path = "configs/availability.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadAvailability(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	w := &availabilityWatcher{
		path:     path,
		lastMod:  info.ModTime(),
		revision: cfg.Revision(),
		onUpdate: onUpdate,
		onError:  onError,
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	go w.run(ctx, interval)
	return nil
}

type availabilityWatcher struct {
	path     string
	lastMod  time.Time
	revision string
	onUpdate func(*AvailabilityConfig)
	onError  func(error)
}

func (w *availabilityWatcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *availabilityWatcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		return // mid-rename; next tick sees the new file
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	cfg, err := LoadAvailability(w.path)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	rev := cfg.Revision()
	if rev == w.revision {
		return
	}
	w.revision = rev
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}
