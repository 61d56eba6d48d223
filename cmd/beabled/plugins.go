package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/ayusman/beabled/internal/app"
	"github.com/ayusman/beabled/internal/plugin"
)

// captionHooks discovers caption plugins and starts delivering to them until
// ctx is done. It returns nil when there is nothing to deliver to.
func captionHooks(ctx context.Context, dataDir string) func(app.CaptionEvent) {
	dir := pluginDir
	if dir == "" {
		dir = filepath.Join(dataDir, "plugins")
	}

	mgr := plugin.NewManager(dir)
	if err := mgr.Discover(); err != nil {
		slog.Warn("plugin discovery failed", "dir", dir, "err", err)
		return nil
	}
	subs := mgr.Subscribers(plugin.EventCaption)
	if len(subs) == 0 {
		return nil
	}
	for _, p := range subs {
		slog.Info("caption plugin loaded", "plugin", p.Manifest.Name, "version", p.Manifest.Version)
	}

	d := plugin.NewDispatcher(mgr, plugin.NewExecutor(plugin.DefaultTimeout), slog.Default())
	go d.Run(ctx)

	return func(ev app.CaptionEvent) {
		d.Notify(&plugin.Request{
			Event:      plugin.EventCaption,
			SessionID:  ev.SessionID,
			Caption:    ev.Label,
			Confidence: ev.Confidence,
			History:    ev.History,
			Timestamp:  ev.Time.UnixMilli(),
		})
	}
}
