package plugin

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single plugin run.
	DefaultTimeout = 5 * time.Second
	dispatchQueue  = 32
)

// Dispatcher delivers events to subscribed plugins on its own goroutine so a
// slow plugin never stalls the frame loop. Events are dropped while the
// queue is full.
type Dispatcher struct {
	manager  *Manager
	executor *Executor
	logger   *slog.Logger
	queue    chan *Request
	warn     *rate.Limiter
}

// NewDispatcher creates a Dispatcher over the plugins known to manager.
func NewDispatcher(manager *Manager, executor *Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		manager:  manager,
		executor: executor,
		logger:   logger,
		queue:    make(chan *Request, dispatchQueue),
		warn:     rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Notify queues req. It reports false if the event was dropped.
func (d *Dispatcher) Notify(req *Request) bool {
	select {
	case d.queue <- req:
		return true
	default:
		if d.warn.Allow() {
			d.logger.Warn("plugin queue full, dropping event", "event", req.Event, "caption", req.Caption)
		}
		return false
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.queue:
			d.deliver(ctx, req)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, req *Request) {
	for _, p := range d.manager.Subscribers(req.Event) {
		resp, err := d.executor.Execute(ctx, p, req)
		switch {
		case err != nil:
			d.logger.Warn("plugin failed", "plugin", p.Manifest.Name, "event", req.Event, "err", err)
		case !resp.Success:
			d.logger.Warn("plugin reported an error", "plugin", p.Manifest.Name, "event", req.Event, "error", resp.Error)
		default:
			d.logger.Debug("plugin ran", "plugin", p.Manifest.Name, "event", req.Event)
		}
	}
}
