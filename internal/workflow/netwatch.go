package workflow

import (
	"context"
	"log/slog"
	"time"
)

// NetWatcher polls a connectivity probe and reports changes.
type NetWatcher struct {
	Probe    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
	OnChange func(online bool)
}

// Run polls until ctx is done. The first result is always reported.
func (w *NetWatcher) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last *bool
	for {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := w.Probe(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		online := err == nil
		if last == nil || *last != online {
			if !online {
				slog.Debug("connectivity probe failed", "error", err)
			}
			w.OnChange(online)
			last = &online
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
