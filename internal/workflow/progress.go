package workflow

import (
	"context"
	"sync"
	"time"
)

// EstimatorConfig sets the pace of the simulated per-question progress shown
// while the real analysis call is in flight.
type EstimatorConfig struct {
	// Budget is spread over the questions.
	Budget      time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{Budget: 60 * time.Second, MinInterval: 2 * time.Second, MaxInterval: 4 * time.Second}
}

// Interval returns the time spent on each question: Budget/total clamped to
// [MinInterval, MaxInterval].
func (c EstimatorConfig) Interval(total int) time.Duration {
	if total < 1 {
		total = 1
	}
	d := c.Budget / time.Duration(total)
	if d < c.MinInterval {
		d = c.MinInterval
	}
	if c.MaxInterval > 0 && d > c.MaxInterval {
		d = c.MaxInterval
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Ceiling is the last question the estimator will claim. It stays below
// total so the simulation never reports completion on its own.
func Ceiling(total int) int {
	if total <= 1 {
		return 1
	}
	return total - 1
}

// Estimation is a running simulation.
type Estimation struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartEstimator calls onTick with question numbers 2, 3, ... up to
// Ceiling(total), one per interval, until stopped.
func StartEstimator(cfg EstimatorConfig, total int, onTick func(current int)) *Estimation {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Estimation{cancel: cancel, done: make(chan struct{})}
	interval := cfg.Interval(total)
	ceiling := Ceiling(total)

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for current := 1; current < ceiling; {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// A stop racing with the tick wins.
			if ctx.Err() != nil {
				return
			}
			current++
			onTick(current)
		}
	}()
	return e
}

// Stop cancels the simulation and waits for it to exit. No tick is delivered
// after Stop returns. It is safe to call more than once.
func (e *Estimation) Stop() {
	e.once.Do(e.cancel)
	<-e.done
}
