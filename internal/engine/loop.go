package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// StopResult reports how an emergency stop went
type StopResult struct {
	WasRunning bool `json:"was_running"`
	TimedOut   bool `json:"timed_out"`
}

// Start launches the poll and expiry loops. They run until ctx is
// cancelled or EmergencyStop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.done != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(loopCtx)
	done := make(chan struct{})

	group.Go(func() error {
		e.run(groupCtx, "poll", e.cfg.PollInterval, true, func(ctx context.Context) {
			e.EvaluateMarket(ctx)
		})
		return nil
	})
	group.Go(func() error {
		e.run(groupCtx, "expiry", e.cfg.ExpiryInterval, false, func(context.Context) {
			e.expireStale()
		})
		return nil
	})

	go func() {
		_ = group.Wait()
		close(done)
	}()

	e.cancel = cancel
	e.done = done
	runningGauge.Set(1)
	e.logger.Info().
		Dur("poll_interval", e.cfg.PollInterval).
		Dur("signal_ttl", e.cfg.SignalTTL).
		Str("mode", string(e.mode.Current())).
		Msg("engine started")
	return nil
}

// EmergencyStop cancels the background loops and waits for them for at
// most the configured stop timeout. Open positions and the pending signal
// are left as they are.
func (e *Engine) EmergencyStop() StopResult {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.done == nil {
		return StopResult{}
	}

	e.cancel()
	timer := time.NewTimer(e.cfg.StopTimeout)
	defer timer.Stop()

	result := StopResult{WasRunning: true}
	select {
	case <-e.done:
	case <-timer.C:
		result.TimedOut = true
		e.logger.Warn().Dur("timeout", e.cfg.StopTimeout).Msg("engine loops did not stop in time")
	}

	e.cancel = nil
	e.done = nil
	runningGauge.Set(0)
	e.logger.Warn().Bool("timed_out", result.TimedOut).Msg("engine stopped")
	return result
}

func (e *Engine) Running() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.done != nil
}

// run calls fn every interval until ctx is done. A panic in fn is logged
// and the loop carries on at the next tick.
func (e *Engine) run(ctx context.Context, name string, interval time.Duration, immediate bool, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if immediate {
		e.safely(ctx, name, fn)
	}
	for {
		select {
		case <-ctx.Done():
			e.logger.Debug().Str("loop", name).Msg("loop stopped")
			return
		case <-ticker.C:
			e.safely(ctx, name, fn)
		}
	}
}

func (e *Engine) safely(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			loopPanicsTotal.WithLabelValues(name).Inc()
			e.logger.Error().Str("loop", name).Err(fmt.Errorf("panic: %v", r)).Msg("recovered from loop panic")
		}
	}()
	fn(ctx)
}
