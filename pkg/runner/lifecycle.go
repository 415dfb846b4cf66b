package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velora-health/velora/pkg/errorsx"
	"github.com/velora-health/velora/pkg/logging"
)

// LifecycleRunner hosts the check-in engine for a process: banner, start
// hooks, then a bounded drain when the context ends so in-flight transcript
// artifacts and metrics flush before exit.
type LifecycleRunner struct {
	state        int32
	ctx          context.Context
	cancel       context.CancelFunc
	onceStop     sync.Once
	hooks        Hooks
	drainer      Drainer
	stopErr      error
	drainTimeout time.Duration
	logger       *slog.Logger
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *LifecycleRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:        int32(StateNew),
		ctx:          ctx,
		cancel:       cancel,
		hooks:        hooks,
		drainer:      drainer,
		drainTimeout: drainTimeout,
		logger:       logging.NewComponentLogger(slog.Default(), "runner"),
	}
}

// Run blocks until the context ends, then drains. Only valid once, from
// StateNew.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

// Stop ends the run from outside the context. Idempotent.
func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// stop runs the drain exactly once. A drain that overruns its budget is
// abandoned and reported; a stuck flush must not hold the process hostage.
func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.drainTimeout):
				r.stopErr = errorsx.Wrapf(errorsx.ReasonDrainTimeout,
					"drain did not finish within %s", r.drainTimeout)
				r.logger.Warn("drain_abandoned", slog.Duration("timeout", r.drainTimeout))
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		r.logger.Info("runner_stopped")
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
