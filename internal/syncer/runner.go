package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/synclock"
	log "github.com/sirupsen/logrus"
)

const cycleLockName = "sync-cycle"

// ErrAlreadyRunning is returned when another invocation holds the cycle lock.
var ErrAlreadyRunning = errors.New("sync: cycle already running")

// Runner guards RunCycle with an advisory lock so invocations never overlap.
type Runner struct {
	orchestrator *Orchestrator
	scheduler    *Scheduler
	locker       synclock.Locker
	lockTTL      time.Duration
	interval     time.Duration
}

// NewRunner constructs a Runner. A nil locker falls back to an in-process lock.
func NewRunner(orchestrator *Orchestrator, scheduler *Scheduler, locker synclock.Locker, cfg config.SyncConfig) *Runner {
	if locker == nil {
		locker = synclock.NewMemoryLocker()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = config.DefaultLockTTL
	}
	return &Runner{
		orchestrator: orchestrator,
		scheduler:    scheduler,
		locker:       locker,
		lockTTL:      ttl,
		interval:     cfg.PollInterval,
	}
}

// RunOnce runs one gated cycle under the lock.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	if r == nil || r.orchestrator == nil {
		return Result{}, fmt.Errorf("sync: runner not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	lease, errAcquire := r.locker.Acquire(ctx, cycleLockName, r.lockTTL)
	if errAcquire != nil {
		if errors.Is(errAcquire, synclock.ErrNotHeld) {
			return Result{}, ErrAlreadyRunning
		}
		return Result{}, fmt.Errorf("sync: acquire lock: %w", errAcquire)
	}
	defer func() {
		if errRelease := lease.Release(context.WithoutCancel(ctx)); errRelease != nil {
			log.WithError(errRelease).Warn("sync: release lock failed")
		}
	}()

	cycleCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.keepAlive(cycleCtx, cancel, lease)
	}()

	result, err := r.orchestrator.RunCycle(cycleCtx)
	cancel()
	<-stopped
	return result, err
}

// keepAlive refreshes the lease while the cycle runs. When the lease cannot be
// extended the cycle is cancelled, so it aborts before another holder can start.
func (r *Runner) keepAlive(ctx context.Context, cancel context.CancelFunc, lease synclock.Lease) {
	every := r.lockTTL / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := lease.Refresh(ctx, r.lockTTL); errRefresh != nil {
				log.WithError(errRefresh).Warn("sync: lock refresh failed, aborting cycle")
				cancel()
				return
			}
		}
	}
}

// TriggerAndRun sets the force flag and runs a cycle.
func (r *Runner) TriggerAndRun(ctx context.Context) (Result, error) {
	if r == nil || r.scheduler == nil {
		return Result{}, fmt.Errorf("sync: runner not initialized")
	}
	if errTrigger := r.scheduler.Trigger(ctx); errTrigger != nil {
		return Result{}, errTrigger
	}
	return r.RunOnce(ctx)
}

// Start polls the scheduler gate in the background. A non-positive poll interval disables the loop.
func (r *Runner) Start(ctx context.Context) {
	if r == nil || r.interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("sync runner started (poll interval=%s)", r.interval)
}

func (r *Runner) run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	result, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Debug("sync runner: cycle already running")
	case err != nil:
		log.WithError(err).Warn("sync runner: cycle failed")
	case result.Due && result.Errors > 0:
		log.WithField("errors", result.Errors).Warn("sync runner: cycle finished with errors")
	}
}
