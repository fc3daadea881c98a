package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"waveline/internal/domain"
)

// run is one started wave. Runners emit under gate's read lock; stopping
// takes the write lock before cancelling, so no emission starts after
// cancellation and an in-flight one finishes registering first.
type run struct {
	id      string
	wave    int
	round   int
	endless bool
	spec    domain.WaveSpec

	ctx    context.Context
	cancel context.CancelFunc
	gate   sync.RWMutex
	wg     conc.WaitGroup
	active atomic.Int32

	emitted atomic.Int64
	skipped atomic.Int64
	removed atomic.Int64

	startedAt  time.Time
	finishedAt time.Time
}

func (r *run) counters() map[string]any {
	return map[string]any{
		"emitted": r.emitted.Load(),
		"skipped": r.skipped.Load(),
		"removed": r.removed.Load(),
	}
}

func intervalDuration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}

// runTask emits task.Count entities at point. Emission n is due at
// startedAt + n*interval, so time spent spawning and publishing does not push
// later emissions back. The active counter drops only when the quota is met.
func (o *Orchestrator) runTask(r *run, taskIdx int, task domain.SpawnTaskSpec, point domain.SpawnPoint) {
	interval := intervalDuration(task.Interval)
	for n := 1; n <= task.Count; n++ {
		due := r.startedAt.Add(time.Duration(n) * interval)
		if wait := due.Sub(o.clock.Now()); wait > 0 {
			timer := o.clock.NewTimer(wait)
			select {
			case <-r.ctx.Done():
				timer.Stop()
				return
			case <-timer.Chan():
			}
		}
		if !o.emit(r, taskIdx, point) {
			return
		}
	}
	r.active.Add(-1)
	o.publish(domain.Event{
		Type:  domain.EventTaskFinished,
		RunID: r.id,
		Wave:  r.wave,
		Payload: map[string]any{
			"task":    taskIdx,
			"spawner": task.Spawner,
			"count":   task.Count,
		},
	})
}

// emit spawns one entity and registers it. It returns false once the run is
// cancelled.
func (o *Orchestrator) emit(r *run, taskIdx int, point domain.SpawnPoint) bool {
	r.gate.RLock()
	if r.ctx.Err() != nil {
		r.gate.RUnlock()
		return false
	}
	pose := point.Pose()
	pose.Position = pose.Position.Add(pose.Right().Scale(o.jitterOffset()))
	h, err := o.factory.SpawnEntity(r.ctx, pose)
	if err != nil {
		r.gate.RUnlock()
		r.skipped.Add(1)
		o.logger.Printf("WARNING: wave %d task %d: spawn at spawner %d skipped: %v", r.wave, taskIdx, point.Index, err)
		o.publish(domain.Event{
			Type:  domain.EventSpawnSkipped,
			RunID: r.id,
			Wave:  r.wave,
			Payload: map[string]any{
				"task":    taskIdx,
				"spawner": point.Index,
				"error":   err.Error(),
			},
		})
		return true
	}
	registered := o.registry.Add(h)
	r.gate.RUnlock()
	r.emitted.Add(1)
	o.publish(domain.Event{
		Type:     domain.EventEntitySpawned,
		RunID:    r.id,
		Wave:     r.wave,
		EntityID: string(h),
		Payload: map[string]any{
			"task":     taskIdx,
			"spawner":  point.Index,
			"position": pose.Position,
			"live":     registered,
		},
	})
	return true
}

func (o *Orchestrator) jitterOffset() float64 {
	if o.jitter <= 0 {
		return 0
	}
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return (o.rng.Float64()*2 - 1) * o.jitter
}

// supervise walks a run through draining and cooldown once its runners have
// returned. It gives up as soon as the run is cancelled.
func (o *Orchestrator) supervise(r *run) {
	if rec := r.wg.WaitAndRecover(); rec != nil {
		o.logger.Printf("WARNING: wave %d: spawn runner panicked: %v", r.wave, rec.Value)
	}
	if r.ctx.Err() != nil {
		return
	}
	if !o.transition(r, domain.StateRunning, domain.StateDraining, domain.EventWaveDraining) {
		return
	}
	select {
	case <-r.ctx.Done():
		return
	case <-o.registry.Empty():
	}
	if !o.transition(r, domain.StateDraining, domain.StateCooldownBeforeComplete, domain.EventWaveCooldown) {
		return
	}
	grace := o.clock.NewTimer(o.grace)
	defer grace.Stop()
	select {
	case <-r.ctx.Done():
		return
	case <-grace.Chan():
	}
	o.complete(r)
}
