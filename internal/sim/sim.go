// Package sim is a headless stand-in for the game world. Enemies walk in a
// straight line from their spawn pose to the tower and leave play when they
// reach it or are killed.
package sim

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"waveline/internal/domain"
)

// ErrCapacity is returned by SpawnEntity when MaxAlive enemies are in play.
var ErrCapacity = errors.New("simulation at capacity")

type Options struct {
	Clock       clockwork.Clock
	Logger      *log.Logger
	Tower       domain.Vec3
	TowerRadius float64
	Speed       float64
	MaxAlive    int
}

// Enemy is a snapshot of one simulated entity.
type Enemy struct {
	Handle    domain.EntityHandle `json:"handle"`
	From      domain.Vec3         `json:"from"`
	SpawnedAt time.Time           `json:"spawned_at"`
	ArrivesAt time.Time           `json:"arrives_at"`
}

type Stats struct {
	Spawned int `json:"spawned"`
	Alive   int `json:"alive"`
	Leaked  int `json:"leaked"`
	Killed  int `json:"killed"`
}

type enemy struct {
	Enemy
	timer clockwork.Timer
}

type World struct {
	opts Options

	mu        sync.Mutex
	enemies   map[domain.EntityHandle]*enemy
	onRemoved func(domain.EntityHandle)
	stats     Stats
}

func New(opts Options) *World {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Speed <= 0 {
		opts.Speed = 1
	}
	return &World{opts: opts, enemies: make(map[domain.EntityHandle]*enemy)}
}

// Bind sets the callback invoked when an enemy leaves play by leaking or
// being killed. Despawned enemies do not trigger it.
func (w *World) Bind(onRemoved func(domain.EntityHandle)) {
	w.mu.Lock()
	w.onRemoved = onRemoved
	w.mu.Unlock()
}

// SpawnEntity places an enemy at pose and starts it walking to the tower.
func (w *World) SpawnEntity(ctx context.Context, pose domain.Pose) (domain.EntityHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.opts.MaxAlive > 0 && len(w.enemies) >= w.opts.MaxAlive {
		return "", ErrCapacity
	}
	h := domain.EntityHandle(uuid.NewString())
	dist := pose.Position.FlatDistance(w.opts.Tower) - w.opts.TowerRadius
	if dist < 0 {
		dist = 0
	}
	travel := time.Duration(dist / w.opts.Speed * float64(time.Second))
	now := w.opts.Clock.Now()
	e := &enemy{Enemy: Enemy{Handle: h, From: pose.Position, SpawnedAt: now, ArrivesAt: now.Add(travel)}}
	w.enemies[h] = e
	w.stats.Spawned++
	e.timer = w.opts.Clock.AfterFunc(travel, func() { w.leak(h) })
	return h, nil
}

func (w *World) leak(h domain.EntityHandle) {
	w.mu.Lock()
	if _, ok := w.enemies[h]; !ok {
		w.mu.Unlock()
		return
	}
	delete(w.enemies, h)
	w.stats.Leaked++
	cb := w.onRemoved
	w.mu.Unlock()
	w.opts.Logger.Printf("enemy %s reached the tower", h)
	if cb != nil {
		cb(h)
	}
}

// Kill removes a live enemy and reports the removal. It returns false for
// unknown handles.
func (w *World) Kill(h domain.EntityHandle) bool {
	w.mu.Lock()
	e, ok := w.enemies[h]
	if !ok {
		w.mu.Unlock()
		return false
	}
	e.timer.Stop()
	delete(w.enemies, h)
	w.stats.Killed++
	cb := w.onRemoved
	w.mu.Unlock()
	if cb != nil {
		cb(h)
	}
	return true
}

// Despawn tears an enemy down without reporting it.
func (w *World) Despawn(h domain.EntityHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.enemies[h]; ok {
		e.timer.Stop()
		delete(w.enemies, h)
	}
}

func (w *World) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Alive = len(w.enemies)
	return s
}

// Enemies lists live enemies ordered by arrival time.
func (w *World) Enemies() []Enemy {
	w.mu.Lock()
	out := make([]Enemy, 0, len(w.enemies))
	for _, e := range w.enemies {
		out = append(out, e.Enemy)
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivesAt.Equal(out[j].ArrivesAt) {
			return out[i].Handle < out[j].Handle
		}
		return out[i].ArrivesAt.Before(out[j].ArrivesAt)
	})
	return out
}
