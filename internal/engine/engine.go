package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"waveline/internal/catalog"
	"waveline/internal/domain"
	"waveline/internal/population"
)

// Informational outcomes of wave control calls. Callers log them; none is fatal.
var (
	ErrNoMoreWaves  = errors.New("no more waves")
	ErrWaveActive   = errors.New("a wave is already active")
	ErrNoActiveWave = errors.New("no active wave")
)

const (
	DefaultGrace  = 3 * time.Second
	DefaultJitter = 1.0
)

// EntityFactory creates one enemy at pose. A failed spawn is skipped.
type EntityFactory interface {
	SpawnEntity(ctx context.Context, pose domain.Pose) (domain.EntityHandle, error)
}

// Despawner is implemented by factories that can tear down entities left over
// when a wave is stopped or restarted.
type Despawner interface {
	Despawn(h domain.EntityHandle)
}

// Observer receives every event the orchestrator publishes. Observe is called
// synchronously from the goroutine that produced the event.
type Observer interface {
	Observe(ev domain.Event)
}

type ObserverFunc func(domain.Event)

func (f ObserverFunc) Observe(ev domain.Event) { f(ev) }

type Options struct {
	Clock       clockwork.Clock
	Logger      *log.Logger
	Seed        int64
	Jitter      float64
	Grace       time.Duration
	MinInterval float64
	Mode        domain.Mode
	Endless     catalog.EndlessSettings
}

// CatalogSnapshot is the normalized catalogue as the orchestrator sees it.
type CatalogSnapshot struct {
	Waves        []domain.WaveSpec `json:"waves"`
	Cursor       int               `json:"cursor"`
	Mode         domain.Mode       `json:"mode"`
	EndlessRound int               `json:"endless_round"`
	Pending      bool              `json:"pending"`
}

// Orchestrator drives waves from the catalogue through the run states.
type Orchestrator struct {
	points      []domain.SpawnPoint
	factory     EntityFactory
	registry    *population.Registry
	clock       clockwork.Clock
	logger      *log.Logger
	jitter      float64
	grace       time.Duration
	minInterval float64
	mode        domain.Mode
	endless     catalog.EndlessSettings

	rngMu sync.Mutex
	rng   *rand.Rand

	// ctlMu serializes start, stop, reset and catalogue replacement.
	ctlMu sync.Mutex

	mu       sync.Mutex
	state    domain.RunState
	catalog  *catalog.Catalog
	pending  []domain.WaveSpec
	round    int
	current  *run
	last     *run
	warnings []catalog.Warning

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

// New builds an idle orchestrator over the given spawn points. Waves are
// normalized for the ring; corrections are logged and kept for Warnings.
func New(points []domain.SpawnPoint, waves []domain.WaveSpec, factory EntityFactory, opts Options) (*Orchestrator, error) {
	if len(points) == 0 {
		return nil, errors.New("no spawn points")
	}
	if factory == nil {
		return nil, errors.New("entity factory is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = catalog.DefaultMinInterval
	}
	if opts.Mode == "" {
		opts.Mode = domain.ModeOrdered
	}
	if opts.Mode != domain.ModeOrdered && opts.Mode != domain.ModeEndless {
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	normalized, warnings := catalog.Normalize(waves, len(points), opts.MinInterval)
	for _, w := range warnings {
		opts.Logger.Printf("WARNING: catalog: %s", w)
	}
	o := &Orchestrator{
		points:      append([]domain.SpawnPoint(nil), points...),
		factory:     factory,
		registry:    population.New(),
		clock:       opts.Clock,
		logger:      opts.Logger,
		jitter:      opts.Jitter,
		grace:       opts.Grace,
		minInterval: opts.MinInterval,
		mode:        opts.Mode,
		endless:     opts.Endless,
		rng:         rand.New(rand.NewSource(seed)),
		state:       domain.StateIdle,
		catalog:     catalog.New(normalized),
		warnings:    warnings,
		observers:   make(map[int]Observer),
	}
	return o, nil
}

// Subscribe registers obs and returns a function that removes it.
func (o *Orchestrator) Subscribe(obs Observer) func() {
	o.obsMu.Lock()
	id := o.nextObs
	o.nextObs++
	o.observers[id] = obs
	o.obsMu.Unlock()
	return func() {
		o.obsMu.Lock()
		delete(o.observers, id)
		o.obsMu.Unlock()
	}
}

func (o *Orchestrator) publish(ev domain.Event) {
	if ev.TS == "" {
		ev.TS = o.clock.Now().UTC().Format(time.RFC3339Nano)
	}
	o.obsMu.RLock()
	ids := make([]int, 0, len(o.observers))
	for id := range o.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	targets := make([]Observer, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, o.observers[id])
	}
	o.obsMu.RUnlock()
	for _, obs := range targets {
		obs.Observe(ev)
	}
}

// StartNextWave claims the next wave and launches one runner per task. In
// endless mode a generated wave follows the ordered ones.
func (o *Orchestrator) StartNextWave(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()

	o.mu.Lock()
	if o.state != domain.StateIdle {
		state := o.state
		o.mu.Unlock()
		o.logger.Printf("start ignored: wave in state %s", state)
		return ErrWaveActive
	}
	idx, spec, ok := o.catalog.Claim()
	round, endless := 0, false
	if !ok {
		if o.mode != domain.ModeEndless {
			cursor := o.catalog.Cursor()
			o.mu.Unlock()
			o.logger.Printf("start ignored: all %d waves played", cursor)
			o.publish(domain.Event{Type: domain.EventWavesExhausted, Wave: cursor})
			return ErrNoMoreWaves
		}
		round, endless = o.round, true
		o.round++
		spec = catalog.EndlessWave(round, len(o.points), o.endless, o.minInterval)
		idx = o.catalog.Len() + round
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:        uuid.NewString(),
		wave:      idx,
		round:     round,
		endless:   endless,
		spec:      spec,
		ctx:       runCtx,
		cancel:    cancel,
		startedAt: o.clock.Now(),
	}
	o.current = r
	o.last = r
	o.state = domain.StateRunning
	o.mu.Unlock()

	o.despawn(o.registry.Clear())

	type launch struct {
		idx   int
		task  domain.SpawnTaskSpec
		point domain.SpawnPoint
	}
	var launches []launch
	for i, task := range spec.Tasks {
		if task.Spawner < 0 || task.Spawner >= len(o.points) {
			o.logger.Printf("WARNING: wave %d task %d: spawner %d out of range, task skipped", idx, i, task.Spawner)
			o.publish(domain.Event{Type: domain.EventTaskSkipped, RunID: r.id, Wave: idx, Payload: map[string]any{"task": i, "spawner": task.Spawner}})
			continue
		}
		launches = append(launches, launch{idx: i, task: task, point: o.points[task.Spawner]})
	}
	r.active.Store(int32(len(launches)))

	payload := map[string]any{
		"tasks":   len(spec.Tasks),
		"enemies": spec.TotalEnemies(),
		"mode":    string(o.mode),
	}
	if endless {
		payload["endless_round"] = round
	}
	o.logger.Printf("wave %d started: %d tasks, %d enemies", idx, len(spec.Tasks), spec.TotalEnemies())
	o.publish(domain.Event{Type: domain.EventWaveStarted, RunID: r.id, Wave: idx, Payload: payload})

	for _, l := range launches {
		l := l
		r.wg.Go(func() { o.runTask(r, l.idx, l.task, l.point) })
	}
	go o.supervise(r)
	return nil
}

// StopCurrentWave cancels the active wave, clears the population and returns
// to Idle. Cancelled waves are not replayed.
func (o *Orchestrator) StopCurrentWave(ctx context.Context) error {
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()

	o.mu.Lock()
	r := o.current
	// a completing wave is already journaled as completed
	if r == nil || o.state == domain.StateIdle || o.state == domain.StateComplete {
		o.mu.Unlock()
		return ErrNoActiveWave
	}
	o.current = nil
	o.state = domain.StateIdle
	r.finishedAt = o.clock.Now()
	o.mu.Unlock()

	r.gate.Lock()
	r.cancel()
	r.gate.Unlock()

	stale := o.registry.Clear()
	o.despawn(stale)
	o.applyPending()

	payload := r.counters()
	payload["cleared"] = len(stale)
	o.logger.Printf("wave %d stopped, %d entities cleared", r.wave, len(stale))
	o.publish(domain.Event{Type: domain.EventWaveStopped, RunID: r.id, Wave: r.wave, Payload: payload})
	return nil
}

// Reset rewinds the catalogue to its first wave. It only applies while idle.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()

	o.mu.Lock()
	if o.state != domain.StateIdle {
		o.mu.Unlock()
		return ErrWaveActive
	}
	o.catalog.Reset()
	o.round = 0
	o.last = nil
	o.mu.Unlock()

	o.logger.Printf("catalog reset")
	o.publish(domain.Event{Type: domain.EventCatalogReset})
	return nil
}

// ReplaceCatalog normalizes waves and installs them. While a wave is active
// the new catalogue is held until the orchestrator is idle again.
func (o *Orchestrator) ReplaceCatalog(waves []domain.WaveSpec) []catalog.Warning {
	normalized, warnings := catalog.Normalize(waves, len(o.points), o.minInterval)
	for _, w := range warnings {
		o.logger.Printf("WARNING: catalog: %s", w)
		o.publish(domain.Event{Type: domain.EventCatalogWarning, Wave: w.Wave, Payload: map[string]any{"task": w.Task, "message": w.Message}})
	}

	o.ctlMu.Lock()
	defer o.ctlMu.Unlock()
	o.mu.Lock()
	o.warnings = warnings
	deferred := o.state != domain.StateIdle
	if deferred {
		o.pending = normalized
	} else {
		o.catalog.Replace(normalized)
		o.pending = nil
	}
	o.mu.Unlock()

	o.publish(domain.Event{Type: domain.EventCatalogLoaded, Payload: map[string]any{"waves": len(normalized), "deferred": deferred}})
	return warnings
}

func (o *Orchestrator) applyPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil && o.state == domain.StateIdle {
		o.catalog.Replace(o.pending)
		o.pending = nil
	}
}

// OnEntityRemoved reports that h left play. Unknown or repeated handles are
// ignored.
func (o *Orchestrator) OnEntityRemoved(h domain.EntityHandle) {
	if !o.registry.Remove(h) {
		return
	}
	o.mu.Lock()
	r := o.current
	o.mu.Unlock()
	ev := domain.Event{Type: domain.EventEntityRemoved, EntityID: string(h), Wave: -1}
	if r != nil {
		r.removed.Add(1)
		ev.RunID, ev.Wave = r.id, r.wave
	}
	o.publish(ev)
}

func (o *Orchestrator) transition(r *run, from, to domain.RunState, evType string) bool {
	o.mu.Lock()
	if o.current != r || o.state != from {
		o.mu.Unlock()
		return false
	}
	o.state = to
	o.mu.Unlock()
	o.publish(domain.Event{Type: evType, RunID: r.id, Wave: r.wave, Payload: r.counters()})
	return true
}

func (o *Orchestrator) complete(r *run) {
	o.mu.Lock()
	if o.current != r || o.state != domain.StateCooldownBeforeComplete {
		o.mu.Unlock()
		return
	}
	o.state = domain.StateComplete
	finished := o.clock.Now()
	r.finishedAt = finished
	o.mu.Unlock()

	r.cancel()
	o.logger.Printf("wave %d complete after %s", r.wave, finished.Sub(r.startedAt))
	payload := r.counters()
	payload["elapsed"] = finished.Sub(r.startedAt).Seconds()
	o.publish(domain.Event{Type: domain.EventWaveCompleted, RunID: r.id, Wave: r.wave, Payload: payload})

	o.mu.Lock()
	if o.current == r {
		o.current = nil
		o.state = domain.StateIdle
	}
	o.mu.Unlock()
	o.applyPending()
}

func (o *Orchestrator) despawn(handles []domain.EntityHandle) {
	d, ok := o.factory.(Despawner)
	if !ok {
		return
	}
	for _, h := range handles {
		d.Despawn(h)
	}
}

// Close stops any active wave.
func (o *Orchestrator) Close() {
	if err := o.StopCurrentWave(context.Background()); err != nil && !errors.Is(err, ErrNoActiveWave) {
		o.logger.Printf("WARNING: close: %v", err)
	}
}

func (o *Orchestrator) Status() domain.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := domain.Status{
		State:            o.state,
		Mode:             o.mode,
		CurrentWaveIndex: o.catalog.Cursor(),
		TotalWaves:       o.catalog.Len(),
		EndlessRound:     o.round,
		LiveEnemyCount:   o.registry.Count(),
	}
	if r := o.current; r != nil {
		st.RunID = r.id
		st.ActiveTasks = int(r.active.Load())
	}
	if r := o.last; r != nil {
		end := r.finishedAt
		if end.IsZero() {
			end = o.clock.Now()
		}
		st.ElapsedTime = end.Sub(r.startedAt).Seconds()
	}
	return st
}

func (o *Orchestrator) Spawners() []domain.SpawnPoint {
	return append([]domain.SpawnPoint(nil), o.points...)
}

func (o *Orchestrator) Catalog() CatalogSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return CatalogSnapshot{
		Waves:        o.catalog.Waves(),
		Cursor:       o.catalog.Cursor(),
		Mode:         o.mode,
		EndlessRound: o.round,
		Pending:      o.pending != nil,
	}
}

// Warnings returns the corrections made by the last catalogue normalization.
func (o *Orchestrator) Warnings() []catalog.Warning {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]catalog.Warning(nil), o.warnings...)
}

// LiveEntities lists the registered handles in sorted order.
func (o *Orchestrator) LiveEntities() []domain.EntityHandle {
	hs := o.registry.Handles()
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}
