package domain

import "math"

// RunState is the orchestrator's machine state.
type RunState string

const (
	StateIdle                   RunState = "idle"
	StateRunning                RunState = "running"
	StateDraining               RunState = "draining"
	StateCooldownBeforeComplete RunState = "cooldown"
	StateComplete               RunState = "complete"
)

// Mode selects how waves progress once started.
type Mode string

const (
	ModeOrdered Mode = "ordered"
	ModeEndless Mode = "endless"
)

// EntityHandle identifies one spawned entity. The core never looks inside it.
type EntityHandle string

type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3      { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Scale(k float64) Vec3 { return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k} }
func (v Vec3) Length() float64      { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) FlatDistance(o Vec3) float64 {
	dx, dz := v.X-o.X, v.Z-o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// Pose is a position plus a heading in degrees about the vertical axis.
// Yaw 0 faces +Z, yaw 90 faces +X.
type Pose struct {
	Position Vec3    `json:"position" yaml:"position"`
	Yaw      float64 `json:"yaw" yaml:"yaw"`
}

// Forward returns the unit heading on the ground plane.
func (p Pose) Forward() Vec3 {
	rad := p.Yaw * math.Pi / 180
	return Vec3{X: math.Sin(rad), Z: math.Cos(rad)}
}

// Right returns the unit vector to the right of Forward on the ground plane.
func (p Pose) Right() Vec3 {
	rad := p.Yaw * math.Pi / 180
	return Vec3{X: math.Cos(rad), Z: -math.Sin(rad)}
}

type SpawnPoint struct {
	Index    int     `json:"index"`
	Position Vec3    `json:"position"`
	Forward  Vec3    `json:"forward"`
	Yaw      float64 `json:"yaw"`
}

func (s SpawnPoint) Pose() Pose {
	return Pose{Position: s.Position, Yaw: s.Yaw}
}

// SpawnTaskSpec instructs one spawner to emit Count entities, one every Interval seconds.
type SpawnTaskSpec struct {
	Spawner  int     `json:"spawner" yaml:"spawner"`
	Count    int     `json:"count" yaml:"count"`
	Interval float64 `json:"interval" yaml:"interval"`
}

type WaveSpec struct {
	Tasks []SpawnTaskSpec `json:"tasks" yaml:"tasks"`
}

// Clone returns a copy that shares no backing array with w.
func (w WaveSpec) Clone() WaveSpec {
	tasks := make([]SpawnTaskSpec, len(w.Tasks))
	copy(tasks, w.Tasks)
	return WaveSpec{Tasks: tasks}
}

// TotalEnemies sums the emission counts of all tasks.
func (w WaveSpec) TotalEnemies() int {
	total := 0
	for _, t := range w.Tasks {
		total += t.Count
	}
	return total
}

// Status is a read-only snapshot of the orchestrator.
type Status struct {
	State            RunState `json:"state" enum:"idle,running,draining,cooldown,complete"`
	Mode             Mode     `json:"mode" enum:"ordered,endless"`
	RunID            string   `json:"run_id,omitempty"`
	CurrentWaveIndex int      `json:"current_wave_index"`
	TotalWaves       int      `json:"total_waves"`
	EndlessRound     int      `json:"endless_round,omitempty"`
	LiveEnemyCount   int      `json:"live_enemy_count"`
	ActiveTasks      int      `json:"active_tasks"`
	ElapsedTime      float64  `json:"elapsed_time"`
}

type Event struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Type     string         `json:"type"`
	RunID    string         `json:"run_id,omitempty"`
	Wave     int            `json:"wave"`
	EntityID string         `json:"entity_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

type WaveRun struct {
	ID         string  `json:"id"`
	Wave       int     `json:"wave"`
	Mode       Mode    `json:"mode"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
	Outcome    string  `json:"outcome" enum:"running,completed,stopped"`
	Emitted    int     `json:"emitted"`
	Skipped    int     `json:"skipped"`
	Removed    int     `json:"removed"`
}

// APIKey grants a subject roles without a signed token. Only the hash of
// the key is stored.
type APIKey struct {
	ID        string   `json:"id"`
	Subject   string   `json:"subject"`
	Name      string   `json:"name,omitempty"`
	Roles     []string `json:"roles"`
	KeyHash   string   `json:"-"`
	CreatedAt string   `json:"created_at"`
}

const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// Event types written to the journal.
const (
	EventWaveStarted    = "wave.started"
	EventWaveDraining   = "wave.draining"
	EventWaveCooldown   = "wave.cooldown"
	EventWaveCompleted  = "wave.completed"
	EventWaveStopped    = "wave.stopped"
	EventWavesExhausted = "wave.exhausted"
	EventCatalogReset   = "catalog.reset"
	EventCatalogLoaded  = "catalog.loaded"
	EventCatalogWarning = "catalog.warning"
	EventEntitySpawned  = "entity.spawned"
	EventEntityRemoved  = "entity.removed"
	EventSpawnSkipped   = "spawn.skipped"
	EventTaskSkipped    = "task.skipped"
	EventTaskFinished   = "task.finished"
)
