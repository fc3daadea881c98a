package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"reflect"

	"github.com/jonboulle/clockwork"

	"waveline/internal/catalog"
	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/domain"
	"waveline/internal/engine"
	"waveline/internal/engine/auth"
	"waveline/internal/events"
	"waveline/internal/migrate"
	"waveline/internal/repo"
	"waveline/internal/ring"
	"waveline/internal/sim"
)

type Options struct {
	Workspace  string
	ConfigPath string
	Clock      clockwork.Clock
	Logger     *log.Logger
	// NoJournal skips opening the workspace database.
	NoJournal bool
}

// App is a workspace opened for play: the spawner ring, the simulated world,
// the orchestrator driving it and, unless disabled, the event journal.
type App struct {
	Workspace    string
	Config       *config.Config
	Points       []domain.SpawnPoint
	World        *sim.World
	Orchestrator *engine.Orchestrator
	Auth         auth.Service
	DB           *sql.DB
	Repo         repo.Repo
	Journal      events.Writer
	Logger       *log.Logger
}

// LoadConfig reads the config at path, or waveline.yml in the workspace.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.FromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.Load(workspace)
}

// ComponentLogger derives a logger that prefixes lines with the component name.
func ComponentLogger(base *log.Logger, component string) *log.Logger {
	if base == nil {
		base = log.Default()
	}
	return log.New(base.Writer(), component+": ", base.Flags())
}

// Open builds the whole stack for a workspace.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, opts, cfg)
}

// OpenWithConfig is Open with an already loaded config.
func OpenWithConfig(ctx context.Context, opts Options, cfg *config.Config) (*App, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	points, err := ring.Generate(cfg.Arena.Spawners, cfg.Arena.Radius, cfg.Arena.Height, cfg.Arena.Center)
	if err != nil {
		return nil, fmt.Errorf("build spawner ring: %w", err)
	}
	world := sim.New(sim.Options{
		Clock:       opts.Clock,
		Logger:      ComponentLogger(opts.Logger, "sim"),
		Tower:       cfg.Arena.Center.Position,
		TowerRadius: cfg.Sim.TowerRadius,
		Speed:       cfg.Sim.EnemySpeed,
		MaxAlive:    cfg.Sim.MaxAlive,
	})
	orch, err := engine.New(points, cfg.Waves, world, engine.Options{
		Clock:       opts.Clock,
		Logger:      ComponentLogger(opts.Logger, "engine"),
		Seed:        cfg.Spawning.Seed,
		Jitter:      cfg.Spawning.Jitter,
		Grace:       cfg.Grace(),
		MinInterval: cfg.Spawning.MinInterval,
		Mode:        cfg.Mode,
		Endless:     cfg.Endless,
	})
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}
	world.Bind(orch.OnEntityRemoved)

	a := &App{
		Workspace:    opts.Workspace,
		Config:       cfg,
		Points:       points,
		World:        world,
		Orchestrator: orch,
		Auth:         auth.New(cfg),
		Logger:       opts.Logger,
	}
	if opts.NoJournal {
		return a, nil
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	a.DB = conn
	a.Repo = repo.Repo{DB: conn}
	a.Journal = events.Writer{DB: conn, Mode: cfg.Mode, Logger: ComponentLogger(opts.Logger, "journal"), Now: opts.Clock.Now}
	orch.Subscribe(a.Journal)
	for _, w := range orch.Warnings() {
		a.journalWarning(ctx, w)
	}
	return a, nil
}

func (a *App) journalWarning(ctx context.Context, w catalog.Warning) {
	if a.DB == nil {
		return
	}
	ev := domain.Event{Type: domain.EventCatalogWarning, Wave: w.Wave, Payload: map[string]any{"task": w.Task, "message": w.Message}}
	if _, err := a.Journal.Append(ctx, ev); err != nil {
		a.Logger.Printf("WARNING: journal catalog warning: %v", err)
	}
}

// Reload applies the waves of a changed config. Geometry, mode and spawning
// settings are fixed for the life of the process; changes to them are logged
// and ignored.
func (a *App) Reload(cfg *config.Config) []catalog.Warning {
	if !reflect.DeepEqual(cfg.Arena, a.Config.Arena) || cfg.Mode != a.Config.Mode || cfg.Spawning != a.Config.Spawning {
		a.Logger.Printf("WARNING: config reload: arena, mode and spawning changes need a restart")
	}
	return a.Orchestrator.ReplaceCatalog(cfg.Waves)
}

// RemoveEntity kills a simulated enemy, which reports the removal to the
// orchestrator. It returns false when the handle is not alive.
func (a *App) RemoveEntity(h domain.EntityHandle) bool {
	return a.World.Kill(h)
}

func (a *App) Close() error {
	a.Orchestrator.Close()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
