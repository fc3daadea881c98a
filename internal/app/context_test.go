package app

import (
	"context"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"waveline/internal/config"
	"waveline/internal/domain"
	"waveline/internal/repo"
)

func writeConfig(t *testing.T, dir, doc string) {
	t.Helper()
	if err := os.WriteFile(config.Path(dir), []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestOpenWiresJournal(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
waves:
  - tasks:
      - {spawner: 1, count: 2, interval: 0.5}
      - {spawner: 1, count: 2, interval: 0.5}
`)
	fc := clockwork.NewFakeClock()
	a, err := Open(context.Background(), Options{Workspace: dir, Clock: fc, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if len(a.Points) != 5 {
		t.Fatalf("points %d", len(a.Points))
	}
	ctx := context.Background()
	warnings, err := a.Repo.LatestEvents(ctx, repo.EventFilters{Type: domain.EventCatalogWarning})
	if err != nil || len(warnings) != 1 {
		t.Fatalf("expected one journaled warning, got %v (%v)", warnings, err)
	}

	if err := a.Orchestrator.StartNextWave(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	runs, err := a.Repo.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 || runs[0].Outcome != domain.OutcomeRunning {
		t.Fatalf("runs %+v, %v", runs, err)
	}
	if err := a.Orchestrator.StopCurrentWave(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	run, err := a.Repo.GetRun(ctx, runs[0].ID)
	if err != nil || run.Outcome != domain.OutcomeStopped {
		t.Fatalf("run %+v, %v", run, err)
	}
}

func TestSimulatedWaveCompletes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
arena: {spawners: 4, radius: 7}
spawning: {grace_seconds: 1, jitter: 0}
sim: {enemy_speed: 2, tower_radius: 1}
waves:
  - tasks:
      - {spawner: 0, count: 2, interval: 1}
`)
	fc := clockwork.NewFakeClock()
	a, err := Open(context.Background(), Options{Workspace: dir, Clock: fc, Logger: log.New(io.Discard, "", 0), NoJournal: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if err := a.Orchestrator.StartNextWave(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// enemies need 3s to reach the tower; step the clock until the wave resolves
	deadline := time.Now().Add(5 * time.Second)
	for steps := 0; a.Orchestrator.Status().State != domain.StateIdle; steps++ {
		if time.Now().After(deadline) || steps > 1000 {
			t.Fatalf("wave did not complete: %+v", a.Orchestrator.Status())
		}
		fc.Advance(100 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	if s := a.World.Stats(); s.Spawned != 2 || s.Leaked != 2 || s.Alive != 0 {
		t.Fatalf("sim stats %+v", s)
	}
}
