package app

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"waveline/internal/domain"
)

func TestPlayFastRunsCatalogue(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
arena: {spawners: 4, radius: 7}
spawning: {grace_seconds: 1, jitter: 0}
sim: {enemy_speed: 2, tower_radius: 1}
waves:
  - tasks:
      - {spawner: 0, count: 2, interval: 1}
  - tasks:
      - {spawner: 1, count: 1, interval: 0.5}
      - {spawner: 2, count: 1, interval: 0.5}
`)
	fc := clockwork.NewFakeClock()
	a, err := Open(context.Background(), Options{Workspace: dir, Clock: fc, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var spawned atomic.Int32
	summaries, err := a.Play(ctx, PlayOptions{
		Fast: fc,
		Step: 100 * time.Millisecond,
		OnEvent: func(ev domain.Event) {
			if ev.Type == domain.EventEntitySpawned {
				spawned.Add(1)
			}
		},
	})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries %+v", summaries)
	}
	for i, s := range summaries {
		if s.Wave != i || s.Outcome != domain.OutcomeCompleted || s.Emitted != 2 || s.Removed != 2 {
			t.Fatalf("summary %d: %+v", i, s)
		}
	}
	// two spawns one second apart, three seconds of walking, one second of grace
	if summaries[0].Elapsed < 5.9 {
		t.Fatalf("first wave finished after %.2fs", summaries[0].Elapsed)
	}
	if spawned.Load() != 4 {
		t.Fatalf("spawned %d", spawned.Load())
	}
	if st := a.Orchestrator.Status(); st.State != domain.StateIdle || st.CurrentWaveIndex != 2 {
		t.Fatalf("status after play %+v", st)
	}
	runs, err := a.Repo.ListRuns(ctx, 10)
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs %+v %v", runs, err)
	}
}

func TestPlayEndlessNeedsLimit(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
mode: endless
waves:
  - tasks:
      - {spawner: 0, count: 1, interval: 1}
`)
	a, err := Open(context.Background(), Options{Workspace: dir, Clock: clockwork.NewFakeClock(), Logger: log.New(io.Discard, "", 0), NoJournal: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if _, err := a.Play(context.Background(), PlayOptions{}); err == nil {
		t.Fatalf("expected an error without a wave limit")
	}
}
