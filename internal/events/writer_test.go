package events_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"waveline/internal/db"
	"waveline/internal/domain"
	"waveline/internal/events"
	"waveline/internal/migrate"
	"waveline/internal/repo"
)

func openJournal(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestWriterTracksRunLifecycle(t *testing.T) {
	conn := openJournal(t)
	w := events.Writer{DB: conn, Mode: domain.ModeOrdered, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	ctx := context.Background()

	w.Observe(domain.Event{Type: domain.EventWaveStarted, RunID: "run-1", Wave: 0, Payload: map[string]any{"tasks": 2}})
	w.Observe(domain.Event{Type: domain.EventEntitySpawned, RunID: "run-1", Wave: 0, EntityID: "e1"})
	r := repo.Repo{DB: conn}
	run, err := r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Outcome != domain.OutcomeRunning || run.FinishedAt != nil || run.Mode != domain.ModeOrdered {
		t.Fatalf("unexpected open run: %+v", run)
	}

	// counters arrive as int64 from the orchestrator
	w.Observe(domain.Event{Type: domain.EventWaveStopped, RunID: "run-1", Wave: 0, Payload: map[string]any{"emitted": int64(4), "skipped": int64(1), "removed": int64(2)}})
	run, err = r.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Outcome != domain.OutcomeStopped || run.FinishedAt == nil || run.Emitted != 4 || run.Skipped != 1 || run.Removed != 2 {
		t.Fatalf("run not finished: %+v", run)
	}
	if run.StartedAt != "2024-01-01T00:00:00Z" {
		t.Fatalf("started_at %q", run.StartedAt)
	}

	// a second end event for the same run is ignored
	if _, err := w.Append(ctx, domain.Event{Type: domain.EventWaveCompleted, RunID: "run-1"}); err != nil {
		t.Fatalf("duplicate finish should not fail: %v", err)
	}
	if _, err := r.GetRun(ctx, "missing"); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJournalQueries(t *testing.T) {
	conn := openJournal(t)
	w := events.Writer{DB: conn}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := w.Append(ctx, domain.Event{Type: domain.EventEntitySpawned, RunID: "r", Wave: 1, EntityID: "e", Payload: map[string]any{"spawner": i}}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := w.Append(ctx, domain.Event{Type: domain.EventCatalogReset, Wave: -1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	r := repo.Repo{DB: conn}

	latest, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 3})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 3 || latest[0].Type != domain.EventCatalogReset || latest[0].ID != 6 {
		t.Fatalf("unexpected latest page: %+v", latest)
	}
	next, err := r.LatestEvents(ctx, repo.EventFilters{Limit: 10, Cursor: latest[2].ID, Type: domain.EventEntitySpawned})
	if err != nil {
		t.Fatalf("next page: %v", err)
	}
	if len(next) != 3 || next[0].ID != 3 {
		t.Fatalf("unexpected second page: %+v", next)
	}
	if spawner, _ := next[0].Payload["spawner"].(float64); spawner != 2 {
		t.Fatalf("payload not round tripped: %v", next[0].Payload)
	}

	after, err := r.EventsAfter(ctx, 100, 4)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after) != 2 || after[0].ID != 5 {
		t.Fatalf("unexpected events after 4: %+v", after)
	}
	maxID, err := r.LatestEventID(ctx)
	if err != nil || maxID != 6 {
		t.Fatalf("latest id %d, %v", maxID, err)
	}
	counts, err := r.CountEventsByType(ctx, "r")
	if err != nil || counts[domain.EventEntitySpawned] != 5 || counts[domain.EventCatalogReset] != 0 {
		t.Fatalf("counts %v, %v", counts, err)
	}
}
