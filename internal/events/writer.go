package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"waveline/internal/domain"
	"waveline/internal/repo"
)

// Writer journals orchestrator events and keeps the wave_runs table in step
// with run starts and ends.
type Writer struct {
	DB     *sql.DB
	Mode   domain.Mode
	Logger *log.Logger
	Now    func() time.Time
}

// Observe implements engine.Observer. Storage errors are logged, never
// returned to the orchestrator.
func (w Writer) Observe(ev domain.Event) {
	if _, err := w.Append(context.Background(), ev); err != nil {
		w.logger().Printf("WARNING: journal: %s: %v", ev.Type, err)
	}
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// Append stores ev and returns its journal ID.
func (w Writer) Append(ctx context.Context, ev domain.Event) (int64, error) {
	if ev.TS == "" {
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		ev.TS = now().UTC().Format(time.RFC3339Nano)
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	r := repo.Repo{DB: w.DB}
	id, err := r.InsertEventTx(ctx, tx, ev)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	switch ev.Type {
	case domain.EventWaveStarted:
		mode := w.Mode
		if m, ok := ev.Payload["mode"].(string); ok && m != "" {
			mode = domain.Mode(m)
		}
		if err := r.InsertRunTx(ctx, tx, domain.WaveRun{ID: ev.RunID, Wave: ev.Wave, Mode: mode, StartedAt: ev.TS}); err != nil {
			return 0, fmt.Errorf("insert run: %w", err)
		}
	case domain.EventWaveCompleted, domain.EventWaveStopped:
		outcome := domain.OutcomeCompleted
		if ev.Type == domain.EventWaveStopped {
			outcome = domain.OutcomeStopped
		}
		ts := ev.TS
		run := domain.WaveRun{
			ID:         ev.RunID,
			FinishedAt: &ts,
			Outcome:    outcome,
			Emitted:    payloadInt(ev.Payload, "emitted"),
			Skipped:    payloadInt(ev.Payload, "skipped"),
			Removed:    payloadInt(ev.Payload, "removed"),
		}
		if err := r.FinishRunTx(ctx, tx, run); err != nil && !errors.Is(err, repo.ErrNotFound) {
			return 0, fmt.Errorf("finish run: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// payloadInt reads a counter that may have been through a JSON round trip.
func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
