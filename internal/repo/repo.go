package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"waveline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// EventFilters narrows journal queries. Cursor pages backwards: only events
// with an ID below it are returned.
type EventFilters struct {
	Limit  int
	Cursor int64
	Type   string
	RunID  string
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var e domain.Event
	var runID, entityID sql.NullString
	var payload string
	if err := row.Scan(&e.ID, &e.TS, &e.Type, &runID, &e.Wave, &entityID, &payload); err != nil {
		return e, err
	}
	e.RunID = runID.String
	e.EntityID = entityID.String
	if payload != "" && payload != "{}" {
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return e, fmt.Errorf("decode payload of event %d: %w", e.ID, err)
		}
	}
	return e, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

const eventColumns = `id,ts,type,run_id,wave,entity_id,payload`

// InsertEventTx appends ev to the journal and returns its ID.
func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, ev domain.Event) (int64, error) {
	payload := "{}"
	if len(ev.Payload) > 0 {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(data)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,run_id,wave,entity_id,payload) VALUES (?,?,?,?,?,?)`,
		ev.TS, ev.Type, nullable(ev.RunID), ev.Wave, nullable(ev.EntityID), payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestEvents returns journal entries newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id=?")
		args = append(args, f.RunID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id DESC LIMIT ?`, eventColumns, where)
	args = append(args, f.Limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, eventColumns)
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID, or 0 for an empty journal.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.WaveRun) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO wave_runs(id,wave,mode,started_at,outcome) VALUES (?,?,?,?,?)`,
		run.ID, run.Wave, string(run.Mode), run.StartedAt, domain.OutcomeRunning)
	return err
}

// FinishRunTx closes a run with its final counters. Closing an unknown or
// already finished run is reported as ErrNotFound.
func (r Repo) FinishRunTx(ctx context.Context, tx *sql.Tx, run domain.WaveRun) error {
	res, err := tx.ExecContext(ctx, `UPDATE wave_runs SET finished_at=?, outcome=?, emitted=?, skipped=?, removed=? WHERE id=? AND finished_at IS NULL`,
		nullableStringPtr(run.FinishedAt), run.Outcome, run.Emitted, run.Skipped, run.Removed, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id,wave,mode,started_at,finished_at,outcome,emitted,skipped,removed`

func scanRun(row rowScanner) (domain.WaveRun, error) {
	var run domain.WaveRun
	var mode string
	var finished sql.NullString
	if err := row.Scan(&run.ID, &run.Wave, &mode, &run.StartedAt, &finished, &run.Outcome, &run.Emitted, &run.Skipped, &run.Removed); err != nil {
		return run, err
	}
	run.Mode = domain.Mode(mode)
	if finished.Valid {
		v := finished.String
		run.FinishedAt = &v
	}
	return run, nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.WaveRun, error) {
	run, err := scanRun(r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM wave_runs WHERE id=?`, runColumns), id))
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

// ListRuns returns wave runs, most recent first.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.WaveRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM wave_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, runColumns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WaveRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// CountEventsByType summarizes the journal, optionally for one run.
func (r Repo) CountEventsByType(ctx context.Context, runID string) (map[string]int, error) {
	query := `SELECT type, COUNT(*) FROM events GROUP BY type`
	var args []any
	if runID != "" {
		query = `SELECT type, COUNT(*) FROM events WHERE run_id=? GROUP BY type`
		args = append(args, runID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		res[typ] = n
	}
	return res, rows.Err()
}
