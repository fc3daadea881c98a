package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"waveline/internal/config"
	"waveline/internal/db"
	"waveline/internal/domain"
	"waveline/internal/migrate"
	"waveline/internal/repo"
)

func appendEvents(t *testing.T, r repo.Repo, types ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, typ := range types {
		if _, err := r.InsertEventTx(ctx, tx, domain.Event{TS: "2026-01-01T00:00:00Z", Type: typ, RunID: "run-1"}); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestWebhookDispatcherDeliversNewMatchingEvents(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}

	var mu sync.Mutex
	var got []webhookEvent
	fail := true
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			t.Errorf("read webhook body: %v", err)
		}
		var evt webhookEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		if want := "sha256=" + signPayload(body, "s3cret"); req.Header.Get("X-Waveline-Signature") != want {
			t.Errorf("signature %q, want %q", req.Header.Get("X-Waveline-Signature"), want)
		}
		if req.Header.Get("X-Waveline-Event") != evt.Type {
			t.Errorf("event header %q, body %q", req.Header.Get("X-Waveline-Event"), evt.Type)
		}
		got = append(got, evt)
	}))
	defer hook.Close()

	appendEvents(t, r, "wave.started")
	d := NewWebhookDispatcher(r, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"wave.completed", "wave.stopped"},
		Secret: "s3cret",
	}}, log.New(io.Discard, "", 0))

	ctx := context.Background()
	d.DispatchAll(ctx)
	appendEvents(t, r, "enemy.spawned", "wave.completed", "wave.stopped")

	// first delivery fails and is retried on the next pass
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Type != "wave.completed" || got[1].Type != "wave.stopped" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if got[0].RunID != "run-1" {
		t.Fatalf("missing run id: %+v", got[0])
	}
}
