package wavelinesdk_test

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"waveline/internal/app"
	"waveline/internal/config"
	"waveline/internal/domain"
	"waveline/internal/repo"
	"waveline/internal/server"
	wavelinesdk "waveline/sdk/go"
)

func newClient(t *testing.T, roles ...string) (*wavelinesdk.Client, *app.App) {
	t.Helper()
	a, err := app.OpenWithConfig(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Clock:     clockwork.NewFakeClock(),
		Logger:    log.New(io.Discard, "", 0),
	}, config.Default())
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	handler, err := server.New(server.Config{App: a, Auth: server.AuthConfig{JWTSecret: "sdk", Logger: log.New(io.Discard, "", 0)}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	token, err := server.SignToken("sdk", "sdk-test", roles, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c := wavelinesdk.New(srv.URL)
	c.BearerToken = token
	return c, a
}

func TestClientControlsWaves(t *testing.T) {
	c, _ := newClient(t, "operator")
	ctx := context.Background()

	st, err := c.StartNextWave(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.State != "running" || st.CurrentWaveIndex != 1 {
		t.Fatalf("status after start %+v", st)
	}
	if _, err := c.StartNextWave(ctx); !wavelinesdk.IsCode(err, "wave_active") {
		t.Fatalf("expected wave_active, got %v", err)
	}
	if st, err = c.StopWave(ctx); err != nil || st.State != "idle" {
		t.Fatalf("stop: %+v %v", st, err)
	}
	if err := c.RemoveEntity(ctx, "missing"); !wavelinesdk.IsCode(err, "not_found") {
		t.Fatalf("expected not_found, got %v", err)
	}

	cat, err := c.Catalog(ctx)
	if err != nil || len(cat.Waves) != 2 || cat.Cursor != 1 {
		t.Fatalf("catalog %+v %v", cat, err)
	}
	points, err := c.Spawners(ctx)
	if err != nil || len(points) != 5 {
		t.Fatalf("spawners %+v %v", points, err)
	}
	runs, err := c.Runs(ctx, 5)
	if err != nil || len(runs) != 1 || runs[0].Outcome != "stopped" {
		t.Fatalf("runs %+v %v", runs, err)
	}
	page, err := c.EventsPage(ctx, 10, "", "wave.started")
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("events %+v %v", page, err)
	}
}

func TestClientForbidden(t *testing.T) {
	c, _ := newClient(t, "viewer")
	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("viewer status: %v", err)
	}
	if _, err := c.Reset(context.Background()); !wavelinesdk.IsCode(err, "forbidden") {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestClientAPIKey(t *testing.T) {
	c, a := newClient(t)
	ctx := context.Background()
	secret, err := repo.NewAPIKeySecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	key := domain.APIKey{ID: "sdk-key", Subject: "bot", Roles: []string{"operator"}, KeyHash: repo.HashAPIKey(secret)}
	if err := a.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	c.BearerToken = ""
	c.APIKey = secret
	st, err := c.StartNextWave(ctx)
	if err != nil || st.State != "running" {
		t.Fatalf("start with api key: %+v %v", st, err)
	}
	c.APIKey = "wvl_revoked"
	if _, err := c.Status(ctx); !wavelinesdk.IsCode(err, "invalid_credentials") {
		t.Fatalf("expected invalid_credentials, got %v", err)
	}
}
