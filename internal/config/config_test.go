package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"waveline/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Arena.Spawners != 5 || cfg.Mode != domain.ModeOrdered {
		t.Fatalf("unexpected defaults: %+v", cfg.Arena)
	}
	if len(cfg.Waves) != 2 || cfg.Grace() != 3*time.Second {
		t.Fatalf("unexpected default waves or grace")
	}
	if perms := cfg.RBAC.Roles["operator"].Permissions; len(perms) != 3 {
		t.Fatalf("operator permissions %v", perms)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
arena:
  spawners: 8
mode: endless
waves:
  - tasks:
      - {spawner: 7, count: 2, interval: 0.25}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Arena.Spawners != 8 || cfg.Arena.Radius != 15 {
		t.Fatalf("arena not merged: %+v", cfg.Arena)
	}
	if len(cfg.Waves) != 1 || cfg.Waves[0].Tasks[0].Spawner != 7 {
		t.Fatalf("authored waves should replace samples: %+v", cfg.Waves)
	}
	if cfg.Endless.MaxEnemies != 10 {
		t.Fatalf("endless defaults lost: %+v", cfg.Endless)
	}
}

func TestValidateRejectsBadArena(t *testing.T) {
	cases := map[string]string{
		"spawners": "arena: {spawners: 2}",
		"radius":   "arena: {radius: 0}",
		"mode":     "mode: random",
		"webhook":  "webhooks: [{events: [wave.started]}]",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := FromYAML([]byte("arena: [")); err == nil || !strings.Contains(err.Error(), "invalid config yaml") {
		t.Fatalf("expected yaml error, got %v", err)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sim.MaxAlive != 200 {
		t.Fatalf("sim config %+v", cfg.Sim)
	}
}
