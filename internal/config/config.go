package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"waveline/internal/catalog"
	"waveline/internal/domain"
)

const FileName = "waveline.yml"

// Config models waveline.yml.
type Config struct {
	Arena struct {
		Spawners int         `yaml:"spawners"`
		Radius   float64     `yaml:"radius"`
		Height   float64     `yaml:"height"`
		Center   domain.Pose `yaml:"center"`
	} `yaml:"arena"`
	Spawning struct {
		Jitter       float64 `yaml:"jitter"`
		MinInterval  float64 `yaml:"min_interval"`
		GraceSeconds float64 `yaml:"grace_seconds"`
		Seed         int64   `yaml:"seed"`
	} `yaml:"spawning"`
	Mode    domain.Mode             `yaml:"mode"`
	Endless catalog.EndlessSettings `yaml:"endless"`
	Waves   []domain.WaveSpec       `yaml:"waves"`
	Sim     SimConfig               `yaml:"sim"`
	Server  struct {
		Addr           string `yaml:"addr"`
		AllowAnonymous bool   `yaml:"allow_anonymous"`
		StatusEveryMS  int    `yaml:"status_every_ms"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	RBAC     struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type SimConfig struct {
	EnemySpeed  float64 `yaml:"enemy_speed"`
	TowerRadius float64 `yaml:"tower_radius"`
	MaxAlive    int     `yaml:"max_alive"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Grace returns the cooldown between a drained wave and its completion.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Spawning.GraceSeconds * float64(time.Second))
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with wavectl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate rejects configurations the engine cannot start with. Wave data is
// not checked here; it is normalized with warnings instead.
func (c *Config) Validate() error {
	if c.Arena.Spawners < 3 {
		return fmt.Errorf("config.arena.spawners must be at least 3, got %d", c.Arena.Spawners)
	}
	if c.Arena.Radius <= 0 {
		return fmt.Errorf("config.arena.radius must be positive")
	}
	switch c.Mode {
	case domain.ModeOrdered, domain.ModeEndless:
	default:
		return fmt.Errorf("config.mode must be ordered or endless, got %q", c.Mode)
	}
	if c.Spawning.GraceSeconds < 0 {
		return fmt.Errorf("config.spawning.grace_seconds must not be negative")
	}
	if c.Spawning.Jitter < 0 {
		return fmt.Errorf("config.spawning.jitter must not be negative")
	}
	if c.Mode == domain.ModeEndless && c.Endless.MaxEnemies < 1 {
		return fmt.Errorf("config.endless.max_enemies must be at least 1 in endless mode")
	}
	if c.Sim.EnemySpeed <= 0 {
		return fmt.Errorf("config.sim.enemy_speed must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// Authored waves replace the sample ones rather than merging into them.
	cfg.Waves = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `arena:
  spawners: 5
  radius: 15
  height: 0.5
  center:
    position: {x: 0, y: 0, z: 0}
    yaw: 0

spawning:
  jitter: 1.0
  min_interval: 0.01
  grace_seconds: 3

mode: ordered

endless:
  max_enemies: 10
  growth: 2
  spawn_rate: 1.0

waves:
  - tasks:
      - {spawner: 0, count: 3, interval: 1.0}
      - {spawner: 1, count: 3, interval: 1.0}
  - tasks:
      - {spawner: 2, count: 5, interval: 0.5}
      - {spawner: 3, count: 5, interval: 0.5}
      - {spawner: 4, count: 2, interval: 2.0}

sim:
  enemy_speed: 3.0
  tower_radius: 1.5
  max_alive: 200

server:
  addr: 127.0.0.1:8420
  allow_anonymous: false
  status_every_ms: 1000

rbac:
  roles:
    operator:
      description: "Starts, stops and resets waves"
      permissions: [wave.read, wave.control, entity.remove]
    viewer:
      description: "Reads status and the journal"
      permissions: [wave.read]
    anonymous:
      description: "Unauthenticated access when enabled"
      permissions: [wave.read]
`
