// Package config loads the client configuration from a YAML file with
// environment overrides. A missing config file is written out with the
// defaults so a fresh install starts from a file the operator can edit.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type (
	// Config is the full client configuration.
	Config struct {
		App     App     `yaml:"app"`
		Backend Backend `yaml:"backend"`
		State   State   `yaml:"state"`
		Log     Log     `yaml:"logger"`
	}

	App struct {
		Name string `yaml:"name" env:"APP_NAME"`
	}

	// Backend locates the ERP endpoints. LoginURL is separate from the base
	// URL because credentials go to a same-origin endpoint.
	Backend struct {
		BaseURL  string        `yaml:"base_url" env:"BACKEND_BASE_URL"`
		LoginURL string        `yaml:"login_url" env:"BACKEND_LOGIN_URL"`
		Timeout  time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
	}

	// State configures local persistence and caching.
	State struct {
		Dir      string        `yaml:"dir" env:"STATE_DIR"`
		CacheTTL time.Duration `yaml:"cache_ttl" env:"STATE_CACHE_TTL"`
	}

	Log struct {
		Level string `yaml:"log_level" env:"LOG_LEVEL"`
	}
)

// Default constructs the in-memory default configuration.
func Default() *Config {
	return &Config{
		App: App{
			Name: "erp-session",
		},
		Backend: Backend{
			BaseURL:  "http://localhost:8080",
			LoginURL: "http://localhost:8080/login",
			Timeout:  30 * time.Second,
		},
		State: State{
			Dir:      defaultStateDir(),
			CacheTTL: 5 * time.Minute,
		},
		Log: Log{
			Level: "info",
		},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".erp-session"
	}
	return filepath.Join(home, ".erp-session")
}

// SnapshotPath is where the session snapshot lives under the state dir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.State.Dir, "snapshot.json")
}

// CredentialPath is where the bearer token lives under the state dir.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.State.Dir, "credential.json")
}

// New loads the configuration from configPath, creating the file with the
// defaults when it does not exist, then applies environment overrides.
func New(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = filepath.Join(defaultStateDir(), "config.yml")
	}

	if err := readOrInit(configPath, cfg); err != nil {
		return nil, errors.Wrap(err, "[New] read config")
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "[New] read environment")
	}

	return cfg, nil
}

// readOrInit reads the config file, writing cfg out as the initial file when
// none exists yet.
func readOrInit(configPath string, cfg *Config) error {
	err := cleanenv.ReadConfig(configPath, cfg)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return err
	}

	if mkErr := os.MkdirAll(filepath.Dir(configPath), 0o755); mkErr != nil {
		return mkErr
	}

	file, cErr := os.Create(configPath)
	if cErr != nil {
		return cErr
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	defer encoder.Close()

	return encoder.Encode(cfg)
}
