package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the binaries look for in the working
// directory.
const DefaultPath = "ducker.yml"

type Config struct {
	Version   string    `yaml:"version" json:"version"`
	Server    Server    `yaml:"server" json:"server"`
	Storage   Storage   `yaml:"storage" json:"storage"`
	Log       Log       `yaml:"log" json:"log"`
	Sync      Sync      `yaml:"sync" json:"sync"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry"`
}

type Server struct {
	Addr          string `yaml:"addr" json:"addr"`
	StaticDir     string `yaml:"static_dir" json:"static_dir"`
	UseDiskStatic bool   `yaml:"use_disk_static" json:"use_disk_static"`
	// Token, when set, is required on every /api/ request.
	Token string `yaml:"token" json:"-"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRemote = "remote"
)

type Storage struct {
	Backend   string `yaml:"backend" json:"backend"`
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	RemoteURL string `yaml:"remote_url" json:"remote_url"`
	// RemoteToken is sent to the remote server as a bearer token.
	RemoteToken string `yaml:"remote_token" json:"-"`
	// Watch enables the database file watcher for the sqlite backend so
	// writes from other processes reach subscribers.
	Watch bool `yaml:"watch" json:"watch"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Sync struct {
	Heartbeat time.Duration `yaml:"heartbeat" json:"heartbeat"`
	Reconnect time.Duration `yaml:"reconnect" json:"reconnect"`
	Debounce  time.Duration `yaml:"debounce" json:"debounce"`
}

type Telemetry struct {
	Limit int `yaml:"limit" json:"limit"`
}

func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

func (s *Server) ApplyDefaults() {
	if s.Addr == "" {
		s.Addr = ":42069"
	}
	if s.StaticDir == "" {
		s.StaticDir = "static"
	}
}

func (s *Storage) ApplyDefaults() {
	if s.Backend == "" {
		s.Backend = BackendSQLite
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
}

func (l *Log) ApplyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

func (s *Sync) ApplyDefaults() {
	if s.Heartbeat == 0 {
		s.Heartbeat = 25 * time.Second
	}
	if s.Reconnect == 0 {
		s.Reconnect = 2 * time.Second
	}
	if s.Debounce == 0 {
		s.Debounce = 100 * time.Millisecond
	}
}

func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	c.Server.ApplyDefaults()
	c.Storage.ApplyDefaults()
	c.Log.ApplyDefaults()
	c.Sync.ApplyDefaults()
	if c.Telemetry.Limit == 0 {
		c.Telemetry.Limit = 1000
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	case BackendRemote:
		if strings.TrimSpace(c.Storage.RemoteURL) == "" {
			errs = append(errs, errors.New("storage.remote_url is required for the remote backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want memory, file, sqlite or remote", c.Storage.Backend))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want json or console", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.Heartbeat < 0 || c.Sync.Reconnect < 0 || c.Sync.Debounce < 0 {
		errs = append(errs, errors.New("sync durations must not be negative"))
	}
	if c.Telemetry.Limit < 0 {
		errs = append(errs, errors.New("telemetry.limit must not be negative"))
	}
	return errors.Join(errs...)
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Config
	if err := yaml.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	r.ApplyDefaults()
	return &r, nil
}

// LoadOrDefault reads path if it exists, falls back to defaults otherwise,
// then applies environment overrides and validates the result.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = Default()
	case err != nil:
		return nil, err
	}
	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
