// Copyright 2026 The Galaxy Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for a single machine running every rank.
	Development Environment = "development"
	// Production is for a cluster deployment.
	Production Environment = "production"
)

// Config is the configuration shared by every rank of a Galaxy server.
// A rank's own index is not part of the file: all ranks read the same
// file and are told their rank on the command line.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Cluster configures the rank mesh.
	Cluster ClusterConfig `yaml:"cluster"`

	// Control configures the interactive control socket served by rank 0.
	Control ControlConfig `yaml:"control"`

	// Admin configures the operator socket served by rank 0.
	Admin AdminConfig `yaml:"admin"`

	// Render configures ray generation.
	Render RenderConfig `yaml:"render"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Per-environment overrides, applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per-environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Cluster *ClusterConfig `yaml:"cluster,omitempty"`
	Control *ControlConfig `yaml:"control,omitempty"`
	Admin   *AdminConfig   `yaml:"admin,omitempty"`
	Render  *RenderConfig  `yaml:"render,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Galaxy runtime files.
	// Default: ${HOME}/.galaxy
	Root string `yaml:"root"`

	// State is the directory relative state document paths are
	// resolved against.
	// Default: ${GALAXY_ROOT}/state
	State string `yaml:"state"`
}

// ClusterConfig configures the rank mesh.
type ClusterConfig struct {
	// Peers holds the mesh listen address of every rank, indexed by
	// rank. The cluster size is len(Peers).
	Peers []string `yaml:"peers"`

	// DialTimeout bounds mesh setup, as a Go duration string.
	// Default: 30s
	DialTimeout string `yaml:"dial_timeout"`

	// Compression names the payload compression for mesh frames:
	// none, lz4, zstd or bg4_lz4.
	// Default: lz4
	Compression string `yaml:"compression"`

	// CompressThreshold is the payload size in bytes above which
	// frames are compressed.
	// Default: 4096
	CompressThreshold int `yaml:"compress_threshold"`
}

// ControlConfig configures the interactive control socket.
type ControlConfig struct {
	// Listen is the TCP address of the control socket.
	// Default: :5001
	Listen string `yaml:"listen"`

	// PollInterval is how often the render worker checks for cursor
	// movement, as a Go duration string.
	// Default: 10ms
	PollInterval string `yaml:"poll_interval"`
}

// AdminConfig configures the operator socket.
type AdminConfig struct {
	// SocketPath is the Unix socket galaxy-ctl queries.
	// Default: ${GALAXY_ROOT}/run/admin.sock
	SocketPath string `yaml:"socket_path"`
}

// RenderConfig configures ray generation.
type RenderConfig struct {
	// BatchSize bounds the rays per ray list. Zero means one image row
	// per list.
	BatchSize int `yaml:"batch_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns a Config for a single rank in development.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  "${HOME}/.galaxy",
			State: "${GALAXY_ROOT}/state",
		},
		Cluster: ClusterConfig{
			Peers:             []string{"127.0.0.1:5100"},
			DialTimeout:       "30s",
			Compression:       "lz4",
			CompressThreshold: 4096,
		},
		Control: ControlConfig{
			Listen:       ":5001",
			PollInterval: "10ms",
		},
		Admin: AdminConfig{
			SocketPath: "${GALAXY_ROOT}/run/admin.sock",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file named by GALAXY_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv("GALAXY_CONFIG")
	if path == "" {
		return nil, errors.New("GALAXY_CONFIG environment variable not set; use --config or set GALAXY_CONFIG")
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path over the defaults, applies
// the overrides for the file's environment, expands path variables and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides merges the section matching c.Environment
// over the base values. Empty override fields leave the base alone.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.State != "" {
			c.Paths.State = overrides.Paths.State
		}
	}

	if overrides.Cluster != nil {
		if len(overrides.Cluster.Peers) > 0 {
			c.Cluster.Peers = overrides.Cluster.Peers
		}
		if overrides.Cluster.DialTimeout != "" {
			c.Cluster.DialTimeout = overrides.Cluster.DialTimeout
		}
		if overrides.Cluster.Compression != "" {
			c.Cluster.Compression = overrides.Cluster.Compression
		}
		if overrides.Cluster.CompressThreshold != 0 {
			c.Cluster.CompressThreshold = overrides.Cluster.CompressThreshold
		}
	}

	if overrides.Control != nil {
		if overrides.Control.Listen != "" {
			c.Control.Listen = overrides.Control.Listen
		}
		if overrides.Control.PollInterval != "" {
			c.Control.PollInterval = overrides.Control.PollInterval
		}
	}

	if overrides.Admin != nil && overrides.Admin.SocketPath != "" {
		c.Admin.SocketPath = overrides.Admin.SocketPath
	}

	if overrides.Render != nil && overrides.Render.BatchSize != 0 {
		c.Render.BatchSize = overrides.Render.BatchSize
	}

	if overrides.Log != nil && overrides.Log.Level != "" {
		c.Log.Level = overrides.Log.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"GALAXY_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["GALAXY_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Admin.SocketPath = expandVars(c.Admin.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Names in vars
// take precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var (
	compressionNames = []string{"none", "lz4", "zstd", "bg4_lz4"}
	logLevels        = []string{"debug", "info", "warn", "error"}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}

	if len(c.Cluster.Peers) == 0 {
		errs = append(errs, errors.New("cluster.peers needs at least one address"))
	}
	for rank, peer := range c.Cluster.Peers {
		if peer == "" {
			errs = append(errs, fmt.Errorf("cluster.peers[%d] is empty", rank))
		}
	}
	if _, err := time.ParseDuration(c.Cluster.DialTimeout); err != nil {
		errs = append(errs, fmt.Errorf("cluster.dial_timeout: %w", err))
	}
	if !contains(compressionNames, c.Cluster.Compression) {
		errs = append(errs, fmt.Errorf("cluster.compression must be one of: %v", compressionNames))
	}
	if c.Cluster.CompressThreshold < 0 {
		errs = append(errs, errors.New("cluster.compress_threshold must not be negative"))
	}

	if c.Control.Listen == "" {
		errs = append(errs, errors.New("control.listen is required"))
	}
	if interval, err := time.ParseDuration(c.Control.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("control.poll_interval: %w", err))
	} else if interval <= 0 {
		errs = append(errs, errors.New("control.poll_interval must be positive"))
	}

	if c.Admin.SocketPath == "" {
		errs = append(errs, errors.New("admin.socket_path is required"))
	}

	if c.Render.BatchSize < 0 {
		errs = append(errs, errors.New("render.batch_size must not be negative"))
	}

	if !contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Size returns the number of ranks in the cluster.
func (c *Config) Size() int { return len(c.Cluster.Peers) }

// DialTimeout returns cluster.dial_timeout. The value has been checked
// by Validate.
func (c *Config) DialTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Cluster.DialTimeout)
	return timeout
}

// PollInterval returns control.poll_interval. The value has been
// checked by Validate.
func (c *Config) PollInterval() time.Duration {
	interval, _ := time.ParseDuration(c.Control.PollInterval)
	return interval
}

// EnsurePaths creates the configured directories and the admin
// socket's parent if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		filepath.Dir(c.Admin.SocketPath),
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
