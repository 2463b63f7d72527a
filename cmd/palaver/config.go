// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"
	"time"

	"github.com/creachadair/palaver"
	"github.com/creachadair/palaver/poll"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// Config holds the settings of the tool, read from the environment.
type Config struct {
	Name    string        `envconfig:"NAME" default:"dialog"`
	Dir     string        `envconfig:"DIR"`
	Poll    time.Duration `envconfig:"POLL" default:"200ms"`
	PID     int           `envconfig:"PID"`
	Verbose bool          `envconfig:"VERBOSE" default:"false"`
}

// envPrefix is the prefix of the environment variables read by LoadConfig.
const envPrefix = "PALAVER"

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Poll <= 0 {
		return nil, fmt.Errorf("invalid poll interval %v", cfg.Poll)
	}
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{Name: palaver.DefaultName, Poll: poll.DefaultInterval}
}

// flagSettings are the command-line flags. A flag that is set overrides the
// corresponding environment setting.
type flagSettings struct {
	Name    string        `flag:"name,Shared store name"`
	Dir     string        `flag:"dir,Directory for shared store files"`
	Poll    time.Duration `flag:"poll,Polling interval for chat"`
	PID     int           `flag:"pid,Process ID to act as (default: this process)"`
	Verbose bool          `flag:"v,Enable verbose logging"`
}

// Merge returns a copy of c with the non-zero settings of f applied.
func (c Config) Merge(f flagSettings) *Config {
	if f.Name != "" {
		c.Name = f.Name
	}
	if f.Dir != "" {
		c.Dir = f.Dir
	}
	if f.Poll > 0 {
		c.Poll = f.Poll
	}
	if f.PID != 0 {
		c.PID = f.PID
	}
	c.Verbose = c.Verbose || f.Verbose
	return &c
}

// Logger returns a development logger if verbose logging is enabled, or
// otherwise a logger that discards everything.
func (c *Config) Logger() (*zap.Logger, error) {
	if !c.Verbose {
		return zap.NewNop(), nil
	}
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// Options returns store options for c.
func (c *Config) Options(log *zap.Logger) *palaver.Options {
	return &palaver.Options{Name: c.Name, Dir: c.Dir, ProcessID: c.PID, Logger: log}
}
