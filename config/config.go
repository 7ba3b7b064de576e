// Package config handles sonagi.toml emulator configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the emulator configuration loaded from sonagi.toml.
type Config struct {
	App     App     `toml:"app"`
	Screen  Screen  `toml:"screen"`
	Records Records `toml:"records"`
	Input   Input   `toml:"input"`

	// Dir is the directory containing the sonagi.toml file (set at load time).
	Dir string `toml:"-"`
}

// App overrides archive descriptor values.
type App struct {
	// Entry overrides the archive's entry class (slash-separated name).
	Entry string `toml:"entry"`
	// ID scopes record names; defaults to the archive's AppName.
	ID string `toml:"id"`
}

// Screen configures the emulated display.
type Screen struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
	// Scale is the window pixel scale factor.
	Scale int `toml:"scale"`
}

// Records configures the persistence backing.
type Records struct {
	// Path of the sqlite record database. Empty keeps records in memory.
	Path string `toml:"path"`
}

// Input selects the input front-end.
type Input struct {
	// Headless runs without a window, reading keys from the terminal.
	Headless bool `toml:"headless"`
}

// Default returns the configuration used when no sonagi.toml exists.
func Default() *Config {
	return &Config{
		Screen: Screen{Width: 240, Height: 320, Scale: 2},
	}
}

// Load parses sonagi.toml from the given directory. A missing file yields
// the default configuration.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "sonagi.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c := Default()
		c.Dir = dir
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir = dir

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return c, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Screen.Width <= 0 || c.Screen.Height <= 0 {
		return fmt.Errorf("screen size must be positive, got %dx%d", c.Screen.Width, c.Screen.Height)
	}
	if c.Screen.Scale <= 0 {
		return fmt.Errorf("screen scale must be positive, got %d", c.Screen.Scale)
	}
	return nil
}

// RecordsPath resolves the record database path relative to the config dir.
func (c *Config) RecordsPath() string {
	if c.Records.Path == "" {
		return ""
	}
	if filepath.IsAbs(c.Records.Path) {
		return c.Records.Path
	}
	return filepath.Join(c.Dir, c.Records.Path)
}
