package sqlite

import (
	"fmt"
	"slices"
	"strings"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "hafiza.db"
	defaultSynchronous = "NORMAL"
)

var synchronousModes = []string{"OFF", "NORMAL", "FULL", "EXTRA"}

// Config is the memory.sqlite module configuration. Memories and
// transcripts share the one database file.
type Config struct {
	// Path defaults to {DataDir}/hafiza.db.
	Path string `yaml:"path"`

	// WAL lets retrieval read while a write is in flight. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`

	// Synchronous is the PRAGMA synchronous level. NORMAL is durable
	// enough under WAL; FULL also survives power loss mid-checkpoint.
	Synchronous string `yaml:"synchronous"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		wal := true
		c.WAL = &wal
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.Synchronous == "" {
		c.Synchronous = defaultSynchronous
	}
	c.Synchronous = strings.ToUpper(c.Synchronous)
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.Synchronous != "" && !slices.Contains(synchronousModes, strings.ToUpper(c.Synchronous)) {
		return fmt.Errorf("sqlite: synchronous must be one of %v, got %q", synchronousModes, c.Synchronous)
	}
	return nil
}
