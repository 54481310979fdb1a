// Package config provides configuration management for the leapscript CLI.
//
// Values are layered from built-in defaults, leapscript.yaml, LEAPSCRIPT_
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"time"

	intconfig "github.com/leapstack-labs/leapscript/internal/config"
	"github.com/leapstack-labs/leapscript/internal/manager"
)

// Config holds all CLI configuration options.
type Config struct {
	ProjectRoot  string         `koanf:"-"`
	ScriptsDir   string         `koanf:"scripts_dir"`
	Extension    string         `koanf:"extension"`
	Cooldown     time.Duration  `koanf:"cooldown"`
	TickInterval time.Duration  `koanf:"tick_interval"`
	TrimChars    string         `koanf:"trim_chars"`
	InboxSize    int            `koanf:"inbox_size"`
	JournalPath  string         `koanf:"journal_path"`
	LogLevel     string         `koanf:"log_level"`
	Verbose      bool           `koanf:"verbose"`
	OutputFormat string         `koanf:"output"`
	Server       ServerConfig   `koanf:"server"`
	Starlark     StarlarkConfig `koanf:"starlark"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port int `koanf:"port"`
}

// StarlarkConfig holds interpreter limits.
type StarlarkConfig struct {
	// MaxSteps bounds every script call; 0 means unlimited.
	MaxSteps uint64 `koanf:"max_steps"`
}

// Default configuration values.
const (
	DefaultOutput = "auto" // TTY=text, non-TTY=markdown
)

// JournalDisabled turns the journal off when used as the journal path. An
// empty path disables it too.
const JournalDisabled = "off"

// JournalEnabled reports whether lifecycle events should be journaled.
func (c *Config) JournalEnabled() bool {
	return c.JournalPath != "" && c.JournalPath != JournalDisabled
}

// ManagerOptions maps the configuration onto manager options.
func (c *Config) ManagerOptions() manager.Options {
	return manager.Options{
		Dir:          c.ScriptsDir,
		Extension:    c.Extension,
		Cooldown:     c.Cooldown,
		TickInterval: c.TickInterval,
		TrimChars:    c.TrimChars,
		InboxSize:    c.InboxSize,
	}
}

func defaults() map[string]any {
	return map[string]any{
		"scripts_dir":        intconfig.DefaultScriptsDir,
		"extension":          intconfig.DefaultExtension,
		"cooldown":           intconfig.DefaultCooldown.String(),
		"tick_interval":      intconfig.DefaultTickInterval.String(),
		"trim_chars":         intconfig.DefaultTrimChars,
		"inbox_size":         intconfig.DefaultInboxSize,
		"journal_path":       intconfig.DefaultJournalPath,
		"log_level":          intconfig.DefaultLogLevel,
		"verbose":            false,
		"output":             DefaultOutput,
		"server.port":        intconfig.DefaultServerPort,
		"starlark.max_steps": 0,
	}
}
