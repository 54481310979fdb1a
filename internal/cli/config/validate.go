package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// OutputModes lists the accepted --output values.
var OutputModes = []string{"auto", "text", "markdown", "json", "yaml"}

// LogLevels lists the accepted log levels.
var LogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ScriptsDir == "" {
		return fmt.Errorf("scripts_dir is required")
	}
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		return fmt.Errorf("extension must start with a dot, got %q", c.Extension)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %s", c.Cooldown)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive, got %d", c.InboxSize)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !slices.Contains(OutputModes, c.OutputFormat) {
		return fmt.Errorf("unknown output format %q (want one of %s)", c.OutputFormat, strings.Join(OutputModes, ", "))
	}
	if !slices.Contains(LogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("unknown log level %q (want one of %s)", c.LogLevel, strings.Join(LogLevels, ", "))
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	info, err := os.Stat(c.ScriptsDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("scripts directory does not exist: %s\nHint: Create the directory or use --scripts-dir to specify a different path", c.ScriptsDir)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("scripts path is not a directory: %s", c.ScriptsDir)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
