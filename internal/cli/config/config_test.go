package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	intconfig "github.com/leapstack-labs/leapscript/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("scripts-dir", "", "")
	fs.String("extension", "", "")
	fs.Duration("cooldown", 0, "")
	fs.Duration("tick-interval", 0, "")
	fs.String("journal", "", "")
	fs.String("log-level", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.StringP("output", "o", "", "")
	fs.Int("port", 0, "")
	fs.Uint64("max-steps", 0, "")
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, intconfig.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Cleanup(ResetConfig)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, "", GetConfigFileUsed())
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, intconfig.DefaultScriptsDir), cfg.ScriptsDir)
	assert.Equal(t, intconfig.DefaultExtension, cfg.Extension)
	assert.Equal(t, intconfig.DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, intconfig.DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, intconfig.DefaultInboxSize, cfg.InboxSize)
	assert.Equal(t, intconfig.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, uint64(0), cfg.Starlark.MaxSteps)
	assert.True(t, cfg.JournalEnabled())
	assert.True(t, filepath.IsAbs(cfg.JournalPath))
}

func TestLoadConfig_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		env    map[string]string
		flags  []string
		verify func(t *testing.T, cfg *Config, root string)
	}{
		{
			name: "file overrides defaults",
			file: "scripts_dir: src\ncooldown: 2s\nserver:\n  port: 9000\nstarlark:\n  max_steps: 5000\n",
			verify: func(t *testing.T, cfg *Config, root string) {
				assert.Equal(t, filepath.Join(root, "src"), cfg.ScriptsDir)
				assert.Equal(t, 2*time.Second, cfg.Cooldown)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, uint64(5000), cfg.Starlark.MaxSteps)
			},
		},
		{
			name: "env overrides file",
			file: "log_level: warn\n",
			env:  map[string]string{"LEAPSCRIPT_LOG_LEVEL": "debug", "LEAPSCRIPT_TICK_INTERVAL": "250ms"},
			verify: func(t *testing.T, cfg *Config, _ string) {
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
			},
		},
		{
			name:  "flags override env",
			file:  "output: json\n",
			env:   map[string]string{"LEAPSCRIPT_OUTPUT": "yaml"},
			flags: []string{"--output", "markdown", "--port", "8080", "--max-steps", "10", "--cooldown", "3s"},
			verify: func(t *testing.T, cfg *Config, _ string) {
				assert.Equal(t, "markdown", cfg.OutputFormat)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, uint64(10), cfg.Starlark.MaxSteps)
				assert.Equal(t, 3*time.Second, cfg.Cooldown)
			},
		},
		{
			name:  "journal off",
			flags: []string{"--journal", "off"},
			verify: func(t *testing.T, cfg *Config, _ string) {
				assert.False(t, cfg.JournalEnabled())
			},
		},
		{
			name: "empty journal path disables",
			file: "journal_path: \"\"\n",
			verify: func(t *testing.T, cfg *Config, _ string) {
				assert.False(t, cfg.JournalEnabled())
				assert.Empty(t, cfg.JournalPath)
			},
		},
		{
			name: "absolute paths kept",
			file: "scripts_dir: /srv/scripts\n",
			verify: func(t *testing.T, cfg *Config, _ string) {
				assert.Equal(t, "/srv/scripts", cfg.ScriptsDir)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(ResetConfig)
			root := t.TempDir()
			cfgFile := writeConfig(t, root, tt.file)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			fs := newFlagSet()
			require.NoError(t, fs.Parse(tt.flags))

			cfg, err := LoadConfig(cfgFile, fs)
			require.NoError(t, err)
			assert.Equal(t, cfgFile, GetConfigFileUsed())
			assert.Equal(t, root, cfg.ProjectRoot)
			tt.verify(t, cfg, root)
		})
	}
}

func TestLoadConfig_FindsProjectRootUpward(t *testing.T) {
	t.Cleanup(ResetConfig)
	root := t.TempDir()
	writeConfig(t, root, "scripts_dir: units\n")
	deep := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	t.Chdir(deep)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	// t.TempDir may sit behind a symlink; compare resolved paths.
	wantRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(cfg.ProjectRoot)
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)
	assert.Equal(t, "units", filepath.Base(cfg.ScriptsDir))
}

func TestLoadConfig_FlagPathsRelativeToCWD(t *testing.T) {
	t.Cleanup(ResetConfig)
	root := t.TempDir()
	cfgFile := writeConfig(t, root, "")
	cwd := t.TempDir()
	t.Chdir(cwd)

	fs := newFlagSet()
	require.NoError(t, fs.Parse([]string{"--scripts-dir", "here"}))

	cfg, err := LoadConfig(cfgFile, fs)
	require.NoError(t, err)

	want, err := filepath.Abs("here")
	require.NoError(t, err)
	assert.Equal(t, want, cfg.ScriptsDir)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{name: "bad yaml", file: "scripts_dir: [", wantErr: "error reading config file"},
		{name: "bad duration", file: "cooldown: soon\n", wantErr: "unable to decode config"},
		{name: "negative cooldown", file: "cooldown: -1s\n", wantErr: "cooldown must be positive"},
		{name: "bad output", file: "output: html\n", wantErr: "unknown output format"},
		{name: "bad level", file: "log_level: loud\n", wantErr: "unknown log level"},
		{name: "bad extension", file: "extension: star\n", wantErr: "extension must start with a dot"},
		{name: "bad port", file: "server:\n  port: 70000\n", wantErr: "server.port out of range"},
		{name: "zero inbox", file: "inbox_size: 0\n", wantErr: "inbox_size must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(ResetConfig)
			cfgFile := writeConfig(t, t.TempDir(), tt.file)

			_, err := LoadConfig(cfgFile, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateDirectories(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.star")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.NoError(t, (&Config{ScriptsDir: dir}).ValidateDirectories())
	assert.ErrorContains(t, (&Config{ScriptsDir: filepath.Join(dir, "nope")}).ValidateDirectories(), "does not exist")
	assert.ErrorContains(t, (&Config{ScriptsDir: file}).ValidateDirectories(), "not a directory")
}

func TestConfig_ManagerOptions(t *testing.T) {
	cfg := &Config{ScriptsDir: "/s", Extension: ".star", Cooldown: time.Second, TickInterval: 2 * time.Second, TrimChars: "_", InboxSize: 8}
	opts := cfg.ManagerOptions()
	assert.Equal(t, "/s", opts.Dir)
	assert.Equal(t, ".star", opts.Extension)
	assert.Equal(t, time.Second, opts.Cooldown)
	assert.Equal(t, 2*time.Second, opts.TickInterval)
	assert.Equal(t, "_", opts.TrimChars)
	assert.Equal(t, 8, opts.InboxSize)
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled slog.Level
		blocked slog.Level
	}{
		{name: "info", cfg: Config{LogLevel: "info"}, enabled: slog.LevelInfo, blocked: slog.LevelDebug},
		{name: "error", cfg: Config{LogLevel: "ERROR"}, enabled: slog.LevelError, blocked: slog.LevelWarn},
		{name: "verbose wins", cfg: Config{LogLevel: "error", Verbose: true}, enabled: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			logger := NewLogger(&tt.cfg, &buf)
			ctx := context.Background()
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			if tt.blocked != tt.enabled && !tt.cfg.Verbose {
				assert.False(t, logger.Enabled(ctx, tt.blocked))
			}
		})
	}
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	ctx := context.WithValue(context.Background(), LoggerKey(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
