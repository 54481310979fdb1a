// Package config holds the defaults and config-file discovery shared by the
// CLI and the runtime packages.
package config

import "time"

// Default configuration values.
const (
	DefaultScriptsDir   = "scripts"
	DefaultExtension    = ".star"
	DefaultCooldown     = 500 * time.Millisecond
	DefaultTickInterval = time.Second
	DefaultTrimChars    = "_"
	DefaultInboxSize    = 256
	DefaultJournalPath  = ".leapscript/journal.db"
	DefaultLogLevel     = "info"
	DefaultServerPort   = 8766
)
