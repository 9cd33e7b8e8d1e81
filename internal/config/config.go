// Package config loads process settings from the environment.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all process configuration, loaded from SHELLBACK_*
// environment variables.
type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" default:"~/.local/share/shellback"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8422"`
	APIToken   string `envconfig:"API_TOKEN" default:""`
	LogPath    string `envconfig:"LOG_PATH" default:""`
	HostsFile  string `envconfig:"HOSTS_FILE" default:""`

	// Scrollback settings
	ScrollbackLines int `envconfig:"SCROLLBACK_LINES" default:"10000"`

	// Reconnection policy defaults; profiles may override MaxAttempts.
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"10"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMultiplier  float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"16s"`

	// Session settings
	SessionIdleTimeout   time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"30m"`
	ClearOnDisconnect    bool          `envconfig:"CLEAR_ON_DISCONNECT" default:"false"`
	HistoryRetentionDays int           `envconfig:"HISTORY_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("SHELLBACK", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg.DataPath = expandHome(Cfg.DataPath)
	Cfg.HostsFile = expandHome(Cfg.HostsFile)
	Cfg.LogPath = expandHome(Cfg.LogPath)
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
