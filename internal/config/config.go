package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port       string // Panel HTTP port
	DBPath     string // SQLite database path
	JWTSecret  string // JWT signing secret
	DataDir    string // Data directory root
	StacksDir  string // Root directory holding stack subdirectories
	DockerSock string // Docker daemon socket path

	// ComposeFiles is the ordered list of recognized compose filenames.
	// The first one found in a stack directory wins.
	ComposeFiles []string

	// BackupKeep is how many backup snapshots to retain per file.
	BackupKeep int

	// Per-command timeouts. Pull gets the longest window since image
	// downloads dominate its runtime.
	UpTimeout      time.Duration
	DownTimeout    time.Duration
	RestartTimeout time.Duration
	PullTimeout    time.Duration

	// Auto-update scheduler defaults, used when no config document exists.
	AutoUpdateEnabled bool
	AutoUpdatePreset  string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	dataDir := envOrDefault("CASADOCK_DATA_DIR", "./data")

	cfg := &Config{
		Port:       envOrDefault("CASADOCK_PORT", "8080"),
		DBPath:     envOrDefault("CASADOCK_DB_PATH", filepath.Join(dataDir, "casadock.db")),
		JWTSecret:  envOrDefault("CASADOCK_JWT_SECRET", "casadock-change-me-in-production"),
		DataDir:    dataDir,
		StacksDir:  envOrDefault("CASADOCK_STACKS_DIR", filepath.Join(dataDir, "stacks")),
		DockerSock: envOrDefault("CASADOCK_DOCKER_SOCK", "/var/run/docker.sock"),

		ComposeFiles: []string{
			"compose.yaml",
			"compose.yml",
			"docker-compose.yml",
			"docker-compose.yaml",
		},

		BackupKeep: envIntOrDefault("CASADOCK_BACKUP_KEEP", 10),

		UpTimeout:      envDurationOrDefault("CASADOCK_TIMEOUT_UP", 5*time.Minute),
		DownTimeout:    envDurationOrDefault("CASADOCK_TIMEOUT_DOWN", 5*time.Minute),
		RestartTimeout: envDurationOrDefault("CASADOCK_TIMEOUT_RESTART", 5*time.Minute),
		PullTimeout:    envDurationOrDefault("CASADOCK_TIMEOUT_PULL", 15*time.Minute),

		AutoUpdateEnabled: os.Getenv("CASADOCK_AUTOUPDATE") == "true",
		AutoUpdatePreset:  envOrDefault("CASADOCK_AUTOUPDATE_PRESET", "daily"),
	}

	// Ensure directories exist
	os.MkdirAll(dataDir, 0755)
	os.MkdirAll(cfg.StacksDir, 0755)

	return cfg
}

// Timeout returns the configured timeout for a command kind.
// Unknown kinds fall back to the up timeout.
func (c *Config) Timeout(kind string) time.Duration {
	switch kind {
	case "down":
		return c.DownTimeout
	case "restart":
		return c.RestartTimeout
	case "pull":
		return c.PullTimeout
	default:
		return c.UpTimeout
	}
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

// envDurationOrDefault reads a timeout in whole seconds.
func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return defaultVal
}
