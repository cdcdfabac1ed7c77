// Package config provides configuration management for scivid.
// Configuration is loaded from environment variables with sensible defaults;
// .env.local and .env files are read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort      = 8788
	DefaultLogLevel  = "info"
	DefaultDataDir   = ".scivid"
	DefaultOutputDir = "output"

	// Environment variable names
	EnvPort      = "SCIVID_PORT"
	EnvLogLevel  = "SCIVID_LOG_LEVEL"
	EnvDataDir   = "SCIVID_DATA_DIR"
	EnvOutputDir = "SCIVID_OUTPUT_DIR"
	EnvHeadless  = "SCIVID_HEADLESS"

	// Remote model environment variable names
	EnvAPIKey            = "GOOGLE_API_KEY"
	EnvScriptModel       = "SCIVID_SCRIPT_MODEL"
	EnvImageModel        = "SCIVID_IMAGE_MODEL"
	EnvVideoModel        = "SCIVID_VIDEO_MODEL"
	EnvVideoPollInterval = "SCIVID_VIDEO_POLL_INTERVAL"

	// Media environment variable names
	EnvFFmpegPath = "SCIVID_FFMPEG_PATH"

	// Session retention
	EnvSessionRetention = "SCIVID_SESSION_RETENTION"
	EnvPruneSchedule    = "SCIVID_PRUNE_SCHEDULE"

	// Database filename
	DBFilename = "scivid.db"

	// Model defaults
	DefaultScriptModel = "gemini-3-pro-preview"
	DefaultImageModel  = "gemini-3-pro-image-preview"
	DefaultVideoModel  = "veo-3.1-generate-preview"

	DefaultVideoPollInterval = 10 * time.Second
	DefaultMediaTimeout      = 10 * time.Minute
	DefaultDoctorTimeout     = 15 * time.Second
	DefaultSessionRetention  = 7 * 24 * time.Hour
	DefaultPruneSchedule     = "@daily"
)

// ErrMissingAPIKey is returned when a remote stage is requested without a
// configured credential.
var ErrMissingAPIKey = errors.New(EnvAPIKey + " is not set")

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	OutputDir() string
	Headless() bool
	APIKey() string
	ScriptModel() string
	ImageModel() string
	VideoModel() string
	VideoPollInterval() time.Duration
	FFmpegPath() string
	MediaTimeout() time.Duration
	DoctorTimeout() time.Duration
	SessionRetention() time.Duration
	PruneSchedule() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	outputDir string
	headless  bool

	apiKey            string
	scriptModel       string
	imageModel        string
	videoModel        string
	videoPollInterval time.Duration

	ffmpegPath string

	sessionRetention time.Duration
	pruneSchedule    string
}

// LoadEnvFiles reads .env.local and then .env into the process environment.
// Variables already set are never overridden, so .env.local wins over .env.
// Missing files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env.local", ".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		videoPollInterval: DefaultVideoPollInterval,
		sessionRetention:  DefaultSessionRetention,
		pruneSchedule:     DefaultPruneSchedule,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	cfg.outputDir = os.Getenv(EnvOutputDir)

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	cfg.apiKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	cfg.scriptModel = os.Getenv(EnvScriptModel)
	cfg.imageModel = os.Getenv(EnvImageModel)
	cfg.videoModel = os.Getenv(EnvVideoModel)

	if pi := os.Getenv(EnvVideoPollInterval); pi != "" {
		d, err := time.ParseDuration(pi)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvVideoPollInterval, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvVideoPollInterval)
		}
		cfg.videoPollInterval = d
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)

	if sr := os.Getenv(EnvSessionRetention); sr != "" {
		d, err := time.ParseDuration(sr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvSessionRetention, err)
		}
		cfg.sessionRetention = d
	}
	if ps := os.Getenv(EnvPruneSchedule); ps != "" {
		cfg.pruneSchedule = ps
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// OutputDir returns the root directory holding session directories.
func (c *EnvConfig) OutputDir() string {
	if c.outputDir != "" {
		return c.outputDir
	}
	return filepath.Join(c.dataDir, DefaultOutputDir)
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

// APIKey returns the generative API credential, empty when unset.
func (c *EnvConfig) APIKey() string {
	return c.apiKey
}

// RequireAPIKey returns the credential or ErrMissingAPIKey.
func (c *EnvConfig) RequireAPIKey() (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	return c.apiKey, nil
}

func (c *EnvConfig) ScriptModel() string {
	if c.scriptModel != "" {
		return c.scriptModel
	}
	return DefaultScriptModel
}

func (c *EnvConfig) ImageModel() string {
	if c.imageModel != "" {
		return c.imageModel
	}
	return DefaultImageModel
}

func (c *EnvConfig) VideoModel() string {
	if c.videoModel != "" {
		return c.videoModel
	}
	return DefaultVideoModel
}

// VideoPollInterval is the fixed delay between video operation polls.
func (c *EnvConfig) VideoPollInterval() time.Duration {
	return c.videoPollInterval
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) MediaTimeout() time.Duration {
	return DefaultMediaTimeout
}

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return DefaultDoctorTimeout
}

// SessionRetention is the age after which sessions are pruned. Zero disables pruning.
func (c *EnvConfig) SessionRetention() time.Duration {
	return c.sessionRetention
}

// PruneSchedule is the cron spec for the session prune sweep.
func (c *EnvConfig) PruneSchedule() string {
	return c.pruneSchedule
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
