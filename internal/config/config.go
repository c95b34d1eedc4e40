// Package config provides configuration management for the reel agent.
// Configuration is loaded from defaults, an optional YAML file, an optional
// .env file and finally environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".reel-agent"

	DefaultBreakdownModel = "gemini-2.5-flash"
	DefaultImageModel     = "imagen-4.0-generate-001"
	DefaultVideoModel     = "veo-3.0-generate-001"

	DefaultFrameCount        = 10
	DefaultFrameMaxInterval  = 5.0 // seconds
	DefaultBreakdownAttempts = 1

	GatewayGemini = "gemini"
	GatewayHTTP   = "http"

	// Environment variable names
	EnvConfigFile        = "REEL_CONFIG_FILE"
	EnvDotEnvFile        = "REEL_DOTENV"
	EnvPort              = "REEL_PORT"
	EnvLogLevel          = "REEL_LOG_LEVEL"
	EnvDataDir           = "REEL_DATA_DIR"
	EnvGeminiAPIKey      = "REEL_GEMINI_API_KEY"
	EnvGeminiAPIKeyAlt   = "GEMINI_API_KEY"
	EnvBreakdownModel    = "REEL_BREAKDOWN_MODEL"
	EnvImageModel        = "REEL_IMAGE_MODEL"
	EnvVideoModel        = "REEL_VIDEO_MODEL"
	EnvFrameCount        = "REEL_FRAME_COUNT"
	EnvFrameMaxInterval  = "REEL_FRAME_MAX_INTERVAL"
	EnvGateway           = "REEL_GATEWAY"
	EnvGatewayURL        = "REEL_GATEWAY_URL"
	EnvGatewayToken      = "REEL_GATEWAY_TOKEN"
	EnvMaxInFlight       = "REEL_MAX_IN_FLIGHT"
	EnvGenerationTimeout = "REEL_GENERATION_TIMEOUT"
	EnvBreakdownAttempts = "REEL_BREAKDOWN_ATTEMPTS"
	EnvInboxDir          = "REEL_INBOX_DIR"
	EnvCredentialModels  = "REEL_CREDENTIAL_MODELS"
	EnvDashboardOrigin   = "REEL_DASHBOARD_ORIGIN"
	EnvFFmpeg            = "REEL_FFMPEG"
	EnvFFprobe           = "REEL_FFPROBE"
	EnvHeadless          = "REEL_HEADLESS"

	// Database filename
	DBFilename = "reel.db"
	// Lock filename guarding the data dir against a second agent
	LockFilename = "agent.lock"
)

// DefaultCredentialModels are the model id prefixes that need a user
// credential before the gateway may be called.
var DefaultCredentialModels = []string{"veo-", "imagen-"}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	LockPath() string
	CacheDir() string
	ArtifactsDir() string
	ExportDir() string
	GeminiAPIKey() string
	BreakdownModel() string
	ImageModel() string
	VideoModel() string
	FrameCount() int
	FrameMaxInterval() float64
	Gateway() string
	GatewayURL() string
	GatewayToken() string
	MaxInFlight() int
	GenerationTimeout() time.Duration
	BreakdownAttempts() int
	InboxDir() string
	CredentialModels() []string
	DashboardOrigin() string
	FFmpegPath() string
	FFprobePath() string
	Headless() bool
}

// EnvConfig holds resolved configuration values.
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	geminiAPIKey   string
	breakdownModel string
	imageModel     string
	videoModel     string

	frameCount       int
	frameMaxInterval float64

	gateway      string
	gatewayURL   string
	gatewayToken string

	maxInFlight       int
	generationTimeout time.Duration
	breakdownAttempts int

	inboxDir         string
	credentialModels []string
	dashboardOrigin  string

	ffmpegPath  string
	ffprobePath string

	headless bool
}

// fileConfig mirrors the optional YAML configuration file.
type fileConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Models   struct {
		Breakdown string `yaml:"breakdown"`
		Image     string `yaml:"image"`
		Video     string `yaml:"video"`
	} `yaml:"models"`
	Sampling struct {
		FrameCount  int     `yaml:"frame_count"`
		MaxInterval float64 `yaml:"max_interval_seconds"`
	} `yaml:"sampling"`
	Gateway struct {
		Kind  string `yaml:"kind"`
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"gateway"`
	Generation struct {
		MaxInFlight       int      `yaml:"max_in_flight"`
		Timeout           string   `yaml:"timeout"`
		BreakdownAttempts int      `yaml:"breakdown_attempts"`
		CredentialModels  []string `yaml:"credential_models"`
	} `yaml:"generation"`
	InboxDir        string `yaml:"inbox_dir"`
	DashboardOrigin string `yaml:"dashboard_origin"`
	FFmpeg          string `yaml:"ffmpeg"`
	FFprobe         string `yaml:"ffprobe"`
	Headless        bool   `yaml:"headless"`
}

// New creates a new EnvConfig with defaults, file and environment overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		breakdownModel:    DefaultBreakdownModel,
		imageModel:        DefaultImageModel,
		videoModel:        DefaultVideoModel,
		frameCount:        DefaultFrameCount,
		frameMaxInterval:  DefaultFrameMaxInterval,
		gateway:           GatewayGemini,
		breakdownAttempts: DefaultBreakdownAttempts,
		credentialModels:  append([]string(nil), DefaultCredentialModels...),
		ffmpegPath:        "ffmpeg",
		ffprobePath:       "ffprobe",
	}

	if err := loadDotEnv(os.Getenv(EnvDotEnvFile)); err != nil {
		return nil, err
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

// loadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)
	setString(&c.breakdownModel, fc.Models.Breakdown)
	setString(&c.imageModel, fc.Models.Image)
	setString(&c.videoModel, fc.Models.Video)
	if fc.Sampling.FrameCount != 0 {
		c.frameCount = fc.Sampling.FrameCount
	}
	if fc.Sampling.MaxInterval != 0 {
		c.frameMaxInterval = fc.Sampling.MaxInterval
	}
	setString(&c.gateway, fc.Gateway.Kind)
	setString(&c.gatewayURL, fc.Gateway.URL)
	setString(&c.gatewayToken, fc.Gateway.Token)
	if fc.Generation.MaxInFlight != 0 {
		c.maxInFlight = fc.Generation.MaxInFlight
	}
	if fc.Generation.Timeout != "" {
		d, err := time.ParseDuration(fc.Generation.Timeout)
		if err != nil {
			return fmt.Errorf("invalid generation.timeout: %w", err)
		}
		c.generationTimeout = d
	}
	if fc.Generation.BreakdownAttempts != 0 {
		c.breakdownAttempts = fc.Generation.BreakdownAttempts
	}
	if len(fc.Generation.CredentialModels) > 0 {
		c.credentialModels = fc.Generation.CredentialModels
	}
	setString(&c.inboxDir, fc.InboxDir)
	setString(&c.dashboardOrigin, fc.DashboardOrigin)
	setString(&c.ffmpegPath, fc.FFmpeg)
	setString(&c.ffprobePath, fc.FFprobe)
	if fc.Headless {
		c.headless = true
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))

	setString(&c.geminiAPIKey, os.Getenv(EnvGeminiAPIKeyAlt))
	setString(&c.geminiAPIKey, os.Getenv(EnvGeminiAPIKey))
	setString(&c.breakdownModel, os.Getenv(EnvBreakdownModel))
	setString(&c.imageModel, os.Getenv(EnvImageModel))
	setString(&c.videoModel, os.Getenv(EnvVideoModel))

	if v := os.Getenv(EnvFrameCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFrameCount, err)
		}
		c.frameCount = n
	}
	if v := os.Getenv(EnvFrameMaxInterval); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFrameMaxInterval, err)
		}
		c.frameMaxInterval = f
	}

	setString(&c.gateway, strings.ToLower(os.Getenv(EnvGateway)))
	setString(&c.gatewayURL, os.Getenv(EnvGatewayURL))
	setString(&c.gatewayToken, os.Getenv(EnvGatewayToken))

	if v := os.Getenv(EnvMaxInFlight); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxInFlight, err)
		}
		c.maxInFlight = n
	}
	if v := os.Getenv(EnvGenerationTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvGenerationTimeout, err)
		}
		c.generationTimeout = d
	}
	if v := os.Getenv(EnvBreakdownAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBreakdownAttempts, err)
		}
		c.breakdownAttempts = n
	}

	setString(&c.inboxDir, os.Getenv(EnvInboxDir))
	if v := os.Getenv(EnvCredentialModels); v != "" {
		c.credentialModels = splitList(v)
	}
	setString(&c.dashboardOrigin, os.Getenv(EnvDashboardOrigin))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpeg))
	setString(&c.ffprobePath, os.Getenv(EnvFFprobe))
	if v := os.Getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: port must be between 1 and 65535", c.port)
	}
	if c.frameCount < 1 {
		return fmt.Errorf("invalid frame count %d: must be at least 1", c.frameCount)
	}
	if c.maxInFlight < 0 {
		return fmt.Errorf("invalid max in-flight %d: must not be negative", c.maxInFlight)
	}
	if c.breakdownAttempts < 1 {
		c.breakdownAttempts = 1
	}
	switch c.gateway {
	case GatewayGemini:
	case GatewayHTTP:
		if c.gatewayURL == "" {
			return fmt.Errorf("%s is required when gateway is %q", EnvGatewayURL, GatewayHTTP)
		}
	default:
		return fmt.Errorf("unknown gateway %q", c.gateway)
	}
	return nil
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

func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, LockFilename)
}

// CacheDir holds uploaded source videos while a run samples them.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// ArtifactsDir holds generated images and video clips.
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) GeminiAPIKey() string {
	return c.geminiAPIKey
}

func (c *EnvConfig) BreakdownModel() string {
	return c.breakdownModel
}

func (c *EnvConfig) ImageModel() string {
	return c.imageModel
}

func (c *EnvConfig) VideoModel() string {
	return c.videoModel
}

func (c *EnvConfig) FrameCount() int {
	return c.frameCount
}

func (c *EnvConfig) FrameMaxInterval() float64 {
	return c.frameMaxInterval
}

func (c *EnvConfig) Gateway() string {
	return c.gateway
}

func (c *EnvConfig) GatewayURL() string {
	return c.gatewayURL
}

func (c *EnvConfig) GatewayToken() string {
	return c.gatewayToken
}

// MaxInFlight bounds concurrent generations; 0 means unbounded.
func (c *EnvConfig) MaxInFlight() int {
	return c.maxInFlight
}

// GenerationTimeout bounds a single generation call; 0 means none.
func (c *EnvConfig) GenerationTimeout() time.Duration {
	return c.generationTimeout
}

func (c *EnvConfig) BreakdownAttempts() int {
	return c.breakdownAttempts
}

func (c *EnvConfig) InboxDir() string {
	return c.inboxDir
}

func (c *EnvConfig) CredentialModels() []string {
	return append([]string(nil), c.credentialModels...)
}

func (c *EnvConfig) DashboardOrigin() string {
	return c.dashboardOrigin
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
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
