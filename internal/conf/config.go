// config.go: settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/audiolens/masterqc/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// ToolsSettings configures the external measurement tools.
type ToolsSettings struct {
	FfmpegPath  string        // path to ffmpeg binary, resolved from PATH when empty
	FfprobePath string        // path to ffprobe binary, resolved from PATH when empty
	Timeout     time.Duration // per-invocation timeout
}

// NormalizeSettings configures pre-analysis normalization and temp cleanup.
type NormalizeSettings struct {
	TempDir       string        // directory for normalized temp files, os.TempDir() when empty
	MaxAge        time.Duration // sweeper removes orphaned temp files older than this
	MaxUsage      string        // sweeper also runs when temp volume usage exceeds this, e.g. "90%"
	SweepInterval time.Duration // sweeper tick interval
}

// AnalyzerSettings holds analyzer defaults.
type AnalyzerSettings struct {
	Platform       string  // default loudness target platform
	Subgenre       string  // subgenre used when classification signals are absent
	Granularity    float64 // gain-reduction window in seconds: 0.1, 0.4, 2 or 8
	ReferenceCurve string  // spectral reference profile, see ReferenceCurves
	CacheTTL       time.Duration // probe cache lifetime
}

// ClassifySettings configures subgenre classification.
type ClassifySettings struct {
	HeuristicsFile string // optional YAML overriding the embedded heuristics table
}

// QueueSettings configures the job queue engine.
type QueueSettings struct {
	Workers     int           // worker pool size, 0 = max(1, NumCPU-1)
	MaxAttempts int           // default attempts per job before permanent failure
	RetryDelay  time.Duration // base delay, doubled per attempt
	StopTimeout time.Duration // graceful shutdown wait for running jobs
}

// DeliverySettings configures platform delivery. Credentials may be
// inline values, ${VAR} references, or files (apikeyfile wins over
// apikey, same for the bearer token).
type DeliverySettings struct {
	PlatformsFile   string        // optional YAML overriding the embedded platform table
	Endpoint        string        // upload endpoint for platforms without one configured
	APIKey          string        // credential for api-key platforms
	APIKeyFile      string        // file holding the api key, preferred over apikey
	BearerToken     string        // credential for bearer-token platforms
	BearerTokenFile string        // file holding the bearer token, preferred over bearertoken
	UploadRate      float64       // uploads per second per platform, 0 = unlimited
	UploadBurst     int           // burst allowance for the upload limiter
	Timeout         time.Duration // per-upload timeout
}

// CatalogSettings configures catalog validation runs.
type CatalogSettings struct {
	SampleSize int // 0 analyzes the whole catalog
	Parallel   int // files analyzed concurrently per batch
}

// NotificationSettings configures delivery notifications. Chat pushes
// go through shoutrrr URLs; webhooks receive the full delivery report
// as JSON.
type NotificationSettings struct {
	Enabled  bool              // true to send notifications on delivery completion
	URLs     []string          // shoutrrr service URLs
	Webhooks []WebhookSettings // endpoints receiving the delivery report
}

// WebhookSettings configures one delivery-report webhook.
type WebhookSettings struct {
	URL       string        // endpoint POSTed to on delivery completion
	Token     string        // bearer token, inline or a ${VAR} reference
	TokenFile string        // file holding the bearer token, preferred over token
	Timeout   time.Duration // per-push timeout, 0 uses the notifier default
}

// TelemetrySettings configures error telemetry and the metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to expose the metrics endpoint and SSE event stream
	Listen  string // IP address and port to listen on
	Sentry  bool   // true to report enhanced errors to Sentry
	DSN     string // Sentry DSN, empty disables reporting
}

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // path to the log file
	Rotation    RotationType // type of log rotation
	MaxSize     int64        // max size in bytes for RotationSize
	RotationDay string       // day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// Settings contains all configuration options for masterqc.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // version from build
	BuildDate string `yaml:"-"` // build date from build

	Main struct {
		Name string    // name of this masterqc node, identifies report sources
		Log  LogConfig // logging configuration
	}

	Tools        ToolsSettings        // external tool invocation
	Normalize    NormalizeSettings    // normalization and temp lifecycle
	Analyzer     AnalyzerSettings     // analyzer defaults
	Classify     ClassifySettings     // classification heuristics
	Queue        QueueSettings        // job queue engine
	Delivery     DeliverySettings     // platform delivery
	Catalog      CatalogSettings      // catalog validation
	Notification NotificationSettings // delivery notifications
	Telemetry    TelemetrySettings    // metrics endpoint and Sentry
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a
// Settings instance and installs it as the active one.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("MASTERQC")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to the primary
// config path and loads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SetTestSettings installs a settings instance directly. Test use only.
func SetTestSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	once.Do(func() {})
	settingsInstance = s
}

// SaveSettings writes the active settings back to the config file.
func SaveSettings() error {
	settingsMutex.RLock()
	settingsCopy := *settingsInstance
	settingsMutex.RUnlock()

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}
	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// SaveYAMLConfig overwrites the YAML configuration file with new settings.
// The write goes through a temp file so a crash never truncates the config.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		// Rename fails across filesystems, fall back to copy and delete.
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}
	return nil
}

// TempDir returns the configured temp directory, defaulting to the system one.
func (s *Settings) TempDir() string {
	if s.Normalize.TempDir != "" {
		return s.Normalize.TempDir
	}
	return os.TempDir()
}
