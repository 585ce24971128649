// Package config provides configuration loading and defaults for the appcore
// reference daemon.
//
// Configuration is loaded from a TOML file in the daemon's data directory.
// The package covers service identity, logging, the signal-to-handler map,
// single-instance enforcement, the control endpoint, file watching and
// lifecycle webhooks, with sensible defaults for every field.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"tools.zach/dev/appcore/internal/atomicfile"
	"tools.zach/dev/appcore/internal/logger"
	"tools.zach/dev/appcore/internal/migrate"
	"tools.zach/dev/appcore/internal/paths"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level daemon configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Service holds the service identity and launch model.
	Service ServiceConfig `toml:"service"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Signals maps lifecycle actions to signal and event names.
	Signals SignalsConfig `toml:"signals"`
	// Instance holds single-instance settings.
	Instance InstanceConfig `toml:"instance"`
	// Control holds the local control endpoint settings.
	Control ControlConfig `toml:"control"`
	// Watch holds file watching settings.
	Watch WatchConfig `toml:"watch"`
	// Notify holds lifecycle webhook settings.
	Notify NotifyConfig `toml:"notify"`
	// Heartbeat holds the periodic liveness log settings.
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
}

// ServiceConfig holds the service identity and launch model.
type ServiceConfig struct {
	// Name is the name registered with the service manager.
	Name string `toml:"name"`
	// Model is the launch model: "interactive" or "background".
	Model string `toml:"model"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// SignalsConfig maps lifecycle actions to notification names. A name is a
// POSIX signal ("SIGTERM", "term") or an event ("reload", "service-stop",
// "event-20"). Names this platform cannot deliver are skipped at startup.
type SignalsConfig struct {
	// Terminate requests a graceful stop.
	Terminate []string `toml:"terminate"`
	// Pause suspends work.
	Pause []string `toml:"pause"`
	// Resume continues after a pause.
	Resume []string `toml:"resume"`
	// Reload re-reads the config file.
	Reload []string `toml:"reload"`
	// Rotate rotates the log file.
	Rotate []string `toml:"rotate"`
}

// InstanceConfig holds single-instance settings.
type InstanceConfig struct {
	// SingleInstance refuses to start while another daemon holds the lock.
	SingleInstance bool `toml:"single_instance"`
	// ID is the UUID naming the instance lock. Empty derives one from
	// service.name.
	ID string `toml:"id,omitempty"`
}

// ControlConfig holds the local control endpoint settings.
type ControlConfig struct {
	// Enabled starts the control endpoint.
	Enabled bool `toml:"enabled"`
	// Address is a Unix socket path or a Windows named pipe. Empty uses
	// the platform default inside the data directory.
	Address string `toml:"address,omitempty"`
}

// WatchConfig holds file watching settings.
type WatchConfig struct {
	// Enabled reloads the config when a watched file changes.
	Enabled bool `toml:"enabled"`
	// Patterns are doublestar globs, relative to the data directory, of
	// files whose changes trigger a reload.
	Patterns []string `toml:"patterns"`
	// PollIntervalSeconds is the polling interval used when native file
	// notifications are unavailable.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// NotifyConfig holds lifecycle webhook settings.
type NotifyConfig struct {
	// URL receives a JSON POST for every lifecycle transition. Empty
	// disables webhooks.
	URL string `toml:"url,omitempty"`
	// RetryMax is the number of retries after a failed delivery.
	RetryMax int `toml:"retry_max"`
	// TimeoutSeconds bounds each delivery attempt.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// HeartbeatConfig holds the periodic liveness log settings.
type HeartbeatConfig struct {
	// IntervalSeconds between heartbeat log lines. 0 disables them.
	IntervalSeconds int `toml:"interval_seconds"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.Current,
		Service: ServiceConfig{
			Name:  paths.BinaryName,
			Model: "interactive",
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
		Signals: SignalsConfig{
			Terminate: []string{"SIGINT", "SIGTERM", "service-stop", "service-shutdown"},
			Pause:     []string{"SIGTSTP", "service-pause"},
			Resume:    []string{"SIGCONT", "service-continue"},
			Reload:    []string{"SIGHUP", "reload"},
			Rotate:    []string{"SIGUSR1"},
		},
		Instance: InstanceConfig{
			SingleInstance: true,
		},
		Control: ControlConfig{
			Enabled: true,
		},
		Watch: WatchConfig{
			Enabled:             true,
			Patterns:            []string{paths.ConfigFile},
			PollIntervalSeconds: 5,
		},
		Notify: NotifyConfig{
			RetryMax:       3,
			TimeoutSeconds: 5,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 0,
		},
	}
}

// ///////////////////////////////////////////////
// Example Configuration
// ///////////////////////////////////////////////

// ExampleConfig returns a Config suitable for generating config.default.toml.
// For this project all defaults are good examples.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	if version == migrate.Config.Current {
		return Parse(data)
	}

	if err := atomicfile.Backup(path); err != nil {
		slog.Warn("failed to write config backup", "error", err)
	}
	data, applied, err := migrate.Config.Upgrade(data, version)
	if err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(path); err != nil {
		slog.Warn("failed to save migrated config", "error", err)
	}
	slog.Info("config migrated", "from", version, "to", cfg.Version, "steps", len(applied))
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. It does
// not migrate; data must already be at the current schema version.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slog.Warn("ignoring unknown config keys", "keys", strings.Join(keys, ","))
	}
	cfg.Version = migrate.Config.Current

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	return atomicfile.WriteFunc(path, 0o644, c.Encode)
}

// Encode writes the config as TOML to w.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// String renders the config as TOML, for the status command and logs.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return err.Error()
	}
	return buf.String()
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// signalNameRe matches the syntactic forms of a notification name. Whether
// a name is deliverable depends on the platform and is checked at startup.
var signalNameRe = regexp.MustCompile(`^(?i)(sig[a-z0-9]+|[a-z]+[0-9]*|event-[0-9]+|service-(stop|pause|continue|shutdown)|reload)$`)

// serviceNameRe restricts service names to what every service manager
// accepts.
var serviceNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]{0,63}$`)

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !serviceNameRe.MatchString(c.Service.Name) {
		return fmt.Errorf("invalid service.name %q: letters, digits, '.', '_' and '-', starting with a letter", c.Service.Name)
	}

	switch c.Service.Model {
	case "interactive", "background":
	default:
		return fmt.Errorf("invalid service.model %q: must be interactive or background", c.Service.Model)
	}

	if lvl, ok := logger.LookupLevel(c.Log.Level); !ok || lvl > logger.LevelError {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	for action, names := range c.Signals.byAction() {
		for _, n := range names {
			if !signalNameRe.MatchString(strings.TrimSpace(n)) {
				return fmt.Errorf("invalid signals.%s entry %q", action, n)
			}
		}
	}
	if len(c.Signals.Terminate) == 0 {
		return fmt.Errorf("signals.terminate must name at least one signal")
	}

	if c.Instance.ID != "" {
		if _, err := uuid.Parse(c.Instance.ID); err != nil {
			return fmt.Errorf("invalid instance.id %q: %w", c.Instance.ID, err)
		}
	}

	for _, p := range c.Watch.Patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid watch pattern %q", p)
		}
	}
	if c.Watch.PollIntervalSeconds <= 0 {
		return fmt.Errorf("watch.poll_interval_seconds must be > 0, got %d", c.Watch.PollIntervalSeconds)
	}

	if c.Notify.URL != "" {
		u, err := url.Parse(c.Notify.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid notify.url %q: must be an http or https URL", c.Notify.URL)
		}
	}
	if c.Notify.RetryMax < 0 {
		return fmt.Errorf("notify.retry_max must be >= 0, got %d", c.Notify.RetryMax)
	}
	if c.Notify.TimeoutSeconds <= 0 {
		return fmt.Errorf("notify.timeout_seconds must be > 0, got %d", c.Notify.TimeoutSeconds)
	}

	if c.Heartbeat.IntervalSeconds < 0 {
		return fmt.Errorf("heartbeat.interval_seconds must be >= 0, got %d", c.Heartbeat.IntervalSeconds)
	}

	return nil
}

// byAction returns the configured names keyed by action.
func (s SignalsConfig) byAction() map[string][]string {
	return map[string][]string{
		"terminate": s.Terminate,
		"pause":     s.Pause,
		"resume":    s.Resume,
		"reload":    s.Reload,
		"rotate":    s.Rotate,
	}
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// InstanceUUID returns the configured instance id, or one derived from the
// service name when none is set. derive maps a name to an id.
func (c *Config) InstanceUUID(derive func(string) uuid.UUID) uuid.UUID {
	if id, err := uuid.Parse(c.Instance.ID); err == nil {
		return id
	}
	return derive(c.Service.Name)
}

// MatchesWatch reports whether rel, a slash-separated path relative to the
// data directory, matches any watch pattern.
func (c *Config) MatchesWatch(rel string) bool {
	for _, pattern := range c.Watch.Patterns {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
