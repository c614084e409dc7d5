// Package config loads the daemon's settings from a single conduit.jsonc
// file, the way the teacher loads oubliette.jsonc: JSONC with defaults
// applied for anything left unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DaemonSection holds process-wide daemon settings.
type DaemonSection struct {
	// ListenAddress is reserved for the transport layer (HTTP/SSE/WS),
	// which is out of scope for this module; kept so a future transport
	// can read it from the same config file.
	ListenAddress string `json:"listen_address"`

	LogDir  string `json:"log_dir"`
	LogJSON bool   `json:"log_json"`

	EventBufferSize int `json:"event_buffer_size"`

	// IdleSessionTimeoutMinutes is how long an active session can go
	// without a recorded event or other update before the idle sweep
	// terminates it.
	IdleSessionTimeoutMinutes int `json:"idle_session_timeout_minutes"`

	// UnparsedEventRatePerSec and UnparsedEventBurst bound how many
	// agent.unparsed events a single session can emit before the
	// escalation rule (spec.md's adapter_parse error) kicks in.
	UnparsedEventRatePerSec float64 `json:"unparsed_event_rate_per_sec"`
	UnparsedEventBurst      int     `json:"unparsed_event_burst"`

	// PTYSubscriberCap bounds attach_terminal subscribers per process
	// (spec.md section 4.2's 256-subscriber cap).
	PTYSubscriberCap int `json:"pty_subscriber_cap"`

	// ProcessLogDir is the root the Process/PTY Manager writes every
	// process's stdout/stderr/combined logs under, one subdirectory per
	// process id, for both PTY and non-PTY processes alike.
	ProcessLogDir    string `json:"process_log_dir"`
	LogRetentionDays int    `json:"log_retention_days"`
}

// SharedServerSection configures the shared-agent-server manager's port
// allocator and health probing.
type SharedServerSection struct {
	PortRangeStart int `json:"port_range_start"`
	PortRangeEnd   int `json:"port_range_end"`
	HealthTimeoutSeconds int `json:"health_timeout_seconds"`
	HealthIntervalMillis int `json:"health_interval_millis"`
}

// AdapterDefaults carries per-agent-kind defaults.
type AdapterDefaults struct {
	DefaultModel        string `json:"default_model"`
	MaxConcurrent        int    `json:"max_concurrent"`
	StartupTimeoutSeconds int   `json:"startup_timeout_seconds"`
	RunTimeoutSeconds     int   `json:"run_timeout_seconds"`
	GracefulStopSeconds   int   `json:"graceful_stop_seconds"`
}

// DefaultsSection holds per-agent-kind adapter defaults, keyed by kind
// ("opencode", "droid", "claude-code", "codex", "amp", "codebuff", ...).
type DefaultsSection struct {
	Adapters     map[string]AdapterDefaults `json:"adapters"`
	SharedServer SharedServerSection        `json:"shared_server"`
	ContainerBackend string                 `json:"container_backend"` // "host" or "docker"
}

// UnifiedConfig is the single configuration file format for conduit.jsonc.
type UnifiedConfig struct {
	Daemon      DaemonSection       `json:"daemon"`
	Credentials CredentialsSection  `json:"credentials"`
	Defaults    DefaultsSection     `json:"defaults"`
	Models      ModelsSection       `json:"models"`
	Containers  map[string]string   `json:"containers"` // container type name -> image name
}

// CredentialsSection wraps provider credentials.
type CredentialsSection struct {
	Providers ProviderCredentials `json:"providers"`
}

// ModelsSection contains model shorthand definitions.
type ModelsSection struct {
	Models map[string]ModelDefinition `json:"models"`
}

// LoadedConfig is the fully-resolved configuration handed to the daemon's
// wiring code in cmd/server.
type LoadedConfig struct {
	Daemon      DaemonSection
	Credentials *CredentialRegistry
	Defaults    DefaultsSection
	Models      *ModelRegistry
	Containers  map[string]string
	ConfigDir   string
}

// FindConfigPath locates conduit.jsonc using precedence:
//  1. configDir + /conduit.jsonc (if configDir specified)
//  2. ./config/conduit.jsonc (project-local)
//  3. ~/.conduit/config/conduit.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	var candidates []string

	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "conduit.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "conduit.jsonc"))

	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".conduit", "config", "conduit.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs, nil
			}
			return path, nil
		}
	}

	return "", fmt.Errorf("conduit.jsonc not found; tried: %v", candidates)
}

// LoadUnifiedConfig loads configuration from a single conduit.jsonc file.
func LoadUnifiedConfig(configPath string) (*UnifiedConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := StripJSONComments(data)

	var cfg UnifiedConfig
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)

	if cfg.Credentials.Providers.Credentials == nil {
		cfg.Credentials.Providers.Credentials = make(map[string]ProviderCredential)
	}
	if cfg.Models.Models == nil {
		cfg.Models.Models = make(map[string]ModelDefinition)
	}
	if cfg.Defaults.Adapters == nil {
		cfg.Defaults.Adapters = make(map[string]AdapterDefaults)
	}

	return &cfg, nil
}

func applyDefaults(cfg *UnifiedConfig) {
	if cfg.Daemon.LogDir == "" {
		cfg.Daemon.LogDir = "data/logs"
	}
	if cfg.Daemon.EventBufferSize == 0 {
		cfg.Daemon.EventBufferSize = 1024
	}
	if cfg.Daemon.IdleSessionTimeoutMinutes == 0 {
		cfg.Daemon.IdleSessionTimeoutMinutes = 60
	}
	if cfg.Daemon.UnparsedEventRatePerSec == 0 {
		cfg.Daemon.UnparsedEventRatePerSec = 1
	}
	if cfg.Daemon.UnparsedEventBurst == 0 {
		cfg.Daemon.UnparsedEventBurst = 5
	}
	if cfg.Daemon.PTYSubscriberCap == 0 {
		cfg.Daemon.PTYSubscriberCap = 256
	}
	if cfg.Daemon.ProcessLogDir == "" {
		cfg.Daemon.ProcessLogDir = "data/process-logs"
	}
	if cfg.Daemon.LogRetentionDays == 0 {
		cfg.Daemon.LogRetentionDays = 7
	}

	if cfg.Defaults.SharedServer.PortRangeStart == 0 {
		cfg.Defaults.SharedServer.PortRangeStart = 41000
	}
	if cfg.Defaults.SharedServer.PortRangeEnd == 0 {
		cfg.Defaults.SharedServer.PortRangeEnd = 41999
	}
	if cfg.Defaults.SharedServer.HealthTimeoutSeconds == 0 {
		cfg.Defaults.SharedServer.HealthTimeoutSeconds = 30
	}
	if cfg.Defaults.SharedServer.HealthIntervalMillis == 0 {
		cfg.Defaults.SharedServer.HealthIntervalMillis = 250
	}
	if cfg.Defaults.ContainerBackend == "" {
		cfg.Defaults.ContainerBackend = "host"
	}

	if cfg.Defaults.Adapters == nil {
		cfg.Defaults.Adapters = make(map[string]AdapterDefaults)
	}
	for _, kind := range []string{"opencode", "droid", "claude-code", "codex", "amp", "codebuff"} {
		d := cfg.Defaults.Adapters[kind]
		if d.MaxConcurrent == 0 {
			d.MaxConcurrent = 10
		}
		if d.StartupTimeoutSeconds == 0 {
			d.StartupTimeoutSeconds = 30
		}
		if d.RunTimeoutSeconds == 0 {
			d.RunTimeoutSeconds = 3600
		}
		if d.GracefulStopSeconds == 0 {
			d.GracefulStopSeconds = 2
		}
		cfg.Defaults.Adapters[kind] = d
	}

	if cfg.Containers == nil {
		cfg.Containers = make(map[string]string)
	}
	if len(cfg.Containers) == 0 {
		if isDevMode() {
			cfg.Containers["base"] = "conduit-base:latest"
			cfg.Containers["dev"] = "conduit-dev:latest"
		} else {
			cfg.Containers["base"] = "ghcr.io/driftworks/conduit-base:latest"
			cfg.Containers["dev"] = "ghcr.io/driftworks/conduit-dev:latest"
		}
	}
}

// isDevMode returns true if CONDUIT_DEV=1 is set.
func isDevMode() bool {
	return os.Getenv("CONDUIT_DEV") == "1"
}

// ToLoadedConfig converts UnifiedConfig to LoadedConfig.
func (u *UnifiedConfig) ToLoadedConfig(configDir string) *LoadedConfig {
	return &LoadedConfig{
		Daemon: u.Daemon,
		Credentials: &CredentialRegistry{
			Providers: u.Credentials.Providers,
		},
		Defaults:   u.Defaults,
		Models:     &ModelRegistry{Models: u.Models.Models},
		Containers: u.Containers,
		ConfigDir:  configDir,
	}
}

// LoadAll loads configuration from conduit.jsonc.
func LoadAll(configDir string) (*LoadedConfig, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		return nil, err
	}

	unified, err := LoadUnifiedConfig(configPath)
	if err != nil {
		return nil, err
	}

	return unified.ToLoadedConfig(filepath.Dir(configPath)), nil
}

// AdapterConfig returns the resolved defaults for a given agent kind,
// falling back to a zero-value AdapterDefaults if none was configured.
func (c *LoadedConfig) AdapterConfig(kind string) AdapterDefaults {
	return c.Defaults.Adapters[kind]
}
