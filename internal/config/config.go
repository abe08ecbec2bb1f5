// Package config loads the agent's YAML configuration file and layers
// environment and command-line overrides on top of it, the same
// flags-then-env-then-file precedence the teacher's pkg/config uses.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the agent's full configuration tree.
type Config struct {
	Debug     DebugConfig     `yaml:"debug"`
	Logging   LoggingConfig   `yaml:"logging"`
	Registry  RegistryConfig  `yaml:"registry"`
	Sweep     SweepConfig     `yaml:"sweep"`
}

// DebugConfig controls the optional fasthttp introspection surface.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig controls the zap-backed logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Sink     string `yaml:"sink"` // "stdout" or "file:<path>"
	AuditDir string `yaml:"audit_dir"`
}

// RegistryConfig seeds default queue sizing and the registration-rate
// limiter for newly registered bridges.
type RegistryConfig struct {
	RegistrationBurst int      `yaml:"registration_burst"`
	PollTimeout       Duration `yaml:"poll_timeout"`

	UpCapacity   int `yaml:"up_capacity"`
	DataCapacity int `yaml:"data_capacity"`
	DownCapacity int `yaml:"down_capacity"`

	UpMaxBatch   int `yaml:"up_max_batch"`
	DataMaxBatch int `yaml:"data_max_batch"`
	DownMaxBatch int `yaml:"down_max_batch"`
}

// SweepConfig controls the periodic maintenance sweep.
type SweepConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	DryRun  bool   `yaml:"dry_run"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Debug: DebugConfig{Enabled: true, Address: ":7070"},
		Logging: LoggingConfig{
			Level: "info",
			Sink:  "stdout",
		},
		Registry: RegistryConfig{
			RegistrationBurst: 32,
			PollTimeout:       Duration(100_000_000), // 100ms
			UpCapacity:        1024,
			DataCapacity:      4096,
			DownCapacity:      1024,
			UpMaxBatch:        64,
			DataMaxBatch:      256,
			DownMaxBatch:      64,
		},
		Sweep: SweepConfig{
			Enabled: true,
			Cron:    "*/1 * * * *",
		},
	}
}

// Load reads and parses the YAML file at path, starting from Default so
// any field the file omits keeps its built-in value.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	DebugAddr string
	Config    string
	Set       map[string]bool
}

// ParseFlags defines and parses the agent's command-line flags.
func ParseFlags() Flags {
	addrPtr := flag.String("debug-addr", ":7070", "debug HTTP listen address")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{DebugAddr: *addrPtr, Config: *cfgPtr, Set: set}
}

// ResolveConfigPath applies the flag-then-env precedence used throughout
// the rest of this config layer.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("DPQUEUE_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// ApplyEnv layers DPQUEUE_*-prefixed environment overrides onto cfg,
// mirroring the teacher's LoadEnvOverrides. Returns whether any env var
// was consulted, for the startup banner's config-source summary.
func ApplyEnv(cfg *Config, flags Flags) bool {
	used := false

	if flags.Set["debug-addr"] {
		cfg.Debug.Address = flags.DebugAddr
	} else if v := os.Getenv("DPQUEUE_DEBUG_ADDR"); v != "" {
		used = true
		cfg.Debug.Address = v
	}
	if v := os.Getenv("DPQUEUE_DEBUG_ENABLED"); v != "" {
		used = true
		cfg.Debug.Enabled = parseBool(v, cfg.Debug.Enabled)
	}
	if v := os.Getenv("DPQUEUE_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DPQUEUE_LOG_SINK"); v != "" {
		used = true
		cfg.Logging.Sink = v
	}
	if v := os.Getenv("DPQUEUE_AUDIT_DIR"); v != "" {
		used = true
		cfg.Logging.AuditDir = v
	}
	if v := os.Getenv("DPQUEUE_REGISTRATION_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			used = true
			cfg.Registry.RegistrationBurst = n
		}
	}
	if v := os.Getenv("DPQUEUE_SWEEP_CRON"); v != "" {
		used = true
		cfg.Sweep.Cron = v
	}
	if v := os.Getenv("DPQUEUE_SWEEP_ENABLED"); v != "" {
		used = true
		cfg.Sweep.Enabled = parseBool(v, cfg.Sweep.Enabled)
	}
	if v := os.Getenv("DPQUEUE_SWEEP_DRY_RUN"); v != "" {
		used = true
		cfg.Sweep.DryRun = parseBool(v, cfg.Sweep.DryRun)
	}

	return used
}

func parseBool(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

// validateAddr gives a clearer error for a malformed listen address than
// the one net.Listen would eventually produce. Only the package tests call
// it; startup does not.
func validateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *Config
)

// SetRuntime publishes the effective config for other packages to read via
// Runtime without threading it through every call. Nothing in this module
// calls SetRuntime or Runtime at present.
func SetRuntime(cfg *Config) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = cfg
}

// Runtime returns the most recently published config, or Default if none
// has been set yet.
func Runtime() *Config {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	if runtimeCfg == nil {
		return Default()
	}
	return runtimeCfg
}
