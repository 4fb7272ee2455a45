package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName           = "supervisor"
	DefaultTarget         = "afb-daemon"
	DefaultRootAPI        = "/api"
	DefaultHTTPPort       = 1619
	DefaultAPITimeout     = 20 * time.Second
	DefaultSessionTimeout = 32000000 * time.Second
	DefaultSessionMax     = 10
	DefaultWorkDir        = "."

	envPrefix = "GOSUPERVISOR_"
)

// CredentialsMode selects how attached peers are identified.
type CredentialsMode string

const (
	// CredentialsAuto verifies peer credentials where the platform can.
	CredentialsAuto CredentialsMode = "auto"
	CredentialsOn   CredentialsMode = "on"
	CredentialsOff  CredentialsMode = "off"
)

// Config aggregates the daemon settings.
type Config struct {
	Name             string
	Target           string
	RendezvousSocket string
	APISocket        string
	// HTTPPort enables the HTTP gateway when not zero.
	HTTPPort       int
	RootAPI        string
	APITimeout     time.Duration
	SessionTimeout time.Duration
	SessionMax     int
	WorkDir        string
	Credentials    CredentialsMode
	HandshakeExtra string
	OrphanSignal   syscall.Signal
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Name:           DefaultName,
		Target:         DefaultTarget,
		HTTPPort:       DefaultHTTPPort,
		RootAPI:        DefaultRootAPI,
		APITimeout:     DefaultAPITimeout,
		SessionTimeout: DefaultSessionTimeout,
		SessionMax:     DefaultSessionMax,
		WorkDir:        DefaultWorkDir,
		Credentials:    CredentialsAuto,
		OrphanSignal:   syscall.SIGHUP,
	}
}

// Load builds a Config from an optional JSON, YAML or TOML file plus environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := raw.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	var errs []error
	if c.Target == "" || strings.Contains(c.Target, "/") {
		errs = append(errs, fmt.Errorf("target %q must be a single path segment", c.Target))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port %d out of range", c.HTTPPort))
	}
	if !strings.HasPrefix(c.RootAPI, "/") {
		errs = append(errs, fmt.Errorf("root_api %q must start with /", c.RootAPI))
	}
	if c.APITimeout < 0 {
		errs = append(errs, errors.New("api_timeout must be >= 0"))
	}
	if c.SessionTimeout <= 0 {
		errs = append(errs, errors.New("session_timeout must be > 0"))
	}
	if c.SessionMax <= 0 {
		errs = append(errs, errors.New("session_max must be > 0"))
	}
	switch c.Credentials {
	case CredentialsAuto, CredentialsOn, CredentialsOff:
	default:
		errs = append(errs, fmt.Errorf("credentials %q must be auto, on or off", c.Credentials))
	}
	if c.OrphanSignal <= 0 {
		errs = append(errs, errors.New("orphan_signal must be a signal"))
	}
	return errors.Join(errs...)
}

// ParseSignal accepts "SIGHUP", "hup" or a signal number.
func ParseSignal(v string) (syscall.Signal, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid signal %q", v)
		}
		return syscall.Signal(n), nil
	}
	name := strings.ToUpper(v)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", v)
	}
	return sig, nil
}

type fileConfig struct {
	Name             string `json:"name" yaml:"name" toml:"name"`
	Target           string `json:"target" yaml:"target" toml:"target"`
	RendezvousSocket string `json:"rendezvous_socket" yaml:"rendezvous_socket" toml:"rendezvous_socket"`
	APISocket        string `json:"api_socket" yaml:"api_socket" toml:"api_socket"`
	HTTPPort         *int   `json:"http_port" yaml:"http_port" toml:"http_port"`
	RootAPI          string `json:"root_api" yaml:"root_api" toml:"root_api"`
	APITimeout       string `json:"api_timeout" yaml:"api_timeout" toml:"api_timeout"`
	SessionTimeout   string `json:"session_timeout" yaml:"session_timeout" toml:"session_timeout"`
	SessionMax       int    `json:"session_max" yaml:"session_max" toml:"session_max"`
	WorkDir          string `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	Credentials      string `json:"credentials" yaml:"credentials" toml:"credentials"`
	HandshakeExtra   string `json:"handshake_extra" yaml:"handshake_extra" toml:"handshake_extra"`
	OrphanSignal     string `json:"orphan_signal" yaml:"orphan_signal" toml:"orphan_signal"`
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return raw, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	return raw, err
}

func (raw fileConfig) apply(cfg *Config) error {
	setString(&cfg.Name, raw.Name)
	setString(&cfg.Target, raw.Target)
	setString(&cfg.RendezvousSocket, raw.RendezvousSocket)
	setString(&cfg.APISocket, raw.APISocket)
	setString(&cfg.RootAPI, raw.RootAPI)
	setString(&cfg.WorkDir, raw.WorkDir)
	setString(&cfg.HandshakeExtra, raw.HandshakeExtra)
	if raw.HTTPPort != nil {
		cfg.HTTPPort = *raw.HTTPPort
	}
	if raw.SessionMax != 0 {
		cfg.SessionMax = raw.SessionMax
	}
	if raw.Credentials != "" {
		cfg.Credentials = CredentialsMode(strings.ToLower(raw.Credentials))
	}

	if raw.APITimeout != "" {
		dur, err := time.ParseDuration(raw.APITimeout)
		if err != nil {
			return fmt.Errorf("parse api_timeout: %w", err)
		}
		cfg.APITimeout = dur
	}
	if raw.SessionTimeout != "" {
		dur, err := time.ParseDuration(raw.SessionTimeout)
		if err != nil {
			return fmt.Errorf("parse session_timeout: %w", err)
		}
		cfg.SessionTimeout = dur
	}
	if raw.OrphanSignal != "" {
		sig, err := ParseSignal(raw.OrphanSignal)
		if err != nil {
			return fmt.Errorf("parse orphan_signal: %w", err)
		}
		cfg.OrphanSignal = sig
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyEnvOverrides(cfg *Config) {
	env := func(key string) (string, bool) {
		v := os.Getenv(envPrefix + key)
		return v, v != ""
	}
	invalid := func(key, v string, err error) {
		log.Warn().Err(err).Str("value", v).Msgf("invalid %s%s value ignored", envPrefix, key)
	}

	if v, ok := env("NAME"); ok {
		cfg.Name = v
	}
	if v, ok := env("TARGET"); ok {
		cfg.Target = v
	}
	if v, ok := env("ROOT_API"); ok {
		cfg.RootAPI = v
	}
	if v, ok := env("WORK_DIR"); ok {
		cfg.WorkDir = v
	}
	if v, ok := env("HANDSHAKE_EXTRA"); ok {
		cfg.HandshakeExtra = v
	}
	if v, ok := env("CREDENTIALS"); ok {
		cfg.Credentials = CredentialsMode(strings.ToLower(v))
	}
	if v, ok := env("HTTP_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPPort = n
		} else {
			invalid("HTTP_PORT", v, err)
		}
	}
	if v, ok := env("SESSION_MAX"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionMax = n
		} else {
			invalid("SESSION_MAX", v, err)
		}
	}
	if v, ok := env("API_TIMEOUT"); ok {
		if dur, err := time.ParseDuration(v); err == nil && dur >= 0 {
			cfg.APITimeout = dur
		} else {
			invalid("API_TIMEOUT", v, err)
		}
	}
	if v, ok := env("SESSION_TIMEOUT"); ok {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.SessionTimeout = dur
		} else {
			invalid("SESSION_TIMEOUT", v, err)
		}
	}
	if v, ok := env("ORPHAN_SIGNAL"); ok {
		if sig, err := ParseSignal(v); err == nil {
			cfg.OrphanSignal = sig
		} else {
			invalid("ORPHAN_SIGNAL", v, err)
		}
	}
}
