package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/bluetrace/internal/protocol/envelope"
	"github.com/pelletier/go-toml/v2"
)

// TracerConfig is the on-disk configuration of a tracing node.
type TracerConfig struct {
	NodeID             string         `toml:"node_id"`
	ListenAddr         string         `toml:"listen_addr"`
	CorsOrigins        []string       `toml:"cors_origins"`
	DeviceModel        string         `toml:"device_model"`
	OrgID              int            `toml:"org_id"`
	ProtocolVersion    int            `toml:"protocol_version"`
	RefreshInterval    string         `toml:"refresh_interval"`
	TestMode           bool           `toml:"test_mode"`
	LegacyInterop      bool           `toml:"legacy_interop"`
	IdentityURL        string         `toml:"identity_url"`
	StorePath          string         `toml:"store_path"`
	InstrumentationDir string         `toml:"instrumentation_dir"`
	LogFile            string         `toml:"log_file"`
	RateLimitPerMinute int            `toml:"rate_limit_per_minute"`
	Envelope           EnvelopeConfig `toml:"envelope"`
}

// EnvelopeConfig holds the deployment header. Zero values mean the reference
// deployment header.
type EnvelopeConfig struct {
	ProtocolAndVersion int `toml:"protocol_and_version"`
	CountryCode        int `toml:"country_code"`
	StateCode          int `toml:"state_code"`
}

func LoadTracerConfig(path string) (TracerConfig, error) {
	var cfg TracerConfig
	if err := loadToml(path, &cfg); err != nil {
		return TracerConfig{}, err
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "tracectl"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9300"
	}
	if err := ValidateTracerConfig(cfg); err != nil {
		return TracerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateTracerConfig(cfg TracerConfig) error {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return fmt.Errorf("tracer config missing node_id")
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("tracer config missing listen_addr")
	}
	if !cfg.TestMode && strings.TrimSpace(cfg.IdentityURL) == "" {
		return fmt.Errorf("identity_url is required unless test_mode is set")
	}
	if cfg.OrgID < 0 {
		return fmt.Errorf("org_id must not be negative")
	}
	if cfg.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	if cfg.ProtocolVersion < 0 {
		return fmt.Errorf("protocol_version must not be negative")
	}
	if _, err := cfg.Interval(); err != nil {
		return err
	}
	if err := ValidateEnvelope(cfg.Envelope); err != nil {
		return fmt.Errorf("envelope invalid: %w", err)
	}
	return nil
}

func ValidateEnvelope(cfg EnvelopeConfig) error {
	if cfg.ProtocolAndVersion < 0 || cfg.ProtocolAndVersion > 0xFF {
		return fmt.Errorf("protocol_and_version out of range: %d", cfg.ProtocolAndVersion)
	}
	if cfg.CountryCode < 0 || cfg.CountryCode > 0xFFFF {
		return fmt.Errorf("country_code out of range: %d", cfg.CountryCode)
	}
	if cfg.StateCode < 0 || cfg.StateCode > 0xFFFF {
		return fmt.Errorf("state_code out of range: %d", cfg.StateCode)
	}
	return nil
}

// Interval parses refresh_interval. An empty value returns zero so callers
// fall back to their default.
func (cfg TracerConfig) Interval() (time.Duration, error) {
	raw := strings.TrimSpace(cfg.RefreshInterval)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse refresh_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("refresh_interval must be positive: %s", raw)
	}
	return d, nil
}

// Header returns the envelope header for this deployment.
func (cfg EnvelopeConfig) Header() envelope.Header {
	if cfg == (EnvelopeConfig{}) {
		return envelope.DefaultHeader()
	}
	return envelope.Header{
		ProtocolAndVersion: uint8(cfg.ProtocolAndVersion),
		CountryCode:        uint16(cfg.CountryCode),
		StateCode:          uint16(cfg.StateCode),
	}
}
