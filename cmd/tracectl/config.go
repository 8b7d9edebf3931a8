package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/bluetrace/internal/config"
	"github.com/danmuck/bluetrace/internal/node"
)

type fileEnvelope struct {
	ProtocolAndVersion int `toml:"protocol_and_version"`
	CountryCode        int `toml:"country_code"`
	StateCode          int `toml:"state_code"`
}

type fileConfig struct {
	NodeID             string       `toml:"node_id"`
	ListenAddr         string       `toml:"listen_addr"`
	CorsOrigins        []string     `toml:"cors_origins"`
	DeviceModel        string       `toml:"device_model"`
	OrgID              int          `toml:"org_id"`
	ProtocolVersion    int          `toml:"protocol_version"`
	RefreshInterval    string       `toml:"refresh_interval"`
	RefreshIntervalMS  int64        `toml:"refresh_interval_ms"`
	TestMode           bool         `toml:"test_mode"`
	LegacyInterop      bool         `toml:"legacy_interop"`
	IdentityURL        string       `toml:"identity_url"`
	StorePath          string       `toml:"store_path"`
	InstrumentationDir string       `toml:"instrumentation_dir"`
	LogFile            string       `toml:"log_file"`
	RateLimitPerMinute int          `toml:"rate_limit_per_minute"`
	Envelope           fileEnvelope `toml:"envelope"`
}

// loadServiceConfig applies only the keys present in the file over the node
// defaults.
func loadServiceConfig(path string) (node.ServiceConfig, error) {
	cfg := node.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.ServiceConfig{}, fmt.Errorf("load tracer config: %w", err)
	}

	if meta.IsDefined("node_id") {
		if id := strings.TrimSpace(raw.NodeID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		if addr := strings.TrimSpace(raw.ListenAddr); addr != "" {
			cfg.ListenAddr = addr
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("device_model") {
		cfg.DeviceModel = strings.TrimSpace(raw.DeviceModel)
	}
	if meta.IsDefined("org_id") {
		cfg.OrgID = raw.OrgID
	}
	if meta.IsDefined("protocol_version") {
		cfg.ProtocolVersion = raw.ProtocolVersion
	}
	if meta.IsDefined("refresh_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RefreshInterval))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse refresh_interval: %w", err)
		}
		cfg.RefreshInterval = d
	}
	if meta.IsDefined("refresh_interval_ms") {
		cfg.RefreshInterval = time.Duration(raw.RefreshIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("test_mode") {
		cfg.TestMode = raw.TestMode
	}
	if meta.IsDefined("legacy_interop") {
		cfg.LegacyInterop = raw.LegacyInterop
	}
	if meta.IsDefined("identity_url") {
		cfg.IdentityURL = strings.TrimSpace(raw.IdentityURL)
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("instrumentation_dir") {
		cfg.InstrumentationDir = strings.TrimSpace(raw.InstrumentationDir)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = strings.TrimSpace(raw.LogFile)
	}

	if meta.IsDefined("rate_limit_per_minute") {
		if raw.RateLimitPerMinute < 0 {
			return node.ServiceConfig{}, fmt.Errorf("rate_limit_per_minute must not be negative")
		}
		cfg.RateLimitPerMinute = raw.RateLimitPerMinute
	}

	if meta.IsDefined("envelope") {
		env := config.EnvelopeConfig{
			ProtocolAndVersion: int(cfg.Header.ProtocolAndVersion),
			CountryCode:        int(cfg.Header.CountryCode),
			StateCode:          int(cfg.Header.StateCode),
		}
		if meta.IsDefined("envelope", "protocol_and_version") {
			env.ProtocolAndVersion = raw.Envelope.ProtocolAndVersion
		}
		if meta.IsDefined("envelope", "country_code") {
			env.CountryCode = raw.Envelope.CountryCode
		}
		if meta.IsDefined("envelope", "state_code") {
			env.StateCode = raw.Envelope.StateCode
		}
		if err := config.ValidateEnvelope(env); err != nil {
			return node.ServiceConfig{}, fmt.Errorf("envelope invalid: %w", err)
		}
		cfg.Header = env.Header()
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
