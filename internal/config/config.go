// Package config loads and validates runtime configuration for the RIFT
// host, viewer, and relay binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/wavry-oss/rift/internal/logging"
)

var log = logging.L("config")

// Config holds every tunable the streaming transport core reads at start.
// It is constructed once and never mutated after the host/viewer/relay loop
// begins — see SPEC_FULL.md "Global state".
type Config struct {
	// Identity
	Role        string `mapstructure:"role"` // "host", "viewer", or "relay"
	NoisePrivateKeyHex string `mapstructure:"noise_private_key_hex"`

	// Networking
	ListenAddr    string `mapstructure:"listen_addr"`     // host/relay bind address
	HostAddr      string `mapstructure:"host_addr"`       // viewer's dial target
	MaxDatagramSize int  `mapstructure:"max_datagram_size"`

	// Handshake timing
	HandshakeTimeoutMs int `mapstructure:"handshake_timeout_ms"`
	IdleTimeoutMs      int `mapstructure:"idle_timeout_ms"`

	// Fragmentation / assembly
	FrameTimeoutUs int `mapstructure:"frame_timeout_us"`

	// FEC
	FECShardCount int `mapstructure:"fec_shard_count"`
	FECCacheSize  int `mapstructure:"fec_cache_size"`

	// NACK
	NACKWindowSize int `mapstructure:"nack_window_size"`

	// DELTA congestion control
	DeltaTargetDelayUs int     `mapstructure:"delta_target_delay_us"`
	DeltaAlpha         float64 `mapstructure:"delta_alpha"`
	DeltaBeta          float64 `mapstructure:"delta_beta"`
	DeltaIncreaseKbps  int     `mapstructure:"delta_increase_kbps"`
	DeltaMinBitrateKbps int    `mapstructure:"delta_min_bitrate_kbps"`
	DeltaMaxBitrateKbps int    `mapstructure:"delta_max_bitrate_kbps"`
	DeltaKPersistence   int    `mapstructure:"delta_k_persistence"`
	DeltaEpsilonUs      float64 `mapstructure:"delta_epsilon_us"`

	// Relay
	RelayBandwidthLimitBps int    `mapstructure:"relay_bandwidth_limit_bps"`
	RelayIdleTimeoutMs     int    `mapstructure:"relay_idle_timeout_ms"`
	RelayMaxSessions       int    `mapstructure:"relay_max_sessions"`
	RelayLeaseSecretHex    string `mapstructure:"relay_lease_secret_hex"`

	// Logging
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	LogFile      string `mapstructure:"log_file"`
	LogMaxSizeMB int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int   `mapstructure:"log_max_backups"`

	// Metrics
	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`

	// Development-only escape hatch, set by Load when
	// WAVRY_ALLOW_INSECURE_SIGNALING is "1". No build mode rejects it and
	// no other package reads it.
	AllowInsecureSignaling bool `mapstructure:"-"`
}

// Default returns the configuration baseline described in SPEC_FULL.md §4.8
// (DELTA defaults) and §4.1/§4.4/§4.5/§4.6 (wire constants).
func Default() *Config {
	return &Config{
		Role:            "host",
		ListenAddr:      "0.0.0.0:5000",
		MaxDatagramSize: 1200,

		HandshakeTimeoutMs: 2000,
		IdleTimeoutMs:      30_000,

		FrameTimeoutUs: 50_000,

		FECShardCount: 8,
		FECCacheSize:  256,

		NACKWindowSize: 128,

		DeltaTargetDelayUs:  20_000,
		DeltaAlpha:          0.125,
		DeltaBeta:           0.85,
		DeltaIncreaseKbps:   500,
		DeltaMinBitrateKbps: 2_000,
		DeltaMaxBitrateKbps: 50_000,
		DeltaKPersistence:   5,
		DeltaEpsilonUs:      100.0,

		RelayBandwidthLimitBps: 12_500_000, // 100 Mbps
		RelayIdleTimeoutMs:     60_000,
		RelayMaxSessions:       4096,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		MetricsListenAddr: "127.0.0.1:9090",
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path), overlays environment variables prefixed RIFT_, validates, and
// returns the result. Fatal validation errors abort startup; warnings are
// logged and the field is clamped to a safe value.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rift")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("RIFT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.AllowInsecureSignaling = os.Getenv("WAVRY_ALLOW_INSECURE_SIGNALING") == "1"

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Rift")
	case "darwin":
		return "/Library/Application Support/Rift"
	default:
		return "/etc/rift"
	}
}
