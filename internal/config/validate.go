package config

import (
	"fmt"
	"strings"
)

var validRoles = map[string]bool{
	"host":   true,
	"viewer": true,
	"relay":  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// ValidationResult separates validation errors into ones that must abort
// startup and ones that are logged and worked around by clamping.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings as a single slice, for
// callers that just want to log everything.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...interface{}) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the configuration, clamping recoverable fields in
// place and collecting fatal errors for anything that cannot be safely
// defaulted. Call after Unmarshal and before the config is handed to a loop.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if !validRoles[strings.ToLower(c.Role)] {
		result.fatal("role %q must be one of host, viewer, relay", c.Role)
	}

	if strings.ToLower(c.Role) == "viewer" && c.HostAddr == "" {
		result.fatal("host_addr is required when role is viewer")
	}

	if strings.ToLower(c.Role) == "relay" && c.RelayLeaseSecretHex == "" {
		result.fatal("relay_lease_secret_hex is required when role is relay")
	}

	if c.MaxDatagramSize < 576 || c.MaxDatagramSize > 9000 {
		result.warn("max_datagram_size %d outside [576,9000], clamping to 1200", c.MaxDatagramSize)
		c.MaxDatagramSize = 1200
	}

	if c.HandshakeTimeoutMs < 100 {
		result.warn("handshake_timeout_ms %d too low, clamping to 2000", c.HandshakeTimeoutMs)
		c.HandshakeTimeoutMs = 2000
	}
	if c.IdleTimeoutMs < 1000 {
		result.warn("idle_timeout_ms %d too low, clamping to 30000", c.IdleTimeoutMs)
		c.IdleTimeoutMs = 30_000
	}

	if c.FrameTimeoutUs <= 0 {
		result.warn("frame_timeout_us %d invalid, clamping to 50000", c.FrameTimeoutUs)
		c.FrameTimeoutUs = 50_000
	}

	if c.FECShardCount < 2 || c.FECShardCount > 64 {
		result.warn("fec_shard_count %d outside [2,64], clamping to 8", c.FECShardCount)
		c.FECShardCount = 8
	}
	if c.FECCacheSize < c.FECShardCount {
		result.warn("fec_cache_size %d smaller than fec_shard_count, clamping to 256", c.FECCacheSize)
		c.FECCacheSize = 256
	}

	if c.NACKWindowSize < 1 || c.NACKWindowSize > 128 {
		result.warn("nack_window_size %d outside [1,128], clamping to 128", c.NACKWindowSize)
		c.NACKWindowSize = 128
	}

	if c.DeltaAlpha <= 0 || c.DeltaAlpha >= 1 {
		result.warn("delta_alpha %f outside (0,1), clamping to 0.125", c.DeltaAlpha)
		c.DeltaAlpha = 0.125
	}
	if c.DeltaBeta <= 0 || c.DeltaBeta >= 1 {
		result.warn("delta_beta %f outside (0,1), clamping to 0.85", c.DeltaBeta)
		c.DeltaBeta = 0.85
	}
	if c.DeltaMinBitrateKbps <= 0 {
		result.warn("delta_min_bitrate_kbps %d invalid, clamping to 2000", c.DeltaMinBitrateKbps)
		c.DeltaMinBitrateKbps = 2_000
	}
	if c.DeltaMaxBitrateKbps <= c.DeltaMinBitrateKbps {
		result.warn("delta_max_bitrate_kbps %d must exceed min, clamping to 50000", c.DeltaMaxBitrateKbps)
		c.DeltaMaxBitrateKbps = 50_000
	}
	if c.DeltaKPersistence < 1 {
		result.warn("delta_k_persistence %d too low, clamping to 5", c.DeltaKPersistence)
		c.DeltaKPersistence = 5
	}
	if c.DeltaTargetDelayUs <= 0 {
		result.warn("delta_target_delay_us %d invalid, clamping to 20000", c.DeltaTargetDelayUs)
		c.DeltaTargetDelayUs = 20_000
	}

	if c.RelayBandwidthLimitBps < 0 {
		result.warn("relay_bandwidth_limit_bps %d negative, clamping to 12500000", c.RelayBandwidthLimitBps)
		c.RelayBandwidthLimitBps = 12_500_000
	}
	if c.RelayMaxSessions < 1 {
		result.warn("relay_max_sessions %d too low, clamping to 4096", c.RelayMaxSessions)
		c.RelayMaxSessions = 4096
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.warn("unrecognized log_level %q, defaulting to info", c.LogLevel)
		c.LogLevel = "info"
	}
	if !validLogFormats[strings.ToLower(c.LogFormat)] {
		result.warn("unrecognized log_format %q, defaulting to text", c.LogFormat)
		c.LogFormat = "text"
	}

	return result
}
