package config

import (
	"fmt"
	"net"
	"strings"
)

// validate validates the configuration
func validate(cfg *Config) error {
	// Node
	if cfg.Node.Role != RoleBase && cfg.Node.Role != RolePack {
		return fmt.Errorf("node.role must be %q or %q, got %q", RoleBase, RolePack, cfg.Node.Role)
	}
	if cfg.Node.Port <= 0 || cfg.Node.Port > 65535 {
		return fmt.Errorf("node.port must be between 1 and 65535")
	}
	if cfg.Node.DeviceID < 0 || cfg.Node.DeviceID > 0xFF {
		return fmt.Errorf("node.device_id must fit in one byte")
	}
	if cfg.Node.PeerAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.Node.PeerAddress); err != nil {
			return fmt.Errorf("node.peer_address must be host:port: %w", err)
		}
	}
	if cfg.Node.Role == RolePack && cfg.Node.PeerAddress == "" {
		return fmt.Errorf("node.peer_address is required for the pack")
	}
	if cfg.Node.PollInterval <= 0 {
		return fmt.Errorf("node.poll_interval must be positive")
	}

	// Audio
	a := cfg.Audio
	switch a.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("audio.sample_rate %d is not a supported codec rate", a.SampleRate)
	}
	switch a.FrameMS {
	case 10, 20, 40, 60:
	default:
		return fmt.Errorf("audio.frame_ms must be 10, 20, 40 or 60")
	}
	if a.Bitrate < 6000 || a.Bitrate > 510000 {
		return fmt.Errorf("audio.bitrate must be between 6000 and 510000")
	}
	if a.Complexity < 0 || a.Complexity > 10 {
		return fmt.Errorf("audio.complexity must be between 0 and 10")
	}
	if a.MaxPayload <= 0 || a.MaxPayload > 0xFFFF {
		return fmt.Errorf("audio.max_payload must be between 1 and 65535")
	}
	if a.LimiterThreshold <= 0 || a.LimiterThreshold > 1 {
		return fmt.Errorf("audio.limiter_threshold must be in (0, 1]")
	}
	if a.SidetoneLevel < 0 || a.SidetoneLevel > 1 {
		return fmt.Errorf("audio.sidetone_level must be in [0, 1]")
	}
	if a.MaxConceal < 0 {
		return fmt.Errorf("audio.max_conceal_frames must not be negative")
	}
	switch strings.ToLower(a.Source) {
	case "tone", "silence":
	default:
		return fmt.Errorf("audio.source must be tone or silence")
	}

	// PTT
	if cfg.PTT.HoldThresholdMS <= 0 {
		return fmt.Errorf("ptt.hold_threshold_ms must be positive")
	}
	if cfg.PTT.HoldRepeatMS <= 0 {
		return fmt.Errorf("ptt.hold_repeat_ms must be positive")
	}
	if cfg.PTT.QueueSize <= 0 {
		return fmt.Errorf("ptt.queue_size must be positive")
	}

	// Status
	if cfg.Status.Interval <= 0 {
		return fmt.Errorf("status.interval must be positive")
	}
	if cfg.Status.LinkTimeout <= 0 {
		return fmt.Errorf("status.link_timeout must be positive")
	}
	if cfg.Status.LossWarnPercent < 0 || cfg.Status.LossWarnPercent > 100 {
		return fmt.Errorf("status.loss_warn_percent must be in [0, 100]")
	}
	if cfg.Status.DeepSleep > 0 && cfg.Status.LightSleep > cfg.Status.DeepSleep {
		return fmt.Errorf("status.light_sleep must not exceed status.deep_sleep")
	}

	// Battery
	if cfg.Battery.Enabled {
		b := cfg.Battery
		if !(b.EmptyVolts < b.CriticalVolts && b.CriticalVolts < b.LowVolts && b.LowVolts < b.FullVolts) {
			return fmt.Errorf("battery thresholds must satisfy empty < critical < low < full")
		}
	}

	// Web
	if cfg.Web.Enabled {
		if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
			return fmt.Errorf("web.port must be between 1 and 65535")
		}
	}

	// Database
	if cfg.Database.Enabled && cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required when database is enabled")
	}

	// Metrics
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(cfg.Metrics.Prometheus.Path, "/") {
			return fmt.Errorf("metrics.prometheus.path must start with /")
		}
	}

	return nil
}
