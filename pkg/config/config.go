package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role names accepted in node.role
const (
	RoleBase = "base"
	RolePack = "pack"
)

// Config represents the application configuration
type Config struct {
	Node     NodeConfig     `mapstructure:"node" yaml:"node"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	PTT      PTTConfig      `mapstructure:"ptt" yaml:"ptt"`
	Status   StatusConfig   `mapstructure:"status" yaml:"status"`
	Battery  BatteryConfig  `mapstructure:"battery" yaml:"battery"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// NodeConfig identifies this node and its link to the peer
type NodeConfig struct {
	Role         string        `mapstructure:"role" yaml:"role"`           // base or pack
	DeviceID     int           `mapstructure:"device_id" yaml:"device_id"` // 0 picks the role default
	PairedID     int           `mapstructure:"paired_id" yaml:"paired_id"`
	BindAddress  string        `mapstructure:"bind_address" yaml:"bind_address"`
	Port         int           `mapstructure:"port" yaml:"port"`
	PeerAddress  string        `mapstructure:"peer_address" yaml:"peer_address"` // host:port; required for pack
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// AudioConfig holds frame, codec and processing parameters
type AudioConfig struct {
	SampleRate       int     `mapstructure:"sample_rate" yaml:"sample_rate"`
	FrameMS          int     `mapstructure:"frame_ms" yaml:"frame_ms"`
	Bitrate          int     `mapstructure:"bitrate" yaml:"bitrate"`
	Complexity       int     `mapstructure:"complexity" yaml:"complexity"`
	MaxPayload       int     `mapstructure:"max_payload" yaml:"max_payload"`
	LimiterEnabled   bool    `mapstructure:"limiter_enabled" yaml:"limiter_enabled"`
	LimiterThreshold float64 `mapstructure:"limiter_threshold" yaml:"limiter_threshold"`
	SidetoneEnabled  bool    `mapstructure:"sidetone_enabled" yaml:"sidetone_enabled"`
	SidetoneLevel    float64 `mapstructure:"sidetone_level" yaml:"sidetone_level"`
	MaxConceal       int     `mapstructure:"max_conceal_frames" yaml:"max_conceal_frames"`
	Source           string  `mapstructure:"source" yaml:"source"` // tone or silence
	ToneHz           float64 `mapstructure:"tone_hz" yaml:"tone_hz"`
	ToneAmplitude    float64 `mapstructure:"tone_amplitude" yaml:"tone_amplitude"`
}

// FrameSamples returns the number of samples in one frame
func (a AudioConfig) FrameSamples() int {
	return a.SampleRate * a.FrameMS / 1000
}

// FrameDuration returns the frame period
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMS) * time.Millisecond
}

// PTTConfig holds button handling parameters
type PTTConfig struct {
	HoldThresholdMS int `mapstructure:"hold_threshold_ms" yaml:"hold_threshold_ms"`
	HoldRepeatMS    int `mapstructure:"hold_repeat_ms" yaml:"hold_repeat_ms"`
	QueueSize       int `mapstructure:"queue_size" yaml:"queue_size"`
}

// StatusConfig holds status reporting and link supervision parameters
type StatusConfig struct {
	Interval        time.Duration `mapstructure:"interval" yaml:"interval"`
	LinkTimeout     time.Duration `mapstructure:"link_timeout" yaml:"link_timeout"`
	LossWarnPercent float64       `mapstructure:"loss_warn_percent" yaml:"loss_warn_percent"`
	LightSleep      time.Duration `mapstructure:"light_sleep" yaml:"light_sleep"`
	DeepSleep       time.Duration `mapstructure:"deep_sleep" yaml:"deep_sleep"`
}

// BatteryConfig holds battery voltage thresholds (pack only)
type BatteryConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	FullVolts     float64       `mapstructure:"full_volts" yaml:"full_volts"`
	LowVolts      float64       `mapstructure:"low_volts" yaml:"low_volts"`
	CriticalVolts float64       `mapstructure:"critical_volts" yaml:"critical_volts"`
	EmptyVolts    float64       `mapstructure:"empty_volts" yaml:"empty_volts"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	// FixedVolts feeds a static reading when no hardware reader is attached
	FixedVolts float64 `mapstructure:"fixed_volts" yaml:"fixed_volts"`
}

// WebConfig holds web dashboard configuration
type WebConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig holds the history database configuration
type DatabaseConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
	MinBurst  time.Duration `mapstructure:"min_burst" yaml:"min_burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled" yaml:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/intercom-bridge")
	}

	// INTERCOM_NODE_ROLE=pack overrides node.role
	viper.SetEnvPrefix("INTERCOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file, defaults apply
		} else if os.IsNotExist(err) {
			// Explicit file missing, defaults apply
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyRoleDefaults()

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration for a role without reading
// files or the environment.
func Default(role string) *Config {
	cfg := &Config{
		Node: NodeConfig{
			Role:         role,
			BindAddress:  "0.0.0.0",
			Port:         5000,
			PollInterval: 100 * time.Millisecond,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			FrameMS:          20,
			Bitrate:          24000,
			Complexity:       5,
			MaxPayload:       256,
			LimiterEnabled:   true,
			LimiterThreshold: 0.95,
			SidetoneEnabled:  true,
			SidetoneLevel:    0.3,
			MaxConceal:       2,
			Source:           "silence",
			ToneHz:           440,
			ToneAmplitude:    0.25,
		},
		PTT:     PTTConfig{HoldThresholdMS: 200, HoldRepeatMS: 100, QueueSize: 32},
		Status:  StatusConfig{Interval: 5 * time.Second, LinkTimeout: 2 * time.Second, LossWarnPercent: 2.0, LightSleep: 90 * time.Second, DeepSleep: 20 * time.Minute},
		Battery: BatteryConfig{FullVolts: 4.2, LowVolts: 3.3, CriticalVolts: 3.0, EmptyVolts: 2.8, CheckInterval: 30 * time.Second},
		Web:     WebConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Path:      "intercom.db",
			Retention: 7 * 24 * time.Hour,
			MinBurst:  100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Prometheus: PrometheusConfig{Port: 9090, Path: "/metrics"}},
	}
	cfg.applyRoleDefaults()
	return cfg
}

// IsPack reports whether this node is the pack
func (c *Config) IsPack() bool { return c.Node.Role == RolePack }

// applyRoleDefaults fills fields whose default depends on node.role
func (c *Config) applyRoleDefaults() {
	c.Node.Role = strings.ToLower(strings.TrimSpace(c.Node.Role))
	if c.Node.DeviceID == 0 {
		switch c.Node.Role {
		case RoleBase:
			c.Node.DeviceID = 0x80
		case RolePack:
			c.Node.DeviceID = 0x01
		}
	}
	if c.Node.Role == RolePack && c.Node.PeerAddress == "" {
		c.Node.PeerAddress = fmt.Sprintf("192.168.4.1:%d", c.Node.Port)
	}
	// Only the pack hears itself
	if c.Node.Role == RoleBase {
		c.Audio.SidetoneEnabled = false
		c.Battery.Enabled = false
	}
}

// setDefaults sets default configuration values
func setDefaults() {
	// Node defaults
	viper.SetDefault("node.role", RoleBase)
	viper.SetDefault("node.device_id", 0)
	viper.SetDefault("node.paired_id", 0)
	viper.SetDefault("node.bind_address", "0.0.0.0")
	viper.SetDefault("node.port", 5000)
	viper.SetDefault("node.peer_address", "")
	viper.SetDefault("node.poll_interval", "100ms")

	// Audio defaults
	viper.SetDefault("audio.sample_rate", 16000)
	viper.SetDefault("audio.frame_ms", 20)
	viper.SetDefault("audio.bitrate", 24000)
	viper.SetDefault("audio.complexity", 5)
	viper.SetDefault("audio.max_payload", 256)
	viper.SetDefault("audio.limiter_enabled", true)
	viper.SetDefault("audio.limiter_threshold", 0.95)
	viper.SetDefault("audio.sidetone_enabled", true)
	viper.SetDefault("audio.sidetone_level", 0.3)
	viper.SetDefault("audio.max_conceal_frames", 2)
	viper.SetDefault("audio.source", "silence")
	viper.SetDefault("audio.tone_hz", 440.0)
	viper.SetDefault("audio.tone_amplitude", 0.25)

	// PTT defaults
	viper.SetDefault("ptt.hold_threshold_ms", 200)
	viper.SetDefault("ptt.hold_repeat_ms", 100)
	viper.SetDefault("ptt.queue_size", 32)

	// Status defaults
	viper.SetDefault("status.interval", "5s")
	viper.SetDefault("status.link_timeout", "2s")
	viper.SetDefault("status.loss_warn_percent", 2.0)
	viper.SetDefault("status.light_sleep", "90s")
	viper.SetDefault("status.deep_sleep", "20m")

	// Battery defaults
	viper.SetDefault("battery.enabled", false)
	viper.SetDefault("battery.full_volts", 4.2)
	viper.SetDefault("battery.low_volts", 3.3)
	viper.SetDefault("battery.critical_volts", 3.0)
	viper.SetDefault("battery.empty_volts", 2.8)
	viper.SetDefault("battery.check_interval", "30s")
	viper.SetDefault("battery.fixed_volts", 4.0)

	// Web defaults
	viper.SetDefault("web.enabled", true)
	viper.SetDefault("web.host", "0.0.0.0")
	viper.SetDefault("web.port", 8080)

	// Database defaults
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.path", "intercom.db")
	viper.SetDefault("database.retention", "168h")
	viper.SetDefault("database.min_burst", "100ms")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}
