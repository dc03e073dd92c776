// Package conf loads and validates opswatch settings.
package conf

import "time"

// Settings is the root configuration structure.
type Settings struct {
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
	Server       ServerSettings       `mapstructure:"server" yaml:"server"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Runtime      RuntimeSettings      `mapstructure:"runtime" yaml:"runtime"`
	Sampler      SamplerSettings      `mapstructure:"sampler" yaml:"sampler"`
	Health       HealthSettings       `mapstructure:"health" yaml:"health"`
	Alerting     AlertingSettings     `mapstructure:"alerting" yaml:"alerting"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification"`
	History      HistorySettings      `mapstructure:"history" yaml:"history"`
	Stream       StreamSettings       `mapstructure:"stream" yaml:"stream"`
	MQTT         MQTTSettings         `mapstructure:"mqtt" yaml:"mqtt"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=console json"`
}

type ServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen" validate:"required"`
	// StreamConnectRate limits new stream connections per IP per minute.
	StreamConnectRate  int `mapstructure:"stream_connect_rate" yaml:"stream_connect_rate" validate:"gte=1"`
	StreamConnectBurst int `mapstructure:"stream_connect_burst" yaml:"stream_connect_burst" validate:"gte=1"`
}

type DatabaseSettings struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=sqlite mysql"`
	Path   string `mapstructure:"path" yaml:"path" validate:"required_if=Driver sqlite"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver mysql"`
	Debug  bool   `mapstructure:"debug" yaml:"debug"`
}

type RuntimeSettings struct {
	Docker DockerSettings `mapstructure:"docker" yaml:"docker"`
	Host   HostSettings   `mapstructure:"host" yaml:"host"`
}

type DockerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Socket  string `mapstructure:"socket" yaml:"socket" validate:"required_if=Enabled true"`
}

type HostSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Name     string `mapstructure:"name" yaml:"name"`
	DiskPath string `mapstructure:"disk_path" yaml:"disk_path"`
	Network  bool   `mapstructure:"network" yaml:"network"`
}

type SamplerSettings struct {
	IntervalMs     int      `mapstructure:"interval_ms" yaml:"interval_ms" validate:"gte=1000,lte=30000"`
	CallTimeoutMs  int      `mapstructure:"call_timeout_ms" yaml:"call_timeout_ms" validate:"gte=100"`
	Concurrency    int      `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	MaxCallsPerSec float64  `mapstructure:"max_calls_per_sec" yaml:"max_calls_per_sec" validate:"gte=0"`
	StaleAfter     Duration `mapstructure:"stale_after" yaml:"stale_after"`
	WindowSize     int      `mapstructure:"window_size" yaml:"window_size" validate:"gte=1"`
}

func (s SamplerSettings) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

func (s SamplerSettings) CallTimeout() time.Duration {
	return time.Duration(s.CallTimeoutMs) * time.Millisecond
}

type HealthSettings struct {
	UnreachableAfter     int     `mapstructure:"unreachable_after" yaml:"unreachable_after" validate:"gte=1"`
	MemoryCeilingPercent float64 `mapstructure:"memory_ceiling_percent" yaml:"memory_ceiling_percent" validate:"gt=0,lte=100"`
}

type AlertingSettings struct {
	DefaultCooldownMin int    `mapstructure:"default_cooldown_min" yaml:"default_cooldown_min" validate:"gte=0"`
	RulesFile          string `mapstructure:"rules_file" yaml:"rules_file"`
	SeedDefaults       bool   `mapstructure:"seed_defaults" yaml:"seed_defaults"`
}

func (a AlertingSettings) DefaultCooldown() time.Duration {
	return time.Duration(a.DefaultCooldownMin) * time.Minute
}

type NotificationSettings struct {
	TimeoutMs int          `mapstructure:"timeout_ms" yaml:"timeout_ms" validate:"gte=1"`
	SMTP      SMTPSettings `mapstructure:"smtp" yaml:"smtp"`
}

func (n NotificationSettings) Timeout() time.Duration {
	return time.Duration(n.TimeoutMs) * time.Millisecond
}

type SMTPSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from" validate:"omitempty,email"`
	// Encryption is passed to shoutrrr: auto, none, explicittls or implicittls.
	Encryption string `mapstructure:"encryption" yaml:"encryption" validate:"omitempty,oneof=auto none explicittls implicittls"`
}

type HistorySettings struct {
	RingCapacity    int `mapstructure:"ring_capacity" yaml:"ring_capacity" validate:"gte=1"`
	QueueSize       int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`
	BatchSize       int `mapstructure:"batch_size" yaml:"batch_size" validate:"gte=1"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms" validate:"gte=10"`
	WriteTimeoutMs  int `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms" validate:"gte=1"`
	RetentionDays   int `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=0"`
}

func (h HistorySettings) FlushInterval() time.Duration {
	return time.Duration(h.FlushIntervalMs) * time.Millisecond
}

func (h HistorySettings) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutMs) * time.Millisecond
}

type StreamSettings struct {
	DefaultIntervalMs int `mapstructure:"default_interval_ms" yaml:"default_interval_ms" validate:"gte=1000,lte=30000"`
	RecentFirings     int `mapstructure:"recent_firings" yaml:"recent_firings" validate:"gte=1"`
}

type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker      string `mapstructure:"broker" yaml:"broker" validate:"required_if=Enabled true"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username"`
	Password    string `mapstructure:"password" yaml:"password"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix" validate:"required_if=Enabled true"`
	QoS         int    `mapstructure:"qos" yaml:"qos" validate:"gte=0,lte=2"`
	Retain      bool   `mapstructure:"retain" yaml:"retain"`
}

type TelemetrySettings struct {
	SentryDSN   string `mapstructure:"sentry_dsn" yaml:"sentry_dsn" validate:"omitempty,url"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}
