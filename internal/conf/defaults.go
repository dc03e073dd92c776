package conf

import "github.com/spf13/viper"

// setDefaults registers a default for every option so environment overrides
// work even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.listen", ":8089")
	v.SetDefault("server.stream_connect_rate", 10)
	v.SetDefault("server.stream_connect_burst", 15)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "opswatch.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.debug", false)

	v.SetDefault("runtime.docker.enabled", true)
	v.SetDefault("runtime.docker.socket", "/var/run/docker.sock")
	v.SetDefault("runtime.host.enabled", true)
	v.SetDefault("runtime.host.name", "")
	v.SetDefault("runtime.host.disk_path", "/")
	v.SetDefault("runtime.host.network", true)

	v.SetDefault("sampler.interval_ms", 5000)
	v.SetDefault("sampler.call_timeout_ms", 3000)
	v.SetDefault("sampler.concurrency", 4)
	v.SetDefault("sampler.max_calls_per_sec", 50.0)
	v.SetDefault("sampler.stale_after", "60s")
	v.SetDefault("sampler.window_size", 120)

	v.SetDefault("health.unreachable_after", 3)
	v.SetDefault("health.memory_ceiling_percent", 98.0)

	v.SetDefault("alerting.default_cooldown_min", 15)
	v.SetDefault("alerting.rules_file", "")
	v.SetDefault("alerting.seed_defaults", true)

	v.SetDefault("notification.timeout_ms", 10000)
	v.SetDefault("notification.smtp.host", "")
	v.SetDefault("notification.smtp.port", 587)
	v.SetDefault("notification.smtp.username", "")
	v.SetDefault("notification.smtp.password", "")
	v.SetDefault("notification.smtp.from", "")
	v.SetDefault("notification.smtp.encryption", "auto")

	v.SetDefault("history.ring_capacity", 1000)
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("history.batch_size", 64)
	v.SetDefault("history.flush_interval_ms", 1000)
	v.SetDefault("history.write_timeout_ms", 5000)
	v.SetDefault("history.retention_days", 30)

	v.SetDefault("stream.default_interval_ms", 5000)
	v.SetDefault("stream.recent_firings", 50)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "opswatch")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "opswatch")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
}
