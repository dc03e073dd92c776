package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/homeops/opswatch/internal/errors"
)

// EnvPrefix is prepended to every environment override, e.g.
// OPSWATCH_SAMPLER_INTERVAL_MS=2000.
const EnvPrefix = "OPSWATCH"

// Load reads settings from the YAML file at path (or the default search
// locations when path is empty), applies environment overrides and defaults,
// and validates the result. A missing file is not an error when path is empty.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Newf("config file not found: %s", path).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("opswatch")
		for _, dir := range searchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Newf("failed to read config file: %w", err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("failed to unmarshal config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Defaults returns validated default settings without reading any file.
func Defaults() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	// Defaults are static; a decode failure here is a programming error.
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		panic(fmt.Sprintf("conf: invalid defaults: %v", err))
	}
	return &s
}

func searchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "opswatch"))
	}
	return append(paths, "/etc/opswatch")
}
