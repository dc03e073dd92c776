package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeops/opswatch/internal/conf"
	"github.com/homeops/opswatch/internal/errors"
	"github.com/homeops/opswatch/internal/logger"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Go Version:")
	assert.Contains(t, out, Version)
}

func TestRulesValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeFile(t, "rules.yaml", `
rules:
  - name: high cpu
    metric: cpu_percent
    operator: ">"
    threshold: 90
    cooldown_min: 10
    channels:
      - type: email
        address: ops@example.net
  - name: nginx down
    metric: container_status
    operator: "="
    state: unreachable
    entity_id: nginx
    channels:
      - type: generic-webhook
        url: https://hooks.example.net/opswatch
`)
		out, err := execute(t, "rules", "validate", path)
		require.NoError(t, err)
		assert.Contains(t, out, "2 rules OK")
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeFile(t, "rules.yaml", `
rules:
  - name: temp
    metric: temperature
    operator: ">"
    threshold: 90
  - name: dup
    metric: cpu_percent
    operator: ">"
    threshold: 1
  - name: dup
    metric: cpu_percent
    operator: "<"
    threshold: 1
`)
		_, err := execute(t, "rules", "validate", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown metric")
		assert.Contains(t, err.Error(), "duplicate name")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "rules", "validate", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})

	t.Run("requires argument", func(t *testing.T) {
		_, err := execute(t, "rules", "validate")
		assert.Error(t, err)
	})
}

func TestChannelTestRejectsInvalidChannel(t *testing.T) {
	cfg := writeFile(t, "opswatch.yaml", "log:\n  level: error\n")

	_, err := execute(t, "--config", cfg, "channel", "test", "--type", "email")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = execute(t, "--config", cfg, "channel", "test", "--type", "pager", "--url", "https://x.example.net")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestGlobalFlagsOverrideLogSettings(t *testing.T) {
	cfg := writeFile(t, "opswatch.yaml", "log:\n  level: info\n  format: console\n")
	flags := &globalFlags{cfgFile: cfg, logLevel: "debug", logFormat: "json"}

	settings, log, err := flags.load()
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.Equal(t, "debug", settings.Log.Level)
	assert.Equal(t, "json", settings.Log.Format)

	flags.logLevel = "loud"
	_, _, err = flags.load()
	assert.Error(t, err)
}

func TestBuildRuntimeRequiresOne(t *testing.T) {
	_, err := buildRuntime(context.Background(), conf.RuntimeSettings{}, logger.NewNop())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	rt, err := buildRuntime(context.Background(), conf.RuntimeSettings{Host: conf.HostSettings{Enabled: true, Name: "box"}}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "multi", rt.Name())
}
