package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_MarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		duration Duration
		expected string
	}{
		{"zero", Duration(0), `"0s"`},
		{"grace period", Duration(time.Minute), `"1m0s"`},
		{"sub-second", Duration(250 * time.Millisecond), `"250ms"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.duration)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(b))
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string", `"90s"`, Duration(90 * time.Second), false},
		{"number is milliseconds", `1500`, Duration(1500 * time.Millisecond), false},
		{"numeric string is milliseconds", `"5000"`, Duration(5 * time.Second), false},
		{"null resets", `null`, Duration(0), false},
		{"garbage", `"soon"`, 0, true},
		{"boolean", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := Duration(time.Hour)
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	type sampler struct {
		StaleAfter Duration `yaml:"stale_after"`
	}

	var s sampler
	require.NoError(t, yaml.Unmarshal([]byte("stale_after: 2m"), &s))
	assert.Equal(t, Duration(2*time.Minute), s.StaleAfter)

	require.NoError(t, yaml.Unmarshal([]byte("stale_after: 750"), &s))
	assert.Equal(t, Duration(750*time.Millisecond), s.StaleAfter, "bare integers are milliseconds")

	out, err := yaml.Marshal(sampler{StaleAfter: Duration(45 * time.Second)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "45s")
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	type target struct {
		Grace   Duration      `mapstructure:"grace"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	var out target
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &out,
	})
	require.NoError(t, err)
	require.NoError(t, dec.Decode(map[string]any{"grace": 3000, "timeout": "2s"}))

	assert.Equal(t, Duration(3*time.Second), out.Grace)
	assert.Equal(t, 2*time.Second, out.Timeout)
}

func TestDuration_Helpers(t *testing.T) {
	t.Parallel()

	d := Duration(30 * time.Second)
	assert.Equal(t, 30*time.Second, d.Std())
	assert.Equal(t, int64(30000), d.Milliseconds())
	assert.Equal(t, "30s", d.String())
}
