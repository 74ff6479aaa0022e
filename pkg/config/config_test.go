package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	r "github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg, err := New(nil)
	r.NoError(t, err)

	r.NotEmpty(t, cfg.AppName)
	r.Equal(t, DefaultServerURL, cfg.ServerURL)
	r.Equal(t, DefaultSampleRate, cfg.SampleRate)
	r.Equal(t, DefaultMaxSpans, cfg.MaxSpans)
	r.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	r.Equal(t, time.Duration(0), cfg.MinSpanDuration)
}

func TestConfig_EnvOverride(t *testing.T) {
	t.Setenv("PULSE_APP_NAME", "checkout-svc")
	t.Setenv("PULSE_SERVER_URL", "http://collector:8200")
	t.Setenv("PULSE_SAMPLE_RATE", "0.25")
	t.Setenv("PULSE_MAX_SPANS", "32")

	cfg, err := New(mockViper())
	r.NoError(t, err)

	r.Equal(t, "checkout-svc", cfg.AppName)
	r.Equal(t, "http://collector:8200", cfg.ServerURL)
	r.Equal(t, 0.25, cfg.SampleRate)
	r.Equal(t, 32, cfg.MaxSpans)
}

func TestConfig_ExplicitZeroSampleRate(t *testing.T) {
	// 0 disables sampling and must not be replaced by the default
	vp := mockViper()
	vp.Set("sample-rate", 0.0)

	cfg, err := New(vp)
	r.NoError(t, err)
	r.Equal(t, 0.0, cfg.SampleRate)
}

func TestConfig_InvalidSampleRate(t *testing.T) {
	vp := mockViper()
	vp.Set("sample-rate", 1.5)

	_, err := New(vp)
	r.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_InvalidServerURL(t *testing.T) {
	vp := mockViper()
	vp.Set("server-url", "not-a-url")

	_, err := New(vp)
	r.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_NegativeTimeout(t *testing.T) {
	vp := mockViper()
	vp.Set("request-timeout", "-5s")

	_, err := New(vp)
	r.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_NegativeMaxSpans(t *testing.T) {
	vp := mockViper()
	vp.Set("max-spans", -1)

	_, err := New(vp)
	r.ErrorIs(t, err, ErrInvalidConfig)
}

// mockers

// mockViper mirrors the env wiring of cmd.NewViper without importing it.
func mockViper() *viper.Viper {
	vp := viper.New()
	vp.SetEnvPrefix("pulse")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	return vp
}
