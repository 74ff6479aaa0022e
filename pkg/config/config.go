package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Version is the agent version reported to collectors.
const Version = "0.1.0"

// ErrInvalidConfig reports a malformed setting. Fatal to agent
// construction, never retried.
var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultServerURL      = "http://127.0.0.1:8200"
	DefaultSampleRate     = 1.0
	DefaultMaxSpans       = 500
	DefaultRequestTimeout = 30 * time.Second
)

// for root
var (
	Debug = false
)

// for pkg agent
var (
	// frames kept per captured stack
	MaxStackFrames = 10
)

// for pkg exporter
var (
	// units per intake batch
	BatchUnits = 50
	// longest wait before a partial batch ships anyway
	BatchInterval = time.Second
	// sampling decisions and span counts remembered per intake client
	MaxTrackedTraces = 1024
)

// Config carries the static agent settings. The agent core treats them
// as opaque and hands them through to the exporters.
type Config struct {
	AppName         string
	SecretToken     string
	ServerURL       string
	SampleRate      float64
	MinSpanDuration time.Duration
	MaxSpans        int
	RequestTimeout  time.Duration
}

// New builds a Config from vp, applying defaults before validating.
// A nil vp yields the default Config.
func New(vp *viper.Viper) (*Config, error) {
	if vp == nil {
		vp = viper.New() // under testing
	}

	cfg := &Config{
		AppName:         vp.GetString("app-name"),
		SecretToken:     vp.GetString("secret-token"),
		ServerURL:       vp.GetString("server-url"),
		SampleRate:      vp.GetFloat64("sample-rate"),
		MinSpanDuration: vp.GetDuration("min-span-duration"),
		MaxSpans:        vp.GetInt("max-spans"),
		RequestTimeout:  vp.GetDuration("request-timeout"),
	}

	if cfg.AppName == "" {
		cfg.AppName = filepath.Base(os.Args[0])
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if !vp.IsSet("sample-rate") {
		cfg.SampleRate = DefaultSampleRate
	}
	if !vp.IsSet("max-spans") {
		cfg.MaxSpans = DefaultMaxSpans
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first malformed field.
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("%w: empty app-name", ErrInvalidConfig)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: bad server-url %q", ErrInvalidConfig, c.ServerURL)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("%w: sample-rate %v outside [0, 1]", ErrInvalidConfig, c.SampleRate)
	}
	if c.MinSpanDuration < 0 {
		return fmt.Errorf("%w: negative min-span-duration", ErrInvalidConfig)
	}
	// MaxSpans == 0 means uncapped
	if c.MaxSpans < 0 {
		return fmt.Errorf("%w: negative max-spans", ErrInvalidConfig)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: non-positive request-timeout", ErrInvalidConfig)
	}
	return nil
}
