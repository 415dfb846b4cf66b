// Package checkin is the application-facing facade: configuration, engine
// wiring, and the operations a UI collaborator calls.
package checkin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/velora-health/velora/pkg/audio/pcm"
)

type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Live          LiveConfig          `mapstructure:"live"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Session       SessionConfig       `mapstructure:"session"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LiveConfig struct {
	// URL is the relay's websocket endpoint.
	URL string `mapstructure:"url"`
	// RelayEndpoint receives tool responses over HTTP.
	RelayEndpoint string `mapstructure:"relay_endpoint"`
	// SessionID and Secret identify this client to the relay.
	SessionID      string `mapstructure:"session_id"`
	Secret         string `mapstructure:"secret"`
	DialTimeoutMS  int    `mapstructure:"dial_timeout_ms"`
	ReadyTimeoutMS int    `mapstructure:"ready_timeout_ms"`
}

type AudioConfig struct {
	InputSampleRate  int `mapstructure:"input_sample_rate"`
	OutputSampleRate int `mapstructure:"output_sample_rate"`
	Channels         int `mapstructure:"channels"`
	FrameDurationMS  int `mapstructure:"frame_duration_ms"`
}

type SessionConfig struct {
	ConnectTimeoutMS  int    `mapstructure:"connect_timeout_ms"`
	WidgetGraceMS     int    `mapstructure:"widget_grace_ms"`
	MaxAssistantChars int    `mapstructure:"max_assistant_chars"`
	ResumeMarker      string `mapstructure:"resume_marker"`
}

type ObservabilityConfig struct {
	MetricsBuffer  int    `mapstructure:"metrics_buffer"`
	ArtifactsDir   string `mapstructure:"artifacts_dir"`
	RetentionHours int    `mapstructure:"retention_hours"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func (c Config) withDefaults() Config {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Audio.InputSampleRate == 0 {
		c.Audio.InputSampleRate = pcm.InputSampleRate
	}
	if c.Audio.OutputSampleRate == 0 {
		c.Audio.OutputSampleRate = pcm.OutputSampleRate
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameDurationMS == 0 {
		c.Audio.FrameDurationMS = 20
	}
	if c.Session.ConnectTimeoutMS == 0 {
		c.Session.ConnectTimeoutMS = 30000
	}
	if c.Session.WidgetGraceMS == 0 {
		c.Session.WidgetGraceMS = 8000
	}
	if c.Session.MaxAssistantChars == 0 {
		c.Session.MaxAssistantChars = 16 * 1024
	}
	if c.Observability.MetricsBuffer == 0 {
		c.Observability.MetricsBuffer = 256
	}
	if c.Observability.RetentionHours == 0 {
		c.Observability.RetentionHours = 24 * 7
	}
	return c
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) widgetGrace() time.Duration {
	return time.Duration(c.Session.WidgetGraceMS) * time.Millisecond
}

func (c Config) frameDuration() time.Duration {
	return time.Duration(c.Audio.FrameDurationMS) * time.Millisecond
}

// LoadConfig reads configuration from a file (optional) and VELORA_
// environment variables. Missing files are fine; env alone is a valid setup.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VELORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("velora")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg.withDefaults(), nil
}
