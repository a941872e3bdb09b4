// Package telescribe wires the transcription relay together: configuration,
// recognizer providers, the broadcast router, delivery, and the gateway.
package telescribe

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/telescribe/telescribe/pkg/gateway"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`

	Gateway    gateway.Config   `mapstructure:"gateway"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type RecognizerConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type StreamConfig struct {
	ReorderThreshold int    `mapstructure:"reorder_threshold"`
	TargetSampleRate int    `mapstructure:"target_sample_rate"`
	ScamInterval     int    `mapstructure:"scam_interval"`
	InboxSize        int    `mapstructure:"inbox_size"`
	Language         string `mapstructure:"language"`
}

// DeliveryConfig selects how transcript text reaches subscribers:
// "websocket" serves them from this process, "apigateway" posts through
// a remote API Gateway management endpoint.
type DeliveryConfig struct {
	Mode     string `mapstructure:"mode"`
	Endpoint string `mapstructure:"endpoint"`
}

type MetricsConfig struct {
	Sink string `mapstructure:"sink"`
	Path string `mapstructure:"path"`
}

const (
	DeliveryWebsocket  = "websocket"
	DeliveryAPIGateway = "apigateway"
)

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("gateway.server_addr", ":8080")
	v.SetDefault("gateway.voice_path", "/voice")
	v.SetDefault("gateway.stream_path", "/stream")
	v.SetDefault("gateway.client_path", "/client")
	v.SetDefault("recognizer.provider", "mock")
	v.SetDefault("stream.reorder_threshold", 25)
	v.SetDefault("stream.target_sample_rate", 16000)
	v.SetDefault("stream.scam_interval", 100)
	v.SetDefault("stream.inbox_size", 256)
	v.SetDefault("stream.language", "en")
	v.SetDefault("delivery.mode", DeliveryWebsocket)
	v.SetDefault("metrics.sink", "none")

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Recognizer.Provider) == "" {
		return fmt.Errorf("recognizer.provider is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Delivery.Mode)) {
	case DeliveryWebsocket, DeliveryAPIGateway:
	default:
		return fmt.Errorf("delivery.mode must be one of [%s, %s], got %q",
			DeliveryWebsocket, DeliveryAPIGateway, c.Delivery.Mode)
	}
	if c.Stream.ReorderThreshold < 0 {
		return fmt.Errorf("stream.reorder_threshold must not be negative")
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Gateway.AuthToken = os.ExpandEnv(cfg.Gateway.AuthToken)
	cfg.Gateway.PublicURL = os.ExpandEnv(cfg.Gateway.PublicURL)
	cfg.Delivery.Endpoint = os.ExpandEnv(cfg.Delivery.Endpoint)
	cfg.Recognizer.Settings = expandSettings(cfg.Recognizer.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
