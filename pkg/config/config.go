package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "15551230000" and 15551230000.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Reply    ReplyConfig    `json:"reply"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host string `json:"host" env:"WHATSGATE_SERVER_HOST"`
	Port int    `json:"port" env:"WHATSGATE_SERVER_PORT"`
}

type WhatsAppConfig struct {
	BridgeURL string              `json:"bridge_url" env:"WHATSGATE_WHATSAPP_BRIDGE_URL"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"WHATSGATE_WHATSAPP_ALLOW_FROM"`
}

type ReplyConfig struct {
	DefaultTimeoutMS int `json:"default_timeout_ms" env:"WHATSGATE_REPLY_DEFAULT_TIMEOUT_MS"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"WHATSGATE_LOGGING_LEVEL"`
	File  string `json:"file" env:"WHATSGATE_LOGGING_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		WhatsApp: WhatsAppConfig{
			BridgeURL: "ws://localhost:3001/ws",
		},
		Reply: ReplyConfig{
			DefaultTimeoutMS: 60000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the JSON config at path (missing file is fine, defaults apply)
// and then applies WHATSGATE_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	return cfg, nil
}

// DefaultReplyTimeout returns the configured default wait window, falling
// back to 60s when the configured value is not positive.
func (c *Config) DefaultReplyTimeout() time.Duration {
	if c.Reply.DefaultTimeoutMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Reply.DefaultTimeoutMS) * time.Millisecond
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
