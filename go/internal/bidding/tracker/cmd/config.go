package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/bidwatch/go/internal/bidding/subscription"
	"github.com/mcdev12/bidwatch/go/internal/bidding/tracker"
)

const (
	transportWebSocket = "websocket"
	transportNATS      = "nats"
)

type Config struct {
	UserID string   `yaml:"user_id"`
	Lots   []string `yaml:"lots"`
	// DisplayScale is the number of decimal places of the currency's minor unit.
	DisplayScale int32 `yaml:"display_scale"`

	LotsAPI struct {
		BaseURL string        `yaml:"base_url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
		// WireScale is how many decimal places wire amounts carry relative to minor
		// units; 0 when the API already sends minor units.
		WireScale int32 `yaml:"wire_scale"`
	} `yaml:"lots_api"`

	Push struct {
		Transport            string        `yaml:"transport"`
		ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
		MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
		WebSocket            struct {
			URL string `yaml:"url"`
		} `yaml:"websocket"`
		NATS struct {
			URL            string `yaml:"url"`
			Stream         string `yaml:"stream"`
			SubjectPrefix  string `yaml:"subject_prefix"`
			StreamSequence bool   `yaml:"stream_sequence"`
		} `yaml:"nats"`
	} `yaml:"push"`

	Tracker struct {
		TickInterval         time.Duration `yaml:"tick_interval"`
		ClosingSoonThreshold time.Duration `yaml:"closing_soon_threshold"`
	} `yaml:"tracker"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func defaultConfig() *Config {
	var config Config
	config.DisplayScale = 2
	config.LotsAPI.BaseURL = "http://localhost:8080"
	config.LotsAPI.WireScale = 2
	config.LotsAPI.Timeout = 10 * time.Second
	config.Push.Transport = transportWebSocket
	config.Push.ReconnectDelay = subscription.DefaultConfig().ReconnectDelay
	config.Push.MaxReconnectAttempts = subscription.DefaultConfig().MaxReconnectAttempts
	config.Push.WebSocket.URL = subscription.DefaultWebSocketConfig().URL
	config.Push.NATS.URL = subscription.DefaultNATSConfig().URL
	config.Push.NATS.Stream = subscription.DefaultNATSConfig().StreamName
	config.Push.NATS.SubjectPrefix = subscription.DefaultNATSConfig().SubjectPrefix
	config.Tracker.TickInterval = tracker.DefaultConfig().TickInterval
	config.Tracker.ClosingSoonThreshold = tracker.DefaultConfig().ClosingSoonThreshold
	config.Server.Port = "8090"
	return &config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. A missing file leaves the defaults in place.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(config)

	if config.UserID == "" {
		return nil, errors.New("user_id is required (set USER_ID or user_id in the config file)")
	}
	switch config.Push.Transport {
	case transportWebSocket, transportNATS:
	default:
		return nil, fmt.Errorf("unknown push transport %q", config.Push.Transport)
	}
	if config.DisplayScale < 0 {
		return nil, fmt.Errorf("display_scale must not be negative, got %d", config.DisplayScale)
	}
	if config.LotsAPI.WireScale < 0 {
		return nil, fmt.Errorf("lots_api.wire_scale must not be negative, got %d", config.LotsAPI.WireScale)
	}

	return config, nil
}

func applyEnv(config *Config) {
	config.UserID = getEnv("USER_ID", config.UserID)
	config.DisplayScale = int32(getEnvAsInt("DISPLAY_SCALE", int(config.DisplayScale)))
	config.LotsAPI.WireScale = int32(getEnvAsInt("WIRE_SCALE", int(config.LotsAPI.WireScale)))
	config.LotsAPI.BaseURL = getEnv("LOTS_API_URL", config.LotsAPI.BaseURL)
	config.LotsAPI.Token = getEnv("LOTS_API_TOKEN", config.LotsAPI.Token)
	config.Push.Transport = getEnv("PUSH_TRANSPORT", config.Push.Transport)
	config.Push.WebSocket.URL = getEnv("PUSH_URL", config.Push.WebSocket.URL)
	config.Push.NATS.URL = getEnv("NATS_URL", config.Push.NATS.URL)
	config.Server.Port = getEnv("PORT", config.Server.Port)
}
