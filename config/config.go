// Package config loads every runtime setting from the environment. There is
// no config file and no persisted state; a .env file is honoured when
// present so local runs do not need exported variables.
package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant.
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	LLM       LLMConfig
	Search    SearchConfig
	Geocoder  GeocoderConfig
	POI       POIConfig
	Telephony TelephonyConfig
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Port           int
	AllowedOrigins string
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Origins splits the configured origin list. "*" stays a single wildcard
// entry.
func (s ServerConfig) Origins() []string {
	parts := strings.Split(s.AllowedOrigins, ",")
	var origins []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

// SessionConfig controls the in-memory session store.
type SessionConfig struct {
	Capacity int
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// SearchConfig points at the web search tool server. An empty APIKey switches
// the research pipeline to the local portal fetcher.
type SearchConfig struct {
	APIKey  string
	BaseURL string
}

// GeocoderConfig holds the forward-geocoding credentials.
type GeocoderConfig struct {
	APIKey string
}

// POIConfig holds the points-of-interest provider credentials.
type POIConfig struct {
	APIKey string
}

// TelephonyConfig holds the voice-call provider settings used by the
// negotiation pipeline.
type TelephonyConfig struct {
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	TargetNumber  string
}

// envKeys are the exact variable names read from the environment.
var envKeys = []string{
	"LLM_API_KEY",
	"LLM_BASE_URL",
	"LLM_MODEL",
	"SEARCH_PROVIDER_API_KEY",
	"SEARCH_PROVIDER_BASE_URL",
	"GEOCODER_API_KEY",
	"POI_PROVIDER_API_KEY",
	"TELEPHONY_API_KEY",
	"TELEPHONY_ASSISTANT_ID",
	"TELEPHONY_PHONE_NUMBER_ID",
	"TELEPHONY_TARGET_NUMBER",
	"LISTEN_PORT",
	"SESSION_CAPACITY",
	"ALLOWED_ORIGINS",
}

// Load reads the environment into a Config. envFile, when non-empty, names a
// dotenv file to preload; otherwise ./.env is tried. Load never fails:
// missing keys become zero values and surface later through Validate and the
// chat responses.
func Load(envFile string) *Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("[CONFIG] could not load %s: %v", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	v.SetDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("LISTEN_PORT", 8080)
	v.SetDefault("SESSION_CAPACITY", 1024)
	v.SetDefault("ALLOWED_ORIGINS", "*")

	return &Config{
		Server: ServerConfig{
			Port:           v.GetInt("LISTEN_PORT"),
			AllowedOrigins: v.GetString("ALLOWED_ORIGINS"),
		},
		Session: SessionConfig{
			Capacity: v.GetInt("SESSION_CAPACITY"),
		},
		LLM: LLMConfig{
			APIKey:  v.GetString("LLM_API_KEY"),
			BaseURL: v.GetString("LLM_BASE_URL"),
			Model:   v.GetString("LLM_MODEL"),
		},
		Search: SearchConfig{
			APIKey:  v.GetString("SEARCH_PROVIDER_API_KEY"),
			BaseURL: v.GetString("SEARCH_PROVIDER_BASE_URL"),
		},
		Geocoder: GeocoderConfig{
			APIKey: v.GetString("GEOCODER_API_KEY"),
		},
		POI: POIConfig{
			APIKey: v.GetString("POI_PROVIDER_API_KEY"),
		},
		Telephony: TelephonyConfig{
			APIKey:        v.GetString("TELEPHONY_API_KEY"),
			AssistantID:   v.GetString("TELEPHONY_ASSISTANT_ID"),
			PhoneNumberID: v.GetString("TELEPHONY_PHONE_NUMBER_ID"),
			TargetNumber:  v.GetString("TELEPHONY_TARGET_NUMBER"),
		},
	}
}

// Validate reports missing required settings. The caller logs the result and
// keeps serving; each affected operation explains the gap in its own reply
// instead of crashing the process.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
}
