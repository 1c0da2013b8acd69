// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	PublicBaseURL      string

	// Database settings
	DatabaseDSN string

	// Secrets
	OperatorJWTSecret string
	CallbackJWTSecret string
	WebhookSecret     string
	BridgeSecret      string

	// Bridge settings
	BridgeEndpoint    string
	BridgeTimeout     time.Duration
	BridgeMaxRetries  int
	BridgeBackoffBase time.Duration
	CallbackTokenTTL  time.Duration
	RunSweepHorizon   time.Duration

	// WhatsApp Cloud API settings
	WhatsAppAPIBaseURL  string
	WhatsAppAccessToken string
	WhatsAppPhoneID     string
	WhatsAppVerifyToken string

	// NATS settings
	NATSURL   string
	NATSToken string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string

	// Incident correlation
	IncidentWindow    time.Duration
	IncidentThreshold int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),

		// Database
		DatabaseDSN: getEnv("DATABASE_DSN", "messaging.db"),

		// Secrets
		OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", "development-secret-change-in-production"),
		CallbackJWTSecret: getEnv("CALLBACK_JWT_SECRET", "development-secret-change-in-production"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		BridgeSecret:      getEnv("BRIDGE_SECRET", ""),

		// Bridge
		BridgeEndpoint:    getEnv("BRIDGE_ENDPOINT", ""),
		BridgeTimeout:     getDurationEnv("BRIDGE_TIMEOUT", 10*time.Second),
		BridgeMaxRetries:  getIntEnv("BRIDGE_MAX_RETRIES", 3),
		BridgeBackoffBase: getDurationEnv("BRIDGE_BACKOFF_BASE", 500*time.Millisecond),
		CallbackTokenTTL:  getDurationEnv("CALLBACK_TOKEN_TTL", 10*time.Minute),
		RunSweepHorizon:   getDurationEnv("RUN_SWEEP_HORIZON", 5*time.Minute),

		// WhatsApp
		WhatsAppAPIBaseURL:  getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppAccessToken: getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneID:     getEnv("WHATSAPP_PHONE_ID", ""),
		WhatsAppVerifyToken: getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		// NATS
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),

		// Incident correlation
		IncidentWindow:    getDurationEnv("INCIDENT_WINDOW", 10*time.Minute),
		IncidentThreshold: getIntEnv("INCIDENT_THRESHOLD", 5),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
