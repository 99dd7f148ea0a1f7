// Package config provides environment configuration for the inbox service.
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

	// Organization whose event stream this instance consumes
	OrgID string

	// Operator this console session belongs to
	OperatorID string

	// NATS settings
	NATSURL              string
	NATSCAFile           string
	NATSCertFile         string
	NATSKeyFile          string
	NATSToken            string
	NATSReconnectMaxWait time.Duration

	// Backend REST API (message/contact persistence, channel send)
	APIBaseURL string
	APIToken   string

	// JWT settings for the service's own HTTP surface
	JWTSecret string

	// LLM settings for the agent auto-responder
	AnthropicAPIKey string
	OpenAIAPIKey    string
	AgentModel      string

	// Rule engine
	CountOperatorMessages bool

	// Presence
	TypingExpiry    time.Duration
	PromptEveryN    int
	PrefsDBPath     string
	PresenceTickDur time.Duration

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

		OrgID:      getEnv("ORG_ID", ""),
		OperatorID: getEnv("OPERATOR_ID", ""),

		// NATS
		NATSURL:              getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:           getEnv("NATS_CA_FILE", ""),
		NATSCertFile:         getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:          getEnv("NATS_KEY_FILE", ""),
		NATSToken:            getEnv("NATS_TOKEN", ""),
		NATSReconnectMaxWait: getDurationEnv("NATS_RECONNECT_MAX_WAIT", 30*time.Second),

		// Backend API
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:3000"),
		APIToken:   getEnv("API_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AgentModel:      getEnv("AGENT_MODEL", ""),

		// Rule engine
		CountOperatorMessages: getBoolEnv("RULES_COUNT_OPERATOR_MESSAGES", false),

		// Presence
		TypingExpiry:    getDurationEnv("TYPING_EXPIRY", 2*time.Second),
		PromptEveryN:    getIntEnv("ASSIGN_PROMPT_EVERY_N", 10),
		PrefsDBPath:     getEnv("PREFS_DB_PATH", "data/prefs.db"),
		PresenceTickDur: getDurationEnv("PRESENCE_TICK", time.Second),

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
