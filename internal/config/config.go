package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Log sampling for chatty availability paths: verbose lines are emitted
	// only when hash(req_id) % LogSamplingRate == 0.
	LogSamplingRate int

	RedisURL string

	DatabaseURL        string
	SupabaseURL        string
	SupabaseServiceKey string

	WhatsAppClientesURL string

	SearchAPIURL  string
	SearchAPIKey  string
	SearchTimeout time.Duration

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	OpenAITimeout        time.Duration
	MaxOpenAIConcurrency int
	UseAIExpansion       bool
	GeminiAPIKey         string
	GeminiModelID        string

	MQTTHost           string
	MQTTPort           int
	MQTTUsuario        string
	MQTTPassword       string
	MQTTUseTLS         bool
	MQTTQoS            byte
	MQTTPublishTimeout time.Duration
	MQTTTemaSolicitud  string
	MQTTTemaRespuesta  string

	AvailabilityTimeout      time.Duration
	AvailabilityAcceptGrace  time.Duration
	AvailabilityStateTTL     time.Duration
	AvailabilityPollInterval time.Duration

	FlowTTL         time.Duration
	ProfileCacheTTL time.Duration

	ModerationEnabled bool

	AdminJWTSecret   string
	SimulatorEnabled bool

	CORSAllowedOrigins []string
	WebhookRateLimit   float64
	WebhookBurst       int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogSamplingRate: getEnvAsInt("LOG_SAMPLING_RATE", 1),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SupabaseURL:        strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),

		WhatsAppClientesURL: strings.TrimRight(getEnv("WHATSAPP_CLIENTES_URL", ""), "/"),

		SearchAPIURL:  strings.TrimRight(getEnv("SEARCH_API_URL", ""), "/"),
		SearchAPIKey:  getEnv("SEARCH_API_KEY", ""),
		SearchTimeout: getEnvAsSeconds("SEARCH_TIMEOUT_SECONDS", 10*time.Second),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITimeout:        getEnvAsSeconds("OPENAI_TIMEOUT_SECONDS", 5*time.Second),
		MaxOpenAIConcurrency: getEnvAsInt("MAX_OPENAI_CONCURRENCY", 5),
		UseAIExpansion:       getEnvAsBool("USE_AI_EXPANSION", true),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:        getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),

		MQTTHost:           getEnv("MQTT_HOST", ""),
		MQTTPort:           getEnvAsInt("MQTT_PORT", 0),
		MQTTUsuario:        getEnv("MQTT_USUARIO", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTUseTLS:         getEnvAsBool("MQTT_USE_TLS", false),
		MQTTQoS:            byte(clampInt(getEnvAsInt("MQTT_QOS", 1), 0, 2)),
		MQTTPublishTimeout: getEnvAsSeconds("MQTT_PUBLISH_TIMEOUT", 5*time.Second),
		MQTTTemaSolicitud:  getEnv("MQTT_TEMA_SOLICITUD", "av-proveedores/solicitud"),
		MQTTTemaRespuesta:  getEnv("MQTT_TEMA_RESPUESTA", "av-proveedores/respuesta"),

		AvailabilityTimeout:      getEnvAsSeconds("AVAILABILITY_TIMEOUT_SECONDS", 45*time.Second),
		AvailabilityAcceptGrace:  getEnvAsSeconds("AVAILABILITY_ACCEPT_GRACE_SECONDS", 2*time.Second),
		AvailabilityStateTTL:     getEnvAsSeconds("AVAILABILITY_STATE_TTL_SECONDS", 300*time.Second),
		AvailabilityPollInterval: getEnvAsSeconds("AVAILABILITY_POLL_INTERVAL_SECONDS", 1500*time.Millisecond),

		FlowTTL:         getEnvAsSeconds("FLOW_TTL_SECONDS", 3600*time.Second),
		ProfileCacheTTL: getEnvAsSeconds("PROFILE_CACHE_TTL_SECONDS", 300*time.Second),

		ModerationEnabled: getEnvAsBool("MODERATION_ENABLED", true),

		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
		SimulatorEnabled: getEnvAsBool("SIMULATOR_ENABLED", false),

		CORSAllowedOrigins: splitCommaList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 0),
		WebhookBurst:       getEnvAsInt("WEBHOOK_BURST", 10),
	}
}

// Validate reports configuration that the process cannot start without.
// The MQTT broker address is required: availability requests are the core
// of the product and there is no degraded mode for them.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.MQTTHost) == "" {
		missing = append(missing, "MQTT_HOST")
	}
	if c.MQTTPort <= 0 {
		missing = append(missing, "MQTT_PORT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// BrokerAddr renders the MQTT connection URI for the configured host/port.
func (c *Config) BrokerAddr() string {
	scheme := "tcp"
	if c.MQTTUseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTTHost, c.MQTTPort)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds parses a numeric env var expressed in seconds. Fractions
// are allowed ("1.5" means 1500ms).
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil && value > 0 {
		return time.Duration(value * float64(time.Second))
	}
	return defaultValue
}

// getEnvAsFloat parses a numeric env var, keeping the default on garbage.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
