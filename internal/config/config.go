// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
)

const (
	ProviderGoogle     = "google"
	ProviderOpenRouter = "openrouter"

	DefaultGoogleModel     = "gemini-2.0-flash"
	DefaultOpenRouterModel = "deepseek/deepseek-r1:free"
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultRenderImage     = "manimcommunity/manim"
	DefaultRenderTimeout   = 10 * time.Minute
	DefaultMaxPromptLength = 4000
)

// credentialEnv names the environment variable holding each backend's key
var credentialEnv = map[string]string{
	ProviderGoogle:     "GENAI_API_KEY",
	ProviderOpenRouter: "DEEPSEEK_API",
}

// Config holds all settings read at startup
type Config struct {
	Port            string
	WorkDir         string
	LogDir          string
	LogLevel        string
	LogFormat       string
	DebugMode       bool
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration

	LLM    LLMConfig
	Render RenderConfig
	Store  ObjectStoreConfig

	PromptPolicyFile string
	MaxPromptLength  int
	RenderRateLimit  int // renders per client IP per hour, 0 disables
}

// LLMConfig selects and configures the generation backend
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
}

// RenderConfig configures the containerized Manim renderer
type RenderConfig struct {
	Image         string
	Quality       string
	Scene         string
	User          string
	Timeout       time.Duration
	PullImage     bool
	SkipPrecheck  bool
	ContainerRoot string
}

// ObjectStoreConfig configures optional artifact upload. An empty Endpoint disables it.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

// Enabled reports whether artifact upload is configured
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Load reads .env (optional) and the process environment
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGoogle))

	temperature, err := getEnvFloat("LLM_TEMPERATURE", 0.2)
	if err != nil {
		return nil, err
	}
	llmTimeout, err := getEnvDuration("LLM_TIMEOUT", 3*time.Minute)
	if err != nil {
		return nil, err
	}
	renderTimeout, err := getEnvDuration("RENDER_TIMEOUT", DefaultRenderTimeout)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	metricsInterval, err := getEnvDuration("METRICS_REPORT_INTERVAL", 0)
	if err != nil {
		return nil, err
	}
	urlTTL, err := getEnvDuration("OBJECT_STORE_URL_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	maxPrompt, err := getEnvInt("MAX_PROMPT_LENGTH", DefaultMaxPromptLength)
	if err != nil {
		return nil, err
	}
	rateLimit, err := getEnvInt("RENDER_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		WorkDir:         getEnv("WORK_DIR", "runs"),
		LogDir:          getEnv("LOG_DIR", "logs"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		DebugMode:       getEnvBool("DEBUG_MODE", false),
		ShutdownTimeout: shutdownTimeout,
		MetricsInterval: metricsInterval,

		LLM: LLMConfig{
			Provider:    provider,
			Model:       getEnv("LLM_MODEL", defaultModel(provider)),
			APIKey:      os.Getenv(credentialEnv[provider]),
			BaseURL:     getEnv("OPENROUTER_BASE_URL", DefaultOpenRouterURL),
			Temperature: float32(temperature),
			Timeout:     llmTimeout,
		},
		Render: RenderConfig{
			Image:         getEnv("RENDER_IMAGE", DefaultRenderImage),
			Quality:       strings.ToLower(getEnv("RENDER_QUALITY", "l")),
			Scene:         getEnv("RENDER_SCENE", ""),
			User:          getEnv("RENDER_USER", ""),
			Timeout:       renderTimeout,
			PullImage:     getEnvBool("RENDER_PULL_IMAGE", false),
			SkipPrecheck:  getEnvBool("RENDER_SKIP_PRECHECK", false),
			ContainerRoot: getEnv("RENDER_CONTAINER_ROOT", "/manim"),
		},
		Store: ObjectStoreConfig{
			Endpoint:  getEnv("OBJECT_STORE_ENDPOINT", ""),
			AccessKey: getEnv("OBJECT_STORE_ACCESS_KEY", ""),
			SecretKey: getEnv("OBJECT_STORE_SECRET_KEY", ""),
			Bucket:    getEnv("OBJECT_STORE_BUCKET", "manim-artifacts"),
			Region:    getEnv("OBJECT_STORE_REGION", "us-east-1"),
			UseSSL:    getEnvBool("OBJECT_STORE_USE_SSL", false),
			URLTTL:    urlTTL,
		},

		PromptPolicyFile: getEnv("PROMPT_POLICY_FILE", ""),
		MaxPromptLength:  maxPrompt,
		RenderRateLimit:  rateLimit,
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	envName := CredentialEnv(c.LLM.Provider)
	if envName == "" {
		return invalid("unknown LLM_PROVIDER %q (expected %q or %q)", c.LLM.Provider, ProviderGoogle, ProviderOpenRouter)
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return invalid("please set the %s environment variable", envName)
	}
	if !validQuality(c.Render.Quality) {
		return invalid("unknown RENDER_QUALITY %q (expected one of l, m, h, p, k)", c.Render.Quality)
	}
	if c.Render.Timeout <= 0 {
		return invalid("RENDER_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		return invalid("WORK_DIR must not be empty")
	}
	if c.MaxPromptLength <= 0 {
		return invalid("MAX_PROMPT_LENGTH must be positive")
	}
	if c.Store.Enabled() {
		if c.Store.AccessKey == "" || c.Store.SecretKey == "" {
			return invalid("object store access and secret keys are required when OBJECT_STORE_ENDPOINT is set")
		}
		if strings.TrimSpace(c.Store.Bucket) == "" {
			return invalid("OBJECT_STORE_BUCKET must not be empty")
		}
		if strings.Contains(c.Store.Endpoint, "://") {
			return invalid("OBJECT_STORE_ENDPOINT must not include a scheme: %q", c.Store.Endpoint)
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return apperrors.NewConfigurationError(fmt.Sprintf(format, args...), nil)
}

// CredentialEnv returns the environment variable read for provider's key
func CredentialEnv(provider string) string {
	return credentialEnv[provider]
}

func defaultModel(provider string) string {
	if provider == ProviderOpenRouter {
		return DefaultOpenRouterModel
	}
	return DefaultGoogleModel
}

func validQuality(q string) bool {
	switch q {
	case "l", "m", "h", "p", "k":
		return true
	}
	return false
}

// getEnv returns the variable or defaultValue when unset
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
