// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken   = "TELEGRAM_TOKEN"
	KeyAdminID         = "ADMIN_ID"
	KeyRequiredChannel = "REQUIRED_CHANNEL"
	KeyAIProvider      = "AI_PROVIDER"
	KeyGeminiAPIKey    = "GEMINI_API_KEY"
	KeyGeminiAPIURL    = "GEMINI_API_URL"
	KeyGeminiModel     = "GEMINI_MODEL"
	KeyOpenAIAPIKey    = "OPENAI_API_KEY"
	KeyOpenAIBaseURL   = "OPENAI_BASE_URL"
	KeyOpenAIModel     = "OPENAI_MODEL"
	KeyUpdateMode      = "UPDATE_MODE"
	KeyWebhookURL      = "WEBHOOK_URL"
	KeyWebhookPath     = "WEBHOOK_PATH"
	KeyWebhookSecret   = "WEBHOOK_SECRET"
	KeyCodeTTL         = "CODE_TTL"
	KeySessionTTL      = "SESSION_TTL"
	KeyFreeMessages    = "FREE_MESSAGES"
	KeyWelcomePhotoURL = "WELCOME_PHOTO_URL"
	KeyDemoURL         = "DEMO_URL"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Completion providers.
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	// Update delivery modes.
	ModeWebhook = "webhook"
	ModePolling = "polling"

	// Defaults for optional settings.
	DefaultAppEnv       = EnvProduction
	DefaultLogLevel     = "info"
	DefaultHTTPPort     = 8080
	DefaultAIProvider   = ProviderGemini
	DefaultGeminiAPIURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel  = "gemini-2.0-flash"
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultUpdateMode   = ModeWebhook
	DefaultWebhookPath  = "/api/bot"
	DefaultCodeTTL      = 24 * time.Hour
	DefaultSessionTTL   = 10 * time.Second
	DefaultMongoDB      = "tg_ai_gate"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyAdminID,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id of the single admin allowed to issue promo codes.",
	},
	{
		Key:         KeyRequiredChannel,
		Example:     "@mychannel",
		Description: "Channel whose members get access without a code.",
		Notes:       "Membership checks are skipped when empty; the bot must be a channel admin.",
	},
	{
		Key:         KeyAIProvider,
		Example:     ProviderGemini + " / " + ProviderOpenAI,
		Default:     DefaultAIProvider,
		Description: "Completion backend.",
	},
	{
		Key:         KeyGeminiAPIKey,
		Example:     "AIza...",
		Description: "Gemini API key.",
		Notes:       "Required when " + KeyAIProvider + "=" + ProviderGemini + ".",
	},
	{
		Key:         KeyGeminiAPIURL,
		Example:     DefaultGeminiAPIURL,
		Default:     DefaultGeminiAPIURL,
		Description: "Gemini REST base URL.",
	},
	{
		Key:         KeyGeminiModel,
		Example:     DefaultGeminiModel,
		Default:     DefaultGeminiModel,
		Description: "Gemini model name.",
	},
	{
		Key:         KeyOpenAIAPIKey,
		Example:     "sk-...",
		Description: "API key for the OpenAI-compatible endpoint.",
		Notes:       "Required when " + KeyAIProvider + "=" + ProviderOpenAI + ".",
	},
	{
		Key:         KeyOpenAIBaseURL,
		Example:     "https://api.openai.com/v1",
		Description: "Base URL of the OpenAI-compatible endpoint; empty uses the library default.",
	},
	{
		Key:         KeyOpenAIModel,
		Example:     DefaultOpenAIModel,
		Default:     DefaultOpenAIModel,
		Description: "Chat completion model name.",
	},
	{
		Key:         KeyUpdateMode,
		Example:     ModeWebhook + " / " + ModePolling,
		Default:     DefaultUpdateMode,
		Description: "How Telegram updates are received.",
	},
	{
		Key:         KeyWebhookURL,
		Example:     "https://bot.example.com/api/bot",
		Description: "Public URL registered with Telegram on startup.",
		Notes:       "When empty the webhook is assumed to be registered out-of-band.",
	},
	{
		Key:         KeyWebhookPath,
		Example:     DefaultWebhookPath,
		Default:     DefaultWebhookPath,
		Description: "HTTP path serving Telegram updates.",
	},
	{
		Key:         KeyWebhookSecret,
		Example:     "s3cr3t",
		Description: "Secret token Telegram sends in X-Telegram-Bot-Api-Secret-Token.",
	},
	{
		Key:         KeyCodeTTL,
		Example:     "24h",
		Default:     DefaultCodeTTL.String(),
		Description: "Default promo code lifetime when /generate omits hours.",
		Notes:       "Short values such as 10s produce self-expiring demo codes.",
	},
	{
		Key:         KeySessionTTL,
		Example:     "10s",
		Default:     DefaultSessionTTL.String(),
		Description: "Access granted per redeemed code.",
	},
	{
		Key:         KeyFreeMessages,
		Example:     "50",
		Default:     "0",
		Description: "Free completions per user without access; 0 disables.",
	},
	{
		Key:         KeyWelcomePhotoURL,
		Example:     "https://example.com/banner.jpg",
		Description: "Optional photo sent with /start.",
	},
	{
		Key:         KeyDemoURL,
		Example:     "https://example.com/demo.mp4",
		Description: "Optional demo link shown as a /start button.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string for shared code and grant registries.",
		Notes:       "Registries stay in memory when empty; set it for multi-instance deployments.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDB,
		Default:     DefaultMongoDB,
		Description: "MongoDB database name.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP port serving the webhook and health endpoints.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken   string        `env:"TELEGRAM_TOKEN" validate:"required"`
	AdminID         int64         `env:"ADMIN_ID" validate:"required"`
	RequiredChannel string        `env:"REQUIRED_CHANNEL"`
	AIProvider      string        `env:"AI_PROVIDER" validate:"oneof=gemini openai"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY" validate:"required_if=AIProvider gemini"`
	GeminiAPIURL    string        `env:"GEMINI_API_URL" validate:"url"`
	GeminiModel     string        `env:"GEMINI_MODEL" validate:"required"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY" validate:"required_if=AIProvider openai"`
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" validate:"omitempty,url"`
	OpenAIModel     string        `env:"OPENAI_MODEL" validate:"required"`
	UpdateMode      string        `env:"UPDATE_MODE" validate:"oneof=webhook polling"`
	WebhookURL      string        `env:"WEBHOOK_URL" validate:"omitempty,url"`
	WebhookPath     string        `env:"WEBHOOK_PATH" validate:"startswith=/"`
	WebhookSecret   string        `env:"WEBHOOK_SECRET"`
	CodeTTL         time.Duration `env:"CODE_TTL" validate:"gt=0"`
	SessionTTL      time.Duration `env:"SESSION_TTL" validate:"gt=0"`
	FreeMessages    int           `env:"FREE_MESSAGES" validate:"min=0"`
	WelcomePhotoURL string        `env:"WELCOME_PHOTO_URL" validate:"omitempty,url"`
	DemoURL         string        `env:"DEMO_URL" validate:"omitempty,url"`
	MongoURI        string        `env:"MONGO_URI"`
	MongoDB         string        `env:"MONGO_DB"`
	AppEnv          string        `env:"APP_ENV"`
	LogLevel        string        `env:"LOG_LEVEL"`
	HTTPPort        int           `env:"HTTP_PORT" validate:"min=1,max=65535"`
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:   strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		RequiredChannel: strings.TrimSpace(os.Getenv(KeyRequiredChannel)),
		AIProvider:      firstNonEmpty(normalizeEnv(os.Getenv(KeyAIProvider)), DefaultAIProvider),
		GeminiAPIKey:    strings.TrimSpace(os.Getenv(KeyGeminiAPIKey)),
		GeminiAPIURL:    strings.TrimRight(firstNonEmpty(os.Getenv(KeyGeminiAPIURL), DefaultGeminiAPIURL), "/"),
		GeminiModel:     firstNonEmpty(os.Getenv(KeyGeminiModel), DefaultGeminiModel),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv(KeyOpenAIAPIKey)),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv(KeyOpenAIBaseURL)),
		OpenAIModel:     firstNonEmpty(os.Getenv(KeyOpenAIModel), DefaultOpenAIModel),
		UpdateMode:      firstNonEmpty(normalizeEnv(os.Getenv(KeyUpdateMode)), DefaultUpdateMode),
		WebhookURL:      strings.TrimSpace(os.Getenv(KeyWebhookURL)),
		WebhookPath:     firstNonEmpty(os.Getenv(KeyWebhookPath), DefaultWebhookPath),
		WebhookSecret:   strings.TrimSpace(os.Getenv(KeyWebhookSecret)),
		CodeTTL:         DefaultCodeTTL,
		SessionTTL:      DefaultSessionTTL,
		WelcomePhotoURL: strings.TrimSpace(os.Getenv(KeyWelcomePhotoURL)),
		DemoURL:         strings.TrimSpace(os.Getenv(KeyDemoURL)),
		MongoURI:        strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:         firstNonEmpty(os.Getenv(KeyMongoDB), DefaultMongoDB),
		LogLevel:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:        DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	// Parsed once here so every admin comparison downstream is int64 == int64.
	adminRaw := strings.TrimSpace(os.Getenv(KeyAdminID))
	if adminRaw == "" {
		missing = append(missing, KeyAdminID)
	} else {
		adminID, parseErr := strconv.ParseInt(adminRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminID, parseErr)
		}
		cfg.AdminID = adminID
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.CodeTTL, err = durationFromEnv(KeyCodeTTL, DefaultCodeTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv(KeySessionTTL, DefaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.FreeMessages, err = intFromEnv(KeyFreeMessages, 0); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if cfg.MongoURI != "" && !isMongoURI(cfg.MongoURI) {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if err := validateStruct(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// UsesMongo reports whether shared registries are configured.
func (c Config) UsesMongo() bool {
	return c.MongoURI != ""
}

// UsesWebhook reports whether updates arrive over the webhook endpoint.
func (c Config) UsesWebhook() bool {
	return c.UpdateMode == ModeWebhook
}

// FormatRedacted renders the configuration for --config-only with secrets masked.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"admin_id: " + strconv.FormatInt(cfg.AdminID, 10),
		"required_channel: " + cfg.RequiredChannel,
		"ai_provider: " + cfg.AIProvider,
		"gemini_api_key: " + maskSecret(cfg.GeminiAPIKey),
		"gemini_api_url: " + cfg.GeminiAPIURL,
		"gemini_model: " + cfg.GeminiModel,
		"openai_api_key: " + maskSecret(cfg.OpenAIAPIKey),
		"openai_base_url: " + cfg.OpenAIBaseURL,
		"openai_model: " + cfg.OpenAIModel,
		"update_mode: " + cfg.UpdateMode,
		"webhook_url: " + cfg.WebhookURL,
		"webhook_path: " + cfg.WebhookPath,
		"webhook_secret: " + maskSecret(cfg.WebhookSecret),
		"code_ttl: " + cfg.CodeTTL.String(),
		"session_ttl: " + cfg.SessionTTL.String(),
		"free_messages: " + strconv.Itoa(cfg.FreeMessages),
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
	}

	return strings.Join(lines, "\n")
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

// validateStruct runs the validate tags and reports failures by env key.
func validateStruct(cfg Config) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})

	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("validate config: %w", err)
	}

	problems := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		problems = append(problems, fmt.Sprintf("invalid %s: %s", fieldErr.Field(), fieldErr.Tag()))
	}

	return errors.New(strings.Join(problems, "; "))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func isMongoURI(value string) bool {
	return strings.HasPrefix(value, "mongodb://") || strings.HasPrefix(value, "mongodb+srv://")
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func redactURI(value string) string {
	if value == "" {
		return ""
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
