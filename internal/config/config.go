package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int    `validate:"min=1,max=65535"`
	DatabaseURL string `validate:"required"`
	JWTSecret   string `validate:"omitempty,min=16"`

	MaxAttempts int  `validate:"min=1"`
	AutoPublish bool

	MinProfitMargin      float64 `validate:"gte=0"`
	FeeRate              float64 `validate:"gte=0,lt=1"`
	FixedFee             float64 `validate:"gte=0"`
	AcquisitionCost      float64 `validate:"gte=0"`
	ConditionMultipliers map[string]float64

	DefaultCategoryID   string `validate:"required"`
	PlaceholderImageURL string `validate:"required,url"`
	MaxImages           int    `validate:"min=1,max=24"`
	DescriptionTemplate string

	InboxDir     string
	PollInterval time.Duration `validate:"min=1s"`

	TokenRefreshInterval time.Duration `validate:"min=1s"`
	TokenRetryInterval   time.Duration `validate:"min=1s"`
	TokenFile            string

	Marketplace Marketplace
	AI          AI

	HTTPTimeout time.Duration `validate:"min=1s"`
	LogLevel    string        `validate:"oneof=debug info warn error"`
	LogFormat   string        `validate:"oneof=text json"`
}

// Marketplace holds the marketplace endpoints, credentials and offer fields.
type Marketplace struct {
	BaseURL      string `validate:"required,url"`
	MediaURL     string `validate:"required,url"`
	AuthURL      string `validate:"required,url"`
	TokenURL     string `validate:"required,url"`
	RedirectURL  string
	ClientID     string
	ClientSecret string
	RefreshToken string

	MarketplaceID       string `validate:"required"`
	Currency            string `validate:"required,len=3"`
	MerchantLocationKey string
	FulfillmentPolicyID string
	PaymentPolicyID     string
	ReturnPolicyID      string

	RequestsPerSec float64 `validate:"gt=0"`
}

// AI configures the analysis and price research model.
type AI struct {
	APIKey  string
	Model   string `validate:"required"`
	BaseURL string `validate:"required,url"`
}

// Load reads .env (when present) and the environment, applies defaults and validates.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", key, err))
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := getEnvFloat(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", key, err))
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", key, err))
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := getEnvBool(key, def)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", key, err))
		}
		return v
	}

	multipliers, err := ParseMultipliers(os.Getenv("CONDITION_MULTIPLIERS"))
	if err != nil {
		errs = append(errs, fmt.Errorf("parse CONDITION_MULTIPLIERS: %w", err))
	}

	cfg := Config{
		Port:        intVar("PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", "file:data/commander.db"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MaxAttempts: intVar("MAX_ATTEMPTS", 3),
		AutoPublish: boolVar("AUTO_PUBLISH", false),

		MinProfitMargin:      floatVar("MIN_PROFIT_MARGIN", 10.0),
		FeeRate:              floatVar("FEE_RATE", 0.1325),
		FixedFee:             floatVar("FIXED_FEE", 0.30),
		AcquisitionCost:      floatVar("ACQUISITION_COST", 0),
		ConditionMultipliers: multipliers,

		DefaultCategoryID:   getEnv("DEFAULT_CATEGORY_ID", "30093"),
		PlaceholderImageURL: getEnv("PLACEHOLDER_IMAGE_URL", "https://placehold.co/800x600.png?text=Placeholder+Image"),
		MaxImages:           intVar("MAX_IMAGES", 12),
		DescriptionTemplate: getEnv("DESCRIPTION_TEMPLATE", ""),

		InboxDir:     getEnvAllowEmpty("INBOX_DIR", "inbox"),
		PollInterval: durVar("POLL_INTERVAL", 30*time.Second),

		TokenRefreshInterval: durVar("TOKEN_REFRESH_INTERVAL", time.Hour),
		TokenRetryInterval:   durVar("TOKEN_RETRY_INTERVAL", 5*time.Minute),
		TokenFile:            getEnv("TOKEN_FILE", "data/token.json"),

		Marketplace: Marketplace{
			BaseURL:      getEnv("MARKETPLACE_BASE_URL", "https://api.ebay.com"),
			MediaURL:     getEnv("MARKETPLACE_MEDIA_URL", "https://apim.ebay.com"),
			AuthURL:      getEnv("MARKETPLACE_AUTH_URL", "https://auth.ebay.com/oauth2/authorize"),
			TokenURL:     getEnv("MARKETPLACE_TOKEN_URL", "https://api.ebay.com/identity/v1/oauth2/token"),
			RedirectURL:  getEnv("MARKETPLACE_REDIRECT_URL", ""),
			ClientID:     getEnv("MARKETPLACE_CLIENT_ID", ""),
			ClientSecret: getEnv("MARKETPLACE_CLIENT_SECRET", ""),
			RefreshToken: getEnv("MARKETPLACE_REFRESH_TOKEN", ""),

			MarketplaceID:       getEnv("MARKETPLACE_ID", "EBAY_US"),
			Currency:            getEnv("CURRENCY", "USD"),
			MerchantLocationKey: getEnv("MERCHANT_LOCATION_KEY", "default"),
			FulfillmentPolicyID: getEnv("FULFILLMENT_POLICY_ID", ""),
			PaymentPolicyID:     getEnv("PAYMENT_POLICY_ID", ""),
			ReturnPolicyID:      getEnv("RETURN_POLICY_ID", ""),

			RequestsPerSec: floatVar("MARKETPLACE_RPS", 5),
		},
		AI: AI{
			APIKey:  getEnv("AI_API_KEY", ""),
			Model:   getEnv("AI_MODEL", "gemini-2.0-flash"),
			BaseURL: getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com"),
		},

		HTTPTimeout: durVar("HTTP_TIMEOUT", 30*time.Second),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

var validate = validator.New()

func (c Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// HasMarketplaceCredentials reports whether the refresh-token grant can run.
func (c Config) HasMarketplaceCredentials() bool {
	return c.Marketplace.ClientID != "" && c.Marketplace.ClientSecret != ""
}

// ParseMultipliers parses "Name=0.9,Other Name=0.5". An empty string yields nil.
func ParseMultipliers(s string) (map[string]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		if f <= 0 || f > 2 {
			return nil, fmt.Errorf("entry %q: multiplier out of range", pair)
		}
		out[name] = f
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// getEnvAllowEmpty distinguishes an unset variable from one set to "".
func getEnvAllowEmpty(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}
