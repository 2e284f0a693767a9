package billing

import (
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
	"github.com/TitanCloudAI/titan-cloud/internal/pkg/env"
	"github.com/go-playground/validator/v10"
)

// TestModePublishableKey is the clearly-labeled fallback used when no
// publishable key is configured. It lets the dashboard render in a degraded
// test mode; server-side initialization still fails closed.
const TestModePublishableKey = "pk_test_titan_placeholder"

// TrackFunc records an operational analytics event.
type TrackFunc func(event string, props map[string]string)

// Config holds the billing secrets and endpoints. The three Stripe secrets
// follow the provider's prefix conventions, which Validate enforces.
type Config struct {
	PublishableKey string `validate:"required,startswith=pk_"`
	SecretKey      string `validate:"required,startswith=sk_"`
	WebhookSecret  string `validate:"required,startswith=whsec_"`

	AppBaseURL    string
	BillingAPIKey string
}

// LoadConfigFromEnv reads the billing configuration. Values are taken as-is;
// the publishable-key test fallback is applied where the key is served to
// clients, not here, so Validate sees the real deployment state.
func LoadConfigFromEnv() Config {
	return Config{
		PublishableKey: strings.TrimSpace(env.GetEnv("STRIPE_PUBLISHABLE_KEY", "")),
		SecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		AppBaseURL:     strings.TrimRight(env.GetEnv("APP_BASE_URL", "http://localhost:4000"), "/"),
		BillingAPIKey:  strings.TrimSpace(env.GetEnv("BILLING_API_KEY", "")),
	}
}

// ClientPublishableKey returns the key the dashboard should load the payment
// SDK with, falling back to the labeled test value with a warning.
func (c Config) ClientPublishableKey() string {
	if c.PublishableKey != "" {
		return c.PublishableKey
	}
	log.Println("billing: STRIPE_PUBLISHABLE_KEY not set, serving test-mode placeholder")
	return TestModePublishableKey
}

// ValidationResult carries every violation found in one pass so a deployment
// can fix all of them at once.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ConfigValidator checks the billing secrets against the provider's prefix
// conventions.
type ConfigValidator struct {
	validate *validator.Validate
	track    TrackFunc
}

func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{
		validate: validator.New(),
		track:    analytics.Track,
	}
}

// Validate reports every missing or malformed secret without short-circuiting.
// It never returns a Go error; callers decide how hard to fail.
func (v *ConfigValidator) Validate(cfg Config) ValidationResult {
	result := ValidationResult{Valid: true}

	if err := v.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result.Errors = append(result.Errors, describeConfigError(fe))
			}
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
		result.Valid = false
	}

	v.track("billing_config_validated", map[string]string{
		"valid":       strconv.FormatBool(result.Valid),
		"error_count": strconv.Itoa(len(result.Errors)),
	})
	return result
}

func describeConfigError(fe validator.FieldError) string {
	name := configFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "startswith":
		return name + " must start with " + fe.Param()
	default:
		return name + " is invalid"
	}
}

func configFieldName(field string) string {
	switch field {
	case "PublishableKey":
		return "publishable key"
	case "SecretKey":
		return "secret key"
	case "WebhookSecret":
		return "webhook signing secret"
	default:
		return field
	}
}
