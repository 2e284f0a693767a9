package billing

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid billing secrets. It is fatal and never
// retried; a deployment has to fix its configuration.
type ConfigurationError struct {
	Errors []string
}

func (e *ConfigurationError) Error() string {
	return "billing configuration invalid: " + strings.Join(e.Errors, "; ")
}

// InitializationError reports that the payment SDK could not be loaded after
// the bounded retry budget was spent.
type InitializationError struct {
	Attempts int
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("payment client initialization failed after %d attempts", e.Attempts)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ProviderError wraps a provider-side failure with a safe message. The
// underlying error is kept for logging and errors.Is/As, but Error() never
// exposes provider internals to callers.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider request failed: %s", e.Op)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// SubscriptionCreationError is surfaced to checkout callers with a generic
// retryable message.
type SubscriptionCreationError struct {
	Err error
}

func (e *SubscriptionCreationError) Error() string {
	return "payment system unavailable, please try again"
}

func (e *SubscriptionCreationError) Unwrap() error { return e.Err }

// InvalidSignatureError rejects webhook deliveries whose signature does not
// match the configured signing secret.
type InvalidSignatureError struct {
	Err error
}

func (e *InvalidSignatureError) Error() string {
	return "invalid webhook signature"
}

func (e *InvalidSignatureError) Unwrap() error { return e.Err }
