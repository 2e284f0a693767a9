package billing

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
)

const (
	maxInitAttempts = 3
	initBackoffBase = 1 * time.Second
)

// LoaderFunc produces a ready provider handle. The default loader builds a
// Stripe client; tests inject failing or counting loaders.
type LoaderFunc func(ctx context.Context, cfg Config) (ProviderAPI, error)

// Initializer lazily creates the process-wide provider handle. A mutex makes
// initialization single-flight: concurrent callers wait for the first load
// instead of racing the SDK.
type Initializer struct {
	mu sync.Mutex

	cfg       Config
	validator *ConfigValidator
	loader    LoaderFunc
	sleep     func(context.Context, time.Duration) error
	track     TrackFunc

	handle   ProviderAPI
	attempts int
}

func NewInitializer(cfg Config) *Initializer {
	return &Initializer{
		cfg:       cfg,
		validator: NewConfigValidator(),
		loader:    defaultLoader,
		sleep:     sleepWithContext,
		track:     analytics.Track,
	}
}

func defaultLoader(_ context.Context, cfg Config) (ProviderAPI, error) {
	return newStripeProvider(cfg.SecretKey)
}

// Initialize returns the cached handle, loading it on first use. Invalid
// configuration aborts immediately with ConfigurationError; transient load
// failures are retried up to maxInitAttempts with exponential backoff before
// an InitializationError is surfaced.
func (i *Initializer) Initialize(ctx context.Context) (ProviderAPI, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if result := i.validator.Validate(i.cfg); !result.Valid {
		return nil, &ConfigurationError{Errors: result.Errors}
	}

	if i.handle != nil {
		return i.handle, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxInitAttempts; attempt++ {
		i.attempts = attempt

		handle, err := i.loader(ctx, i.cfg)
		if err == nil {
			i.handle = handle
			i.track("stripe_client_initialized", map[string]string{
				"attempts": strconv.Itoa(attempt),
			})
			return handle, nil
		}

		lastErr = err
		log.Printf("billing: provider load attempt %d/%d failed: %v", attempt, maxInitAttempts, err)
		if attempt < maxInitAttempts {
			backoff := initBackoffBase << (attempt - 1)
			if err := i.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	i.track("stripe_client_init_failed", map[string]string{
		"attempts": strconv.Itoa(i.attempts),
	})
	return nil, &InitializationError{Attempts: i.attempts, Err: lastErr}
}

// Reset drops the cached handle and retry counter so the next Initialize
// performs a fresh load. Used by recovery logic and tests.
func (i *Initializer) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handle = nil
	i.attempts = 0
}

// Attempts reports how many load attempts the last initialization used.
func (i *Initializer) Attempts() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.attempts
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
