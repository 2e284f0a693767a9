package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestInitializer(cfg Config, loader LoaderFunc) (*Initializer, *[]string) {
	var events []string
	init := &Initializer{
		cfg:       cfg,
		validator: newTestValidator(nil),
		loader:    loader,
		sleep:     func(context.Context, time.Duration) error { return nil },
		track: func(event string, props map[string]string) {
			events = append(events, event)
		},
	}
	return init, &events
}

func TestInitializeFailsFastOnInvalidConfig(t *testing.T) {
	loaderCalls := 0
	init, _ := newTestInitializer(Config{}, func(context.Context, Config) (ProviderAPI, error) {
		loaderCalls++
		return &fakeProvider{}, nil
	})

	_, err := init.Initialize(context.Background())

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(cfgErr.Errors) != 3 {
		t.Fatalf("expected all three secrets reported, got %v", cfgErr.Errors)
	}
	if loaderCalls != 0 {
		t.Fatalf("loader must not run on invalid config, ran %d times", loaderCalls)
	}
}

func TestInitializeRetriesTransientFailures(t *testing.T) {
	loaderCalls := 0
	init, events := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		loaderCalls++
		if loaderCalls < 3 {
			return nil, errors.New("connection refused")
		}
		return &fakeProvider{}, nil
	})

	var slept []time.Duration
	init.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	handle, err := init.Initialize(context.Background())
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if handle == nil {
		t.Fatal("expected a provider handle")
	}
	if init.Attempts() != 3 {
		t.Fatalf("expected 3 attempts, got %d", init.Attempts())
	}

	// Backoff doubles per attempt.
	wantSleeps := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(slept) != len(wantSleeps) {
		t.Fatalf("expected %d backoffs, got %v", len(wantSleeps), slept)
	}
	for i, want := range wantSleeps {
		if slept[i] != want {
			t.Errorf("backoff %d: expected %v, got %v", i, want, slept[i])
		}
	}
	if !containsString(*events, "stripe_client_initialized") {
		t.Fatalf("expected success event, got %v", *events)
	}
}

func TestInitializeGivesUpAfterMaxAttempts(t *testing.T) {
	loaderCalls := 0
	loadErr := errors.New("api down")
	init, events := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		loaderCalls++
		return nil, loadErr
	})

	_, err := init.Initialize(context.Background())

	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if initErr.Attempts != maxInitAttempts {
		t.Fatalf("expected %d attempts, got %d", maxInitAttempts, initErr.Attempts)
	}
	if loaderCalls != maxInitAttempts {
		t.Fatalf("expected loader to run %d times, ran %d", maxInitAttempts, loaderCalls)
	}
	if !errors.Is(err, loadErr) {
		t.Fatal("expected the underlying load error to be wrapped")
	}
	if !containsString(*events, "stripe_client_init_failed") {
		t.Fatalf("expected failure event, got %v", *events)
	}
}

func TestInitializeCachesHandle(t *testing.T) {
	loaderCalls := 0
	init, _ := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		loaderCalls++
		return &fakeProvider{}, nil
	})

	for i := 0; i < 3; i++ {
		if _, err := init.Initialize(context.Background()); err != nil {
			t.Fatalf("initialize %d: %v", i, err)
		}
	}
	if loaderCalls != 1 {
		t.Fatalf("expected a single load, got %d", loaderCalls)
	}

	init.Reset()
	if _, err := init.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize after reset: %v", err)
	}
	if loaderCalls != 2 {
		t.Fatalf("expected a fresh load after reset, got %d", loaderCalls)
	}
}

func TestInitializeIsSingleFlight(t *testing.T) {
	var mu sync.Mutex
	loaderCalls := 0
	init, _ := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		mu.Lock()
		loaderCalls++
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return &fakeProvider{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := init.Initialize(context.Background()); err != nil {
				t.Errorf("concurrent initialize: %v", err)
			}
		}()
	}
	wg.Wait()

	if loaderCalls != 1 {
		t.Fatalf("expected one load across concurrent callers, got %d", loaderCalls)
	}
}

func TestInitializeStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	init, _ := newTestInitializer(validTestConfig(), func(context.Context, Config) (ProviderAPI, error) {
		return nil, errors.New("transient")
	})
	init.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := init.Initialize(ctx)

	var initErr *InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation to be surfaced, got %v", err)
	}
}

func TestSleepWithContextHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepWithContext(ctx, time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := sleepWithContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected nil after timer fires, got %v", err)
	}
}
