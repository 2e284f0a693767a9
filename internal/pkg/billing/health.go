package billing

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/TitanCloudAI/titan-cloud/internal/pkg/analytics"
)

// healthCheckThreshold is the probe latency above which a performance issue
// is reported.
const healthCheckThreshold = 2000 * time.Millisecond

// HealthMonitor periodically probes provider initialization latency. It is
// an observability loop, not a correctness gate: nothing it does raises to
// the caller.
type HealthMonitor struct {
	init      *Initializer
	threshold time.Duration
	track     TrackFunc
}

func NewHealthMonitor(init *Initializer) *HealthMonitor {
	return &HealthMonitor{
		init:      init,
		threshold: healthCheckThreshold,
		track:     analytics.Track,
	}
}

// CheckHealth runs a fresh initialization probe and records its latency.
// A failed probe triggers a single recovery attempt of the shared
// initializer, whose outcome is tracked as well.
func (m *HealthMonitor) CheckHealth(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.track("stripe_health_check_panic", map[string]string{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	start := time.Now()
	_, err := m.probe(ctx)
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("billing: health probe failed: %v", err)
		m.track("stripe_health_check_failed", map[string]string{
			"error": err.Error(),
		})
		m.recover(ctx)
		return
	}

	if elapsed > m.threshold {
		m.track("stripe_performance_issue", map[string]string{
			"load_time_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
			"threshold_ms": strconv.FormatInt(m.threshold.Milliseconds(), 10),
		})
	}
}

// probe loads a throwaway handle so the measurement is never satisfied by
// the shared initializer's cache.
func (m *HealthMonitor) probe(ctx context.Context) (ProviderAPI, error) {
	p := &Initializer{
		cfg:       m.init.cfg,
		validator: m.init.validator,
		loader:    m.init.loader,
		sleep:     m.init.sleep,
		track:     func(string, map[string]string) {},
	}
	return p.Initialize(ctx)
}

// recover makes one bounded attempt to re-establish the shared handle.
func (m *HealthMonitor) recover(ctx context.Context) {
	m.init.Reset()
	if _, err := m.init.Initialize(ctx); err != nil {
		m.track("stripe_recovery_failed", map[string]string{
			"error": err.Error(),
		})
		return
	}
	m.track("stripe_recovery_succeeded", nil)
}

// RunHealthLoop checks health on the given interval until ctx is canceled.
func (m *HealthMonitor) RunHealthLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}
