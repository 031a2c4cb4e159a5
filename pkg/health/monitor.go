package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

const (
	// checkInterval is how often the monitor runs its probes
	checkInterval = 30 * time.Second

	// alertCooldown suppresses repeat alerts for the same component and
	// severity
	alertCooldown = 5 * time.Minute

	// heartbeatTTL bounds how stale the system heartbeat may look
	heartbeatTTL = 30 * time.Second

	// storeRetries is how many consecutive ping failures mark the store
	// unhealthy; single blips are absorbed
	storeRetries = 3
)

// Monitor runs the health checkers on an interval, records the verdicts
// in the system health hash, and raises alerts on the bus.
type Monitor struct {
	store  store.Store
	bus    *bus.Bus
	logger zerolog.Logger

	checkers []Checker

	mu       sync.Mutex
	statuses map[string]*Status
	lastSent map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a monitor with the standard probe set
func NewMonitor(st store.Store, b *bus.Bus) *Monitor {
	return &Monitor{
		store:  st,
		bus:    b,
		logger: log.WithComponent("health"),
		checkers: []Checker{
			HostChecker{},
			StoreChecker{Store: st},
			FleetChecker{Store: st},
		},
		statuses: make(map[string]*Status),
		lastSent: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loop
func (m *Monitor) Start() {
	m.logger.Info().Msg("health monitor starting")
	go m.run()
}

// Stop halts the loop
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	m.logger.Info().Msg("health monitor stopped")
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			m.RunChecks(ctx)
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

// RunChecks executes every probe once: statuses update, the health
// record refreshes, the heartbeat bumps, and alerts fire subject to
// cooldown.
func (m *Monitor) RunChecks(ctx context.Context) {
	record := make(map[string]string)

	for _, checker := range m.checkers {
		for _, result := range checker.Check(ctx) {
			m.track(result)
			record[result.Component] = string(result.Severity) + ": " + result.Message

			if !result.Healthy() && m.shouldAlert(result) {
				m.alert(ctx, result)
			}
		}
	}

	if err := m.store.SetHash(ctx, types.SystemHealthKey, record, types.SystemHealthTTL); err != nil {
		m.logger.Warn().Err(err).Msg("failed to write system health record")
	}
	stamp := time.Now().UTC().Format(time.RFC3339)
	if err := m.store.Set(ctx, types.SystemHeartbeatKey, stamp, heartbeatTTL); err != nil {
		m.logger.Warn().Err(err).Msg("failed to bump system heartbeat")
	}
}

// track folds a finding into the component's status history
func (m *Monitor) track(result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.statuses[result.Component]
	if !ok {
		status = NewStatus()
		m.statuses[result.Component] = status
	}

	retries := 1
	if result.Component == "store" {
		retries = storeRetries
	}
	status.Update(result, retries)
}

// shouldAlert applies the per-(component, severity) cooldown, and for
// the store the consecutive-failure gate
func (m *Monitor) shouldAlert(result Result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status, ok := m.statuses[result.Component]; ok && status.Healthy {
		// Still inside the retry budget; no alert yet
		return false
	}

	key := result.Component + ":" + string(result.Severity)
	if last, ok := m.lastSent[key]; ok && time.Since(last) < alertCooldown {
		return false
	}
	m.lastSent[key] = time.Now()
	return true
}

// alert publishes the finding on the right channel: worker findings go
// to the performance channel, everything else to system alerts.
func (m *Monitor) alert(ctx context.Context, result Result) {
	var err error
	if workerID, ok := strings.CutPrefix(result.Component, "worker:"); ok {
		err = m.bus.PublishPerformanceAlert(ctx, "health_monitor", workerID, result.Message, map[string]interface{}{
			"value": result.Value,
		})
	} else {
		err = m.bus.PublishSystemAlert(ctx, "health_monitor", string(result.Severity), result.Message, map[string]interface{}{
			"component": result.Component,
			"value":     result.Value,
		})
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("component", result.Component).Msg("failed to publish health alert")
		return
	}
	m.logger.Warn().
		Str("component", result.Component).
		Str("severity", string(result.Severity)).
		Str("message", result.Message).
		Msg("health alert raised")
}

// Snapshot returns the current per-component statuses
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = *status
	}
	return out
}

// Heartbeat reads the last system heartbeat stamp
func Heartbeat(ctx context.Context, st store.Store) (time.Time, error) {
	raw, err := st.Get(ctx, types.SystemHeartbeatKey)
	if err != nil {
		return time.Time{}, err
	}
	stamp, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed heartbeat stamp: %w", err)
	}
	return stamp, nil
}
