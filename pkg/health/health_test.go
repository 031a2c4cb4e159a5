package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/bus"
	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/store"
	"github.com/droverhq/drover/pkg/types"
)

func newTestMonitor(t *testing.T) (*Monitor, store.Store, *bus.Bus) {
	t.Helper()
	st := store.NewMemory()
	b := bus.New(st, config.BusConfig{Retention: time.Hour, CompressionMinSize: 1024})
	return NewMonitor(st, b), st, b
}

func TestGradeUsage(t *testing.T) {
	now := time.Now()
	tests := []struct {
		pct  float64
		want Severity
	}{
		{10, SeverityInfo},
		{79.9, SeverityInfo},
		{80, SeverityWarning},
		{94.9, SeverityWarning},
		{95, SeverityCritical},
		{100, SeverityCritical},
	}
	for _, tt := range tests {
		r := gradeUsage("cpu", tt.pct, cpuWarningPct, cpuCriticalPct, now)
		assert.Equal(t, tt.want, r.Severity, "%.1f%%", tt.pct)
		assert.Equal(t, tt.pct, r.Value)
	}
}

func TestStatusRetryGate(t *testing.T) {
	s := NewStatus()
	fail := Result{Component: "store", Severity: SeverityCritical, CheckedAt: time.Now()}

	s.Update(fail, 3)
	assert.True(t, s.Healthy, "one failure absorbed")
	s.Update(fail, 3)
	assert.True(t, s.Healthy, "two failures absorbed")
	s.Update(fail, 3)
	assert.False(t, s.Healthy, "third consecutive failure trips")

	ok := Result{Component: "store", Severity: SeverityInfo, CheckedAt: time.Now()}
	s.Update(ok, 3)
	assert.True(t, s.Healthy, "recovery is immediate")
	assert.Zero(t, s.ConsecutiveFailures)
}

func TestFleetCheckerEmptyFleetIsCritical(t *testing.T) {
	st := store.NewMemory()
	results := FleetChecker{Store: st}.Check(context.Background())

	require.Len(t, results, 1)
	assert.Equal(t, SeverityCritical, results[0].Severity)
	assert.Contains(t, results[0].Message, "no live workers")
}

func TestFleetCheckerFlagsHotWorker(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.SetHash(ctx, types.WorkerKey("w-cool"), map[string]string{
		"id": "w-cool", "cpu_percent": "35.0",
	}, time.Minute))
	require.NoError(t, st.SetHash(ctx, types.WorkerKey("w-hot"), map[string]string{
		"id": "w-hot", "cpu_percent": "97.5",
	}, time.Minute))

	results := FleetChecker{Store: st}.Check(ctx)
	require.Len(t, results, 2)
	assert.Equal(t, SeverityInfo, results[0].Severity)
	assert.Equal(t, 2.0, results[0].Value)

	hot := results[1]
	assert.Equal(t, "worker:w-hot", hot.Component)
	assert.Equal(t, SeverityWarning, hot.Severity)
}

func TestStoreCheckerHealthy(t *testing.T) {
	st := store.NewMemory()
	results := StoreChecker{Store: st}.Check(context.Background())

	require.Len(t, results, 1)
	assert.True(t, results[0].Healthy())
}

func TestRunChecksWritesRecordAndHeartbeat(t *testing.T) {
	m, st, _ := newTestMonitor(t)
	ctx := context.Background()

	m.RunChecks(ctx)

	record, err := st.GetHash(ctx, types.SystemHealthKey)
	require.NoError(t, err)
	assert.Contains(t, record, "store")
	assert.Contains(t, record, "fleet")

	stamp, err := Heartbeat(ctx, st)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, 5*time.Second)
}

func TestAlertCooldownSuppressesRepeats(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	finding := Result{
		Component: "fleet",
		Severity:  SeverityCritical,
		Message:   "no live workers",
		CheckedAt: time.Now(),
	}

	m.track(finding)
	assert.True(t, m.shouldAlert(finding), "first finding alerts")
	m.track(finding)
	assert.False(t, m.shouldAlert(finding), "repeat inside cooldown is suppressed")

	// A different severity for the same component has its own cooldown
	warning := finding
	warning.Severity = SeverityWarning
	m.track(warning)
	assert.True(t, m.shouldAlert(warning))
}

func TestStoreAlertsWaitForRetryBudget(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	failure := Result{
		Component: "store",
		Severity:  SeverityCritical,
		Message:   "state store unreachable",
		CheckedAt: time.Now(),
	}

	m.track(failure)
	assert.False(t, m.shouldAlert(failure), "first ping failure absorbed")
	m.track(failure)
	assert.False(t, m.shouldAlert(failure), "second ping failure absorbed")
	m.track(failure)
	assert.True(t, m.shouldAlert(failure), "third failure alerts")
}

func TestAlertRoutesWorkerFindingsToPerformanceChannel(t *testing.T) {
	m, _, b := newTestMonitor(t)
	ctx := context.Background()

	stream, err := b.Subscribe(ctx, "performance")
	require.NoError(t, err)
	defer stream.Close()

	m.alert(ctx, Result{
		Component: "worker:w-hot",
		Severity:  SeverityWarning,
		Message:   "worker w-hot running hot",
		Value:     97.5,
		CheckedAt: time.Now(),
	})

	select {
	case evt := <-stream.Events():
		assert.Equal(t, types.EventPerformanceAlert, evt.Type)
		assert.Equal(t, "w-hot", evt.Data["agent_id"])
	case <-time.After(time.Second):
		t.Fatal("no performance alert delivered")
	}
}
