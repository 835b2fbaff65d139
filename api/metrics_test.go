package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) (*metricsCollector, func() []AlertEvent) {
	t.Helper()
	var (
		mu     sync.Mutex
		alerts []AlertEvent
	)
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	snapshot := func() []AlertEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]AlertEvent(nil), alerts...)
	}
	return collector, snapshot
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	collector, alerts := newTestCollector(t)
	collector.failures.threshold = 5

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditAdminLoginFailure)
	}
	assert.Empty(t, alerts(), "no alert below threshold")

	collector.recordEvent(AuditAdminLoginFailure)
	got := alerts()
	require.Len(t, got, 1)
	assert.Equal(t, AlertLoginFailureSpike, got[0].Type)
	assert.Equal(t, 5, got[0].Count)
	assert.Equal(t, 5, got[0].Threshold)
}

func TestRateLimitSpikeAlert(t *testing.T) {
	collector, alerts := newTestCollector(t)
	collector.throttles.threshold = 3

	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditAdminLoginRateLimited)
	}
	assert.Empty(t, alerts())

	collector.recordEvent(AuditAdminLoginRateLimited)
	got := alerts()
	require.Len(t, got, 1)
	assert.Equal(t, AlertRateLimitSpike, got[0].Type)
}

func TestMetricsIgnoresUnrelatedEvents(t *testing.T) {
	collector, alerts := newTestCollector(t)
	collector.failures.threshold = 1
	collector.throttles.threshold = 1

	collector.recordEvent(AuditWorkspaceSwitched)
	collector.recordEvent(AuditLogout)
	assert.Empty(t, alerts())
}

func TestMetricsNilSafety(t *testing.T) {
	var collector *metricsCollector
	collector.recordEvent(AuditAdminLoginFailure)

	noCallback := newMetricsCollector(nil)
	noCallback.recordEvent(AuditAdminLoginFailure)
}

func TestMetricsWindowExpiry(t *testing.T) {
	collector, alerts := newTestCollector(t)
	collector.failures.threshold = 5
	collector.failures.window = 100 * time.Millisecond

	for i := 0; i < 4; i++ {
		collector.recordEvent(AuditAdminLoginFailure)
	}
	time.Sleep(150 * time.Millisecond)

	collector.recordEvent(AuditAdminLoginFailure)
	assert.Empty(t, alerts(), "expired failures do not count toward the threshold")
}

func TestMetricsResetAfterAlert(t *testing.T) {
	collector, alerts := newTestCollector(t)
	collector.failures.threshold = 3

	for i := 0; i < 3; i++ {
		collector.recordEvent(AuditAdminLoginFailure)
	}
	require.Len(t, alerts(), 1)

	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditAdminLoginFailure)
	}
	assert.Len(t, alerts(), 1, "window restarted, second spike not reached yet")

	collector.recordEvent(AuditAdminLoginFailure)
	assert.Len(t, alerts(), 2)
}
