package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertRateLimitSpike    AlertType = "rate_limit_spike"
)

// AlertEvent describes an anomaly that crossed its threshold.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc receives anomaly notifications. It is called on the request
// goroutine and should return quickly.
type AlertFunc func(AlertEvent)

const (
	defaultFailureWindow     = time.Minute
	defaultFailureThreshold  = 50
	defaultThrottleWindow    = 5 * time.Minute
	defaultThrottleThreshold = 20
)

// metricsCollector watches the audit stream for spikes. Failed admin logins
// and rate-limit denials each feed a sliding window; crossing a threshold
// fires the alert callback once and restarts that window.
type metricsCollector struct {
	mu        sync.Mutex
	failures  windowCounter
	throttles windowCounter
	alertFn   AlertFunc
}

type windowCounter struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		failures:  windowCounter{window: defaultFailureWindow, threshold: defaultFailureThreshold},
		throttles: windowCounter{window: defaultThrottleWindow, threshold: defaultThrottleThreshold},
		alertFn:   alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant window.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditAdminLoginFailure:
		m.record(&m.failures, AlertLoginFailureSpike,
			"admin login failure rate exceeds threshold")
	case AuditAdminLoginRateLimited:
		m.record(&m.throttles, AlertRateLimitSpike,
			"rate limited login rate exceeds threshold")
	}
}

func (m *metricsCollector) record(c *windowCounter, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c.times = append(c.times, now)
	c.times = trimWindow(c.times, now, c.window)

	if len(c.times) >= c.threshold {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(c.times),
			Threshold: c.threshold,
			Timestamp: now,
		})
		// One alert per spike: the window restarts after firing.
		c.times = c.times[:0]
	}
}

// trimWindow drops entries older than now minus window from the
// time-ordered slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
