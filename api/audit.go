package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/pbartlett/gatehouse/internal/uuid"
)

// AuditEvent identifies an auditable action.
type AuditEvent string

const (
	AuditLogout                AuditEvent = "logout"
	AuditWorkspaceSwitched     AuditEvent = "workspace_switched"
	AuditAdminLoginSuccess     AuditEvent = "admin_login_success"
	AuditAdminLoginFailure     AuditEvent = "admin_login_failure"
	AuditAdminLoginRateLimited AuditEvent = "admin_login_rate_limited"
	AuditAdminLogout           AuditEvent = "admin_logout"
	AuditLogViewed             AuditEvent = "audit_log_viewed"
)

// auditLogger records security-relevant events. Every event goes to the
// structured log; metrics, persistence and webhook fan-out are optional and
// each sink may be nil. Credentials and tokens never appear in events.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
	store   *auditStore
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{logger: logger}
}

func auditAttr(key, value string) slog.Attr {
	return slog.String(key, value)
}

func (l *auditLogger) logEvent(event AuditEvent, r *http.Request, subject string, attrs ...slog.Attr) {
	l.log(slog.LevelInfo, event, r, subject, attrs)
}

func (l *auditLogger) logFailure(event AuditEvent, r *http.Request, subject, reason string, attrs ...slog.Attr) {
	l.log(slog.LevelWarn, event, r, subject, append(attrs, slog.String("reason", reason)))
}

func (l *auditLogger) log(level slog.Level, event AuditEvent, r *http.Request, subject string, attrs []slog.Attr) {
	var remoteIP string
	if r != nil {
		remoteIP = remoteAddrIP(r)
	}

	logAttrs := make([]slog.Attr, 0, len(attrs)+3)
	logAttrs = append(logAttrs,
		slog.String("event", string(event)),
		slog.String("subject", subject),
		slog.String("remote_ip", remoteIP))
	logAttrs = append(logAttrs, attrs...)
	l.logger.LogAttrs(context.Background(), level, "audit", logAttrs...)

	if l.metrics != nil {
		l.metrics.recordEvent(event)
	}
	if l.store == nil && l.webhook == nil {
		return
	}

	entry := auditEntry{
		ID:        uuid.New(),
		Event:     event,
		Subject:   subject,
		RemoteIP:  remoteIP,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if len(attrs) > 0 {
		entry.Attrs = make(map[string]string, len(attrs))
		for _, attr := range attrs {
			entry.Attrs[attr.Key] = attr.Value.String()
		}
	}

	if l.store != nil {
		if err := l.store.append(entry); err != nil {
			l.logger.Error("failed to persist audit entry", "error", err)
		}
	}
	if l.webhook != nil {
		l.webhook.enqueue(entry)
	}
}
