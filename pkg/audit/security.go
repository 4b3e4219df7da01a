// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionSignal is logged when libinjection flags a parameter value.
	// The value is still bound, so this is a signal, not a blocked request.
	EventSQLInjectionSignal SecurityEventType = "sql_injection_signal"
	// EventAccessRejected is logged when the access validator refuses query text.
	EventAccessRejected SecurityEventType = "access_rejected"
	// EventQueryExecution is logged for executed model-authored queries.
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent represents an auditable security event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Source    string            `json:"source"` // endpoint id or "chat"
	UserEmail string            `json:"user_email,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails contains specifics of a flagged parameter value.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// RejectionDetails names what the access validator refused. Only the
// offending fragment is recorded, never the full query.
type RejectionDetails struct {
	Kind     string `json:"kind"`
	Fragment string `json:"fragment"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates a new security auditor with a dedicated
// "security_audit" logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{
		logger: logger.Named("security_audit"),
		now:    time.Now,
	}
}

func (a *SecurityAuditor) event(ctx context.Context, t SecurityEventType, source, severity string, details any) (SecurityEvent, string) {
	event := SecurityEvent{
		Timestamp: a.now().UTC(),
		EventType: t,
		Source:    source,
		UserEmail: auth.GetEmailFromContext(ctx),
		Details:   details,
		Severity:  severity,
	}
	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionSignal records a parameter value libinjection flagged.
// Logged at WARN: the value was bound and is inert.
func (a *SecurityAuditor) LogInjectionSignal(ctx context.Context, source string, details InjectionDetails) {
	event, eventJSON := a.event(ctx, EventSQLInjectionSignal, source, "warning", details)
	a.logger.Warn("SQL injection pattern in parameter value",
		zap.String("event_json", eventJSON),
		zap.String("source", source),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("user_email", event.UserEmail),
		zap.String("severity", event.Severity),
	)
}

// LogAccessRejection records query text the access validator refused.
// Logged at ERROR with "critical" severity for alerting.
func (a *SecurityAuditor) LogAccessRejection(ctx context.Context, source string, details RejectionDetails) {
	event, eventJSON := a.event(ctx, EventAccessRejected, source, "critical", details)
	a.logger.Error("Query rejected by access validator",
		zap.String("event_json", eventJSON),
		zap.String("source", source),
		zap.String("kind", details.Kind),
		zap.String("fragment", details.Fragment),
		zap.String("user_email", event.UserEmail),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records an executed model-authored query.
// Note: this can generate high log volume.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, source string, rowCount int) {
	event, eventJSON := a.event(ctx, EventQueryExecution, source, "info", map[string]int{"row_count": rowCount})
	a.logger.Info("Query executed",
		zap.String("event_json", eventJSON),
		zap.String("source", source),
		zap.Int("row_count", rowCount),
		zap.String("user_email", event.UserEmail),
		zap.String("severity", event.Severity),
	)
}
