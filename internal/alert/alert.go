// Package alert defines the severity-tagged alert emitter consumed by the
// trading core (spec §4.8, §6 "outbound sinks"). The core only depends on
// the Emitter interface; the concrete sink (PagerDuty, Slack webhook, etc.)
// lives outside this repository's scope. A LogEmitter adapter is provided
// so the core is runnable standalone, generalizing the pattern the teacher
// uses at its `logger.Error("KILL SWITCH", ...)` call sites into a
// dedicated emission point every component can share.
package alert

import (
	"log/slog"
)

// Severity is the alert urgency level.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is one alert emission.
type Event struct {
	Severity Severity
	Category string // e.g. "stop_loss_failure", "reconciliation_mismatch"
	Message  string
	Metadata map[string]any
}

// Emitter is the outbound sink for alerts. Implementations must not block
// callers for more than a few milliseconds — alerting must never become a
// suspension point on the cycle's critical path.
type Emitter interface {
	Emit(Event)
}

// LogEmitter routes alerts through log/slog, the core's ambient logger.
// It is always safe to use standalone; a real deployment wraps or replaces
// it with a PagerDuty/Slack/webhook sink supplied by the orchestration
// layer described as out-of-scope in spec §1.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates an Emitter backed by the given logger.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With("component", "alert")}
}

// Emit logs the event at a level matching its severity.
func (e *LogEmitter) Emit(evt Event) {
	args := []any{"category", evt.Category}
	for k, v := range evt.Metadata {
		args = append(args, k, v)
	}

	switch evt.Severity {
	case SeverityCritical:
		e.logger.Error(evt.Message, args...)
	case SeverityWarning:
		e.logger.Warn(evt.Message, args...)
	default:
		e.logger.Info(evt.Message, args...)
	}
}

// Critical is a convenience constructor used throughout the core for the
// mandatory CRITICAL alerts enumerated in spec §4.8.
func Critical(category, message string, metadata map[string]any) Event {
	return Event{Severity: SeverityCritical, Category: category, Message: message, Metadata: metadata}
}

// Warning is a convenience constructor for WARNING-severity events.
func Warning(category, message string, metadata map[string]any) Event {
	return Event{Severity: SeverityWarning, Category: category, Message: message, Metadata: metadata}
}

// Info is a convenience constructor for INFO-severity events.
func Info(category, message string, metadata map[string]any) Event {
	return Event{Severity: SeverityInfo, Category: category, Message: message, Metadata: metadata}
}
