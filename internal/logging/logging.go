// Package logging adds orchestrator events and request-scoped trace IDs to
// the agentkit logger.
package logging

import (
	"context"
	"io"
	"strings"
	"time"

	aklog "github.com/vinayprograms/agentkit/logging"
)

// Level represents log severity.
type Level = aklog.Level

const (
	LevelDebug = aklog.LevelDebug
	LevelInfo  = aklog.LevelInfo
	LevelWarn  = aklog.LevelWarn
	LevelError = aklog.LevelError
)

// Logger writes `LEVEL TIMESTAMP [component] message key=value` lines.
// A trace ID, when set, is appended to every entry as the trace_id field.
type Logger struct {
	base    *aklog.Logger
	traceID string
}

// New creates a Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{base: aklog.New()}
}

// Discard returns a logger that writes nowhere. Useful in tests.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// ParseLevel converts a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{base: l.base.WithComponent(component), traceID: l.traceID}
}

// WithTraceID returns a new logger that tags entries with traceID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{base: l.base, traceID: traceID}
}

// SetLevel sets the minimum log level. Set it before deriving component
// loggers.
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(level)
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.base.Debug(msg, l.fields(fields))
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.base.Info(msg, l.fields(fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.base.Warn(msg, l.fields(fields))
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.base.Error(msg, l.fields(fields))
}

// fields merges the caller's fields with the trace ID without mutating them.
func (l *Logger) fields(fields []map[string]interface{}) map[string]interface{} {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	if l.traceID == "" {
		return f
	}
	out := make(map[string]interface{}, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out["trace_id"] = l.traceID
	return out
}

type traceIDKey struct{}

// ContextWithTraceID stores a request trace ID in ctx.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored by ContextWithTraceID, or "".
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// FromContext returns l tagged with the trace ID carried by ctx, if any.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return l.WithTraceID(id)
	}
	return l
}

// --- Registry ---

// AgentRegistered logs a successful agent discovery.
func (l *Logger) AgentRegistered(name, address string, capabilities []string, attempts int) {
	l.Info("agent_registered", map[string]interface{}{
		"agent":        name,
		"address":      address,
		"capabilities": strings.Join(capabilities, ","),
		"attempts":     attempts,
	})
}

// RegistrationRetry logs a failed discovery attempt that will be retried.
func (l *Logger) RegistrationRetry(name string, attempt int, delay time.Duration, err error) {
	l.Warn("agent_not_ready", map[string]interface{}{
		"agent":   name,
		"attempt": attempt,
		"retry":   delay.String(),
		"error":   err.Error(),
	})
}

// --- Workflow ---

// WorkflowStart logs the start of a course workflow.
func (l *Logger) WorkflowStart(topic string, numQuestions, maxAttempts int) {
	l.Info("workflow_start", map[string]interface{}{
		"topic":        topic,
		"questions":    numQuestions,
		"max_attempts": maxAttempts,
	})
}

// WorkflowComplete logs the terminal outcome of a course workflow.
func (l *Logger) WorkflowComplete(topic, reason string, attempts, best int, score float64, duration time.Duration) {
	l.Info("workflow_complete", map[string]interface{}{
		"topic":    topic,
		"reason":   reason,
		"attempts": attempts,
		"best":     best,
		"score":    score,
		"duration": duration.String(),
	})
}

// WorkflowFailed logs a workflow aborted by an upstream failure.
func (l *Logger) WorkflowFailed(topic, stage string, duration time.Duration, err error) {
	l.Error("workflow_failed", map[string]interface{}{
		"topic":    topic,
		"stage":    stage,
		"duration": duration.String(),
		"error":    err.Error(),
	})
}

// StateTransition logs a workflow state change.
func (l *Logger) StateTransition(from, to string, attempt int) {
	l.Debug("state_transition", map[string]interface{}{
		"from":    from,
		"to":      to,
		"attempt": attempt,
	})
}

// AttemptEvaluated logs the judged outcome of one answer attempt.
func (l *Logger) AttemptEvaluated(attempt, maxAttempts int, score float64, approved, improved bool) {
	l.Info("attempt_evaluated", map[string]interface{}{
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"score":        score,
		"approved":     approved,
		"new_best":     improved,
	})
}

// --- Transport ---

// AgentCall logs a capability invocation.
func (l *Logger) AgentCall(endpoint string, duration time.Duration, status int, err error) {
	fields := map[string]interface{}{
		"endpoint": endpoint,
		"duration": duration.String(),
		"status":   status,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("agent_call_failed", fields)
		return
	}
	l.Debug("agent_call", fields)
}

// RequestServed logs a completed HTTP request.
func (l *Logger) RequestServed(method, path string, status int, duration time.Duration) {
	l.Info("request_served", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   status,
		"duration": duration.String(),
	})
}
