package events

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"

	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/workflow"
)

// Recorder forwards per-attempt and terminal workflow events to a telemetry
// exporter.
type Recorder struct {
	logEvent func(name string, fields map[string]interface{})
}

var _ workflow.Observer = (*Recorder)(nil)

// NewRecorder records events on exp.
func NewRecorder(exp telemetry.Exporter) *Recorder {
	return &Recorder{logEvent: func(name string, fields map[string]interface{}) {
		exp.LogEvent(name, fields)
	}}
}

// OnAttempt records an evaluated attempt.
func (r *Recorder) OnAttempt(ctx context.Context, req course.Request, a course.Attempt) {
	r.logEvent("attempt_evaluated", map[string]interface{}{
		"request_id": logging.TraceIDFromContext(ctx),
		"topic":      req.Topic,
		"attempt":    a.Index,
		"score":      a.Evaluation.OverallScore,
		"approved":   a.Evaluation.Approved,
	})
}

// OnComplete records the workflow outcome.
func (r *Recorder) OnComplete(ctx context.Context, req course.Request, res *course.Result, err error) {
	ev := Summarize(req, res, err)
	fields := map[string]interface{}{
		"request_id": logging.TraceIDFromContext(ctx),
		"topic":      ev.Topic,
		"attempts":   ev.Attempts,
	}
	if ev.Type == TypeFailed {
		fields["stage"] = ev.Stage
		fields["error"] = ev.Error
		r.logEvent("course_failed", fields)
		return
	}
	fields["terminal_reason"] = ev.TerminalReason
	fields["best_attempt"] = ev.BestAttempt
	fields["score"] = ev.Score
	r.logEvent("course_completed", fields)
}
