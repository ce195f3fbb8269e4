// Package report formats workflow outcomes for the HTTP surface.
package report

import (
	"errors"
	"fmt"
	"math"

	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/registry"
	"github.com/vinayprograms/orchestrator/internal/workflow"
)

// CreateCourseRequest is the POST /create_course body.
type CreateCourseRequest struct {
	Topic        string `json:"topic"`
	NumQuestions *int   `json:"num_questions,omitempty"`
	MaxRetries   *int   `json:"max_retries,omitempty"`
}

// CourseReport is the success body of POST /create_course.
type CourseReport struct {
	Success           bool              `json:"success"`
	RequestID         string            `json:"request_id,omitempty"`
	Topic             string            `json:"topic"`
	CourseContent     []course.Answer   `json:"course_content"`
	QualityEvaluation course.Evaluation `json:"quality_evaluation"`
	QualityScore      string            `json:"quality_score"`
	AttemptsNeeded    int               `json:"attempts_needed"`
	BestAttempt       int               `json:"best_attempt"`
	TerminalReason    string            `json:"terminal_reason"`
	TotalTimeSeconds  float64           `json:"total_time_seconds"`
}

// ErrorDetail classifies a failed request.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrorReport is the failure body of every endpoint.
type ErrorReport struct {
	Success   bool        `json:"success"`
	RequestID string      `json:"request_id,omitempty"`
	Error     ErrorDetail `json:"error"`
}

// Error kinds.
const (
	KindInvalidRequest     = "invalid_request"
	KindUpstreamFailure    = "upstream_failure"
	KindAgentNotFound      = "agent_not_found"
	KindCapabilityNotFound = "capability_not_found"
	KindRateLimited        = "rate_limited"
	KindInternal           = "internal_error"
)

// Course formats a completed workflow from its best attempt.
func Course(res *course.Result) CourseReport {
	best := res.Best
	content := best.Answers
	if content == nil {
		content = []course.Answer{}
	}
	return CourseReport{
		Success:           true,
		RequestID:         res.RequestID,
		Topic:             res.Topic,
		CourseContent:     content,
		QualityEvaluation: best.Evaluation,
		QualityScore:      fmt.Sprintf("%g/10", best.Evaluation.OverallScore),
		AttemptsNeeded:    res.AttemptsUsed,
		BestAttempt:       best.Index,
		TerminalReason:    string(res.TerminalReason),
		TotalTimeSeconds:  math.Round(res.Elapsed.Seconds()*100) / 100,
	}
}

// Failure formats err, classifying it by its concrete type.
func Failure(requestID string, err error) ErrorReport {
	return ErrorReport{
		Success:   false,
		RequestID: requestID,
		Error:     Classify(err),
	}
}

// Classify maps an error to its report detail.
func Classify(err error) ErrorDetail {
	var (
		verr *course.ValidationError
		uerr *workflow.UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		return ErrorDetail{Kind: KindInvalidRequest, Field: verr.Field, Message: err.Error()}
	case errors.As(err, &uerr):
		return ErrorDetail{Kind: KindUpstreamFailure, Stage: string(uerr.Stage), Message: err.Error()}
	case errors.Is(err, registry.ErrAgentNotFound):
		return ErrorDetail{Kind: KindAgentNotFound, Message: err.Error()}
	case errors.Is(err, registry.ErrCapabilityNotFound):
		return ErrorDetail{Kind: KindCapabilityNotFound, Message: err.Error()}
	default:
		return ErrorDetail{Kind: KindInternal, Message: err.Error()}
	}
}
