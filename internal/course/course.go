// Package course defines the values exchanged between the workflow engine,
// the capability adapters and the reporter.
package course

import (
	"fmt"
	"strings"
	"time"
)

// Question is one generated question.
type Question struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}

// Answer pairs a question with its generated answer.
type Answer struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// QuestionEvaluation is the judge's verdict on a single answer.
type QuestionEvaluation struct {
	QuestionID int      `json:"question_id"`
	Score      float64  `json:"score"`
	Issues     []string `json:"issues"`
	Strengths  []string `json:"strengths"`
}

// Evaluation is the judge's verdict on a full answer set.
type Evaluation struct {
	Approved     bool                 `json:"approved"`
	OverallScore float64              `json:"overall_score"`
	Feedback     string               `json:"feedback"`
	PerQuestion  []QuestionEvaluation `json:"individual_evaluations"`
}

// Attempt is one answer-generation-plus-evaluation cycle. Index is 1-based.
type Attempt struct {
	Index      int        `json:"index"`
	Answers    []Answer   `json:"answers"`
	Evaluation Evaluation `json:"evaluation"`
}

// TerminalReason says why a workflow stopped.
type TerminalReason string

const (
	ReasonApproved  TerminalReason = "approved"
	ReasonExhausted TerminalReason = "exhausted"
)

// Request is a validated course request.
type Request struct {
	Topic        string
	NumQuestions int
	MaxAttempts  int
}

// Limits holds defaults and upper bounds applied by NewRequest.
type Limits struct {
	DefaultQuestions int
	DefaultAttempts  int
	MaxQuestions     int // 0 = unbounded
	MaxAttempts      int // 0 = unbounded
}

// DefaultLimits mirrors the stock configuration.
var DefaultLimits = Limits{
	DefaultQuestions: 3,
	DefaultAttempts:  3,
	MaxQuestions:     20,
	MaxAttempts:      10,
}

// ValidationError reports a bad request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewRequest validates raw request values. Nil counts take the defaults in lim.
func NewRequest(topic string, numQuestions, maxAttempts *int, lim Limits) (Request, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Request{}, &ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	n := lim.DefaultQuestions
	if numQuestions != nil {
		n = *numQuestions
	}
	if n < 1 {
		return Request{}, &ValidationError{Field: "num_questions", Reason: "must be positive"}
	}
	if lim.MaxQuestions > 0 && n > lim.MaxQuestions {
		return Request{}, &ValidationError{Field: "num_questions", Reason: fmt.Sprintf("must be at most %d", lim.MaxQuestions)}
	}

	k := lim.DefaultAttempts
	if maxAttempts != nil {
		k = *maxAttempts
	}
	if k < 1 {
		return Request{}, &ValidationError{Field: "max_retries", Reason: "must be positive"}
	}
	if lim.MaxAttempts > 0 && k > lim.MaxAttempts {
		return Request{}, &ValidationError{Field: "max_retries", Reason: fmt.Sprintf("must be at most %d", lim.MaxAttempts)}
	}

	return Request{Topic: topic, NumQuestions: n, MaxAttempts: k}, nil
}

// Result is the outcome of a completed workflow.
type Result struct {
	RequestID      string
	Topic          string
	Questions      []Question
	Attempts       []Attempt
	Best           Attempt
	AttemptsUsed   int
	Elapsed        time.Duration
	TerminalReason TerminalReason
}
