// Package workflow runs the generate, evaluate and retry loop that produces
// a course.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vinayprograms/orchestrator/internal/capability"
	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/telemetry"
)

// Stage names the capability call a failure happened in.
type Stage string

const (
	StageQuestions Stage = capability.GenerateQuestions
	StageAnswers   Stage = capability.GenerateAnswers
	StageEvaluate  Stage = capability.EvaluateQuality
)

// UpstreamError aborts a workflow when an agent call fails. Attempt is the
// 1-based attempt in progress, 0 for question generation.
type UpstreamError struct {
	Stage   Stage
	Attempt int
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("%s (attempt %d): %v", e.Stage, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Observer is notified of workflow progress. Implementations must not block.
type Observer interface {
	OnAttempt(ctx context.Context, req course.Request, attempt course.Attempt)
	OnComplete(ctx context.Context, req course.Request, res *course.Result, err error)
}

// Engine runs course workflows over a bound capability set. It holds no
// per-run state and is safe for concurrent use.
type Engine struct {
	set       capability.Set
	logger    *logging.Logger
	observers []Observer
	metrics   *metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMeter records metrics on m instead of the global meter.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.metrics = newMetrics(m) }
}

// New creates an Engine.
func New(set capability.Set, opts ...Option) *Engine {
	e := &Engine{
		set:    set,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(telemetry.Meter())
	}
	return e
}

// Run executes one workflow. Low scores are not errors: an exhausted run
// returns the best attempt with ReasonExhausted. Agent failures abort the
// run with *UpstreamError and no partial result.
func (e *Engine) Run(ctx context.Context, req course.Request) (res *course.Result, err error) {
	start := time.Now()
	log := e.logger.FromContext(ctx)

	ctx, span := telemetry.Tracer().Start(ctx, "workflow.run")
	span.SetAttributes(
		attribute.String("course.topic", req.Topic),
		attribute.Int("course.num_questions", req.NumQuestions),
		attribute.Int("course.max_attempts", req.MaxAttempts),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.String("workflow.terminal_reason", string(res.TerminalReason)),
				attribute.Int("workflow.attempts_used", res.AttemptsUsed),
				attribute.Int("workflow.best_attempt", res.Best.Index),
			)
		}
		telemetry.EndSpan(span, err)
		e.metrics.outcome(ctx, res, err)
		for _, o := range e.observers {
			o.OnComplete(ctx, req, res, err)
		}
	}()

	log.WorkflowStart(req.Topic, req.NumQuestions, req.MaxAttempts)
	m := newMachine(req, log)

	if err := m.transition(StateQuestionsRequested); err != nil {
		return nil, err
	}
	questions, err := stageCall(ctx, StageQuestions, 0, func(ctx context.Context) ([]course.Question, error) {
		return e.set.Questions.GenerateQuestions(ctx, req.Topic, req.NumQuestions)
	})
	if err != nil {
		log.WorkflowFailed(req.Topic, string(StageQuestions), time.Since(start), err)
		return nil, err
	}
	m.questions = questions

	for !m.state.Terminal() {
		attempt := len(m.attempts) + 1
		if err := m.transition(StateAnswersRequested); err != nil {
			return nil, err
		}

		feedback := m.feedback()
		answers, err := stageCall(ctx, StageAnswers, attempt, func(ctx context.Context) ([]course.Answer, error) {
			return e.set.Answers.GenerateAnswers(ctx, req.Topic, questions, feedback)
		})
		if err != nil {
			log.WorkflowFailed(req.Topic, string(StageAnswers), time.Since(start), err)
			return nil, err
		}

		ev, err := stageCall(ctx, StageEvaluate, attempt, func(ctx context.Context) (course.Evaluation, error) {
			return e.set.Evaluator.Evaluate(ctx, req.Topic, answers)
		})
		if err != nil {
			log.WorkflowFailed(req.Topic, string(StageEvaluate), time.Since(start), err)
			return nil, err
		}

		a, improved := m.record(answers, ev)
		if err := m.transition(StateEvaluated); err != nil {
			return nil, err
		}
		log.AttemptEvaluated(a.Index, req.MaxAttempts, ev.OverallScore, ev.Approved, improved)
		e.metrics.attempt(ctx, ev)
		for _, o := range e.observers {
			o.OnAttempt(ctx, req, a)
		}

		if err := m.transition(m.decide()); err != nil {
			return nil, err
		}
	}

	res = &course.Result{
		RequestID:      logging.TraceIDFromContext(ctx),
		Topic:          req.Topic,
		Questions:      m.questions,
		Attempts:       m.attempts,
		Best:           m.best,
		AttemptsUsed:   len(m.attempts),
		Elapsed:        time.Since(start),
		TerminalReason: m.reason(),
	}
	log.WorkflowComplete(req.Topic, string(res.TerminalReason), res.AttemptsUsed, res.Best.Index, res.Best.Evaluation.OverallScore, res.Elapsed)
	return res, nil
}

// stageCall runs one capability call in its own span and wraps failures as
// *UpstreamError. A context already done is reported against the stage.
func stageCall[T any](ctx context.Context, stage Stage, attempt int, call func(context.Context) (T, error)) (out T, err error) {
	if err := ctx.Err(); err != nil {
		return out, &UpstreamError{Stage: stage, Attempt: attempt, Err: err}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "workflow."+string(stage))
	span.SetAttributes(
		attribute.String("workflow.stage", string(stage)),
		attribute.Int("workflow.attempt", attempt),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	out, err = call(ctx)
	if err != nil {
		return out, &UpstreamError{Stage: stage, Attempt: attempt, Err: err}
	}
	return out, nil
}

type metrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	scores   metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	var fallback noop.Meter
	attempts, err := m.Int64Counter("orchestrator.workflow.attempts",
		metric.WithDescription("Answer attempts evaluated"))
	if err != nil {
		attempts, _ = fallback.Int64Counter("")
	}
	outcomes, err := m.Int64Counter("orchestrator.workflow.outcomes",
		metric.WithDescription("Finished workflows by outcome"))
	if err != nil {
		outcomes, _ = fallback.Int64Counter("")
	}
	scores, err := m.Float64Histogram("orchestrator.workflow.score",
		metric.WithDescription("Overall score per evaluated attempt"))
	if err != nil {
		scores, _ = fallback.Float64Histogram("")
	}
	return &metrics{attempts: attempts, outcomes: outcomes, scores: scores}
}

func (m *metrics) attempt(ctx context.Context, ev course.Evaluation) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("approved", ev.Approved)))
	m.scores.Record(ctx, ev.OverallScore)
}

func (m *metrics) outcome(ctx context.Context, res *course.Result, err error) {
	outcome := "failed"
	if err == nil && res != nil {
		outcome = string(res.TerminalReason)
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
