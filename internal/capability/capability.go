// Package capability provides typed adapters over the three agent
// capabilities used by the course workflow.
package capability

import (
	"context"
	"fmt"

	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/invoke"
)

// Capability names as advertised on agent cards.
const (
	GenerateQuestions = "generate_questions"
	GenerateAnswers   = "generate_answers"
	EvaluateQuality   = "evaluate_quality"
)

// Default agent names.
const (
	QuestionAgent = "question_generator"
	AnswerAgent   = "answer_generator"
	JudgeAgent    = "quality_judge"
)

// QuestionGenerator produces questions for a topic.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, topic string, n int) ([]course.Question, error)
}

// AnswerGenerator answers questions, optionally guided by judge feedback.
type AnswerGenerator interface {
	GenerateAnswers(ctx context.Context, topic string, questions []course.Question, feedback string) ([]course.Answer, error)
}

// Evaluator judges an answer set.
type Evaluator interface {
	Evaluate(ctx context.Context, topic string, answers []course.Answer) (course.Evaluation, error)
}

// Set bundles the three roles the workflow needs.
type Set struct {
	Questions QuestionGenerator
	Answers   AnswerGenerator
	Evaluator Evaluator
}

// Invoker performs a single capability call. *invoke.Client satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, endpoint string, payload, out any, required ...invoke.Field) error
}

// --- wire shapes ---

type questionsRequest struct {
	Topic        string `json:"topic"`
	NumQuestions int    `json:"num_questions"`
}

type questionsResponse struct {
	Topic     string            `json:"topic"`
	Questions []course.Question `json:"questions"`
}

type answersRequest struct {
	Topic     string            `json:"topic"`
	Questions []course.Question `json:"questions"`
	Feedback  string            `json:"feedback,omitempty"`
}

type answersResponse struct {
	Topic   string          `json:"topic"`
	Answers []course.Answer `json:"answers"`
}

type evaluateRequest struct {
	Topic   string          `json:"topic"`
	QAPairs []course.Answer `json:"qa_pairs"`
}

type evaluateResponse struct {
	Topic      string            `json:"topic"`
	Evaluation course.Evaluation `json:"evaluation"`
}

var questionShape = []invoke.Field{
	{Path: "questions", Kind: invoke.Array, Each: []invoke.Field{
		{Path: "id", Kind: invoke.Number},
		{Path: "question", Kind: invoke.String},
	}},
}

var answerShape = []invoke.Field{
	{Path: "answers", Kind: invoke.Array, Each: []invoke.Field{
		{Path: "id", Kind: invoke.Number},
		{Path: "question", Kind: invoke.String, Optional: true},
		{Path: "answer", Kind: invoke.String},
	}},
}

var evaluationShape = []invoke.Field{
	{Path: "evaluation", Kind: invoke.Object},
	{Path: "evaluation.approved", Kind: invoke.Bool},
	{Path: "evaluation.overall_score", Kind: invoke.Number},
	{Path: "evaluation.feedback", Kind: invoke.String, Optional: true},
	{Path: "evaluation.individual_evaluations", Kind: invoke.Array, Optional: true, Each: []invoke.Field{
		{Path: "question_id", Kind: invoke.Number},
		{Path: "score", Kind: invoke.Number},
		{Path: "issues", Kind: invoke.Array, Optional: true},
		{Path: "strengths", Kind: invoke.Array, Optional: true},
	}},
}

// --- HTTP adapters ---

// QuestionClient calls generate_questions on a bound endpoint.
type QuestionClient struct {
	Endpoint string
	Invoker  Invoker
}

func (c *QuestionClient) GenerateQuestions(ctx context.Context, topic string, n int) ([]course.Question, error) {
	var resp questionsResponse
	err := c.Invoker.Invoke(ctx, c.Endpoint, questionsRequest{Topic: topic, NumQuestions: n}, &resp, questionShape...)
	if err != nil {
		return nil, err
	}
	if len(resp.Questions) == 0 {
		return nil, &invoke.MalformedResponseError{Endpoint: c.Endpoint, Reason: "no questions returned"}
	}
	return resp.Questions, nil
}

// AnswerClient calls generate_answers on a bound endpoint.
type AnswerClient struct {
	Endpoint string
	Invoker  Invoker
}

func (c *AnswerClient) GenerateAnswers(ctx context.Context, topic string, questions []course.Question, feedback string) ([]course.Answer, error) {
	var resp answersResponse
	req := answersRequest{Topic: topic, Questions: questions, Feedback: feedback}
	if err := c.Invoker.Invoke(ctx, c.Endpoint, req, &resp, answerShape...); err != nil {
		return nil, err
	}
	if len(resp.Answers) == 0 {
		return nil, &invoke.MalformedResponseError{Endpoint: c.Endpoint, Reason: "no answers returned"}
	}
	return resp.Answers, nil
}

// EvaluatorClient calls evaluate_quality on a bound endpoint.
type EvaluatorClient struct {
	Endpoint string
	Invoker  Invoker
}

func (c *EvaluatorClient) Evaluate(ctx context.Context, topic string, answers []course.Answer) (course.Evaluation, error) {
	var resp evaluateResponse
	req := evaluateRequest{Topic: topic, QAPairs: answers}
	if err := c.Invoker.Invoke(ctx, c.Endpoint, req, &resp, evaluationShape...); err != nil {
		return course.Evaluation{}, err
	}
	score := resp.Evaluation.OverallScore
	if score < 0 || score > 10 {
		return course.Evaluation{}, &invoke.MalformedResponseError{
			Endpoint: c.Endpoint,
			Reason:   fmt.Sprintf("overall_score %g outside [0,10]", score),
		}
	}
	return resp.Evaluation, nil
}
