package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vinayprograms/orchestrator/internal/capability"
	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/invoke"
	"github.com/vinayprograms/orchestrator/internal/logging"
)

// --- fakes ---

type fakeQuestions struct {
	qs    []course.Question
	err   error
	calls int
}

func (f *fakeQuestions) GenerateQuestions(ctx context.Context, topic string, n int) ([]course.Question, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.qs, nil
}

type fakeAnswers struct {
	feedbacks []string
	failOn    int // 1-based call that fails, 0 = never
	err       error
}

func (f *fakeAnswers) GenerateAnswers(ctx context.Context, topic string, qs []course.Question, feedback string) ([]course.Answer, error) {
	f.feedbacks = append(f.feedbacks, feedback)
	if f.failOn == len(f.feedbacks) {
		return nil, f.err
	}
	out := make([]course.Answer, len(qs))
	for i, q := range qs {
		out[i] = course.Answer{ID: q.ID, Question: q.Question, Answer: fmt.Sprintf("answer v%d", len(f.feedbacks))}
	}
	return out, nil
}

type fakeJudge struct {
	evals []course.Evaluation
	calls int
	err   error
}

func (f *fakeJudge) Evaluate(ctx context.Context, topic string, answers []course.Answer) (course.Evaluation, error) {
	f.calls++
	if f.err != nil {
		return course.Evaluation{}, f.err
	}
	return f.evals[f.calls-1], nil
}

type recordingObserver struct {
	mu        sync.Mutex
	attempts  []int
	completes int
	lastErr   error
}

func (o *recordingObserver) OnAttempt(ctx context.Context, req course.Request, a course.Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a.Index)
}

func (o *recordingObserver) OnComplete(ctx context.Context, req course.Request, res *course.Result, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
	o.lastErr = err
}

func threeQuestions() []course.Question {
	return []course.Question{
		{ID: 1, Question: "What is chlorophyll?"},
		{ID: 2, Question: "Where does photosynthesis occur?"},
		{ID: 3, Question: "What are the products?"},
	}
}

func eval(approved bool, score float64, feedback string) course.Evaluation {
	return course.Evaluation{Approved: approved, OverallScore: score, Feedback: feedback}
}

func request(k int) course.Request {
	return course.Request{Topic: "Photosynthesis", NumQuestions: 3, MaxAttempts: k}
}

// --- scenarios ---

func TestRun_ApprovedOnSecondAttempt(t *testing.T) {
	q := &fakeQuestions{qs: threeQuestions()}
	a := &fakeAnswers{}
	j := &fakeJudge{evals: []course.Evaluation{
		eval(false, 6, "Answer 2 lacks detail on chloroplasts."),
		eval(true, 8, "Good."),
	}}
	eng := New(capability.Set{Questions: q, Answers: a, Evaluator: j})

	res, err := eng.Run(context.Background(), request(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.TerminalReason != course.ReasonApproved {
		t.Errorf("expected approved, got %s", res.TerminalReason)
	}
	if res.AttemptsUsed != 2 {
		t.Errorf("expected 2 attempts, got %d", res.AttemptsUsed)
	}
	if res.Best.Index != 2 || res.Best.Evaluation.OverallScore != 8 {
		t.Errorf("expected best attempt 2 scoring 8, got %d scoring %g", res.Best.Index, res.Best.Evaluation.OverallScore)
	}
	if q.calls != 1 {
		t.Errorf("questions should be generated once, got %d", q.calls)
	}
	want := []string{"", "Answer 2 lacks detail on chloroplasts."}
	if diff := cmp.Diff(want, a.feedbacks); diff != "" {
		t.Errorf("feedback mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(threeQuestions(), res.Questions); diff != "" {
		t.Errorf("questions mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ExhaustedKeepsBest(t *testing.T) {
	a := &fakeAnswers{}
	j := &fakeJudge{evals: []course.Evaluation{
		eval(false, 8, "f1"),
		eval(false, 7, "f2"),
		eval(false, 6, "f3"),
	}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: a, Evaluator: j})

	res, err := eng.Run(context.Background(), request(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TerminalReason != course.ReasonExhausted {
		t.Errorf("expected exhausted, got %s", res.TerminalReason)
	}
	if res.AttemptsUsed != 3 {
		t.Errorf("expected 3 attempts, got %d", res.AttemptsUsed)
	}
	if res.Best.Index != 1 || res.Best.Evaluation.OverallScore != 8 {
		t.Errorf("expected best attempt 1 scoring 8, got %d scoring %g", res.Best.Index, res.Best.Evaluation.OverallScore)
	}
	if res.Best.Answers[0].Answer != "answer v1" {
		t.Errorf("best attempt should carry its own answers, got %q", res.Best.Answers[0].Answer)
	}
	// Each retry forwards the previous feedback verbatim.
	want := []string{"", "f1", "f2"}
	if diff := cmp.Diff(want, a.feedbacks); diff != "" {
		t.Errorf("feedback mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SingleAttemptUnapproved(t *testing.T) {
	a := &fakeAnswers{}
	j := &fakeJudge{evals: []course.Evaluation{eval(false, 3, "poor")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: a, Evaluator: j})

	res, err := eng.Run(context.Background(), request(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TerminalReason != course.ReasonExhausted || res.AttemptsUsed != 1 {
		t.Errorf("expected exhausted after 1 attempt, got %s after %d", res.TerminalReason, res.AttemptsUsed)
	}
	if len(a.feedbacks) != 1 {
		t.Errorf("expected 1 answer call, got %d", len(a.feedbacks))
	}
}

func TestRun_TieKeepsEarlierAttempt(t *testing.T) {
	j := &fakeJudge{evals: []course.Evaluation{
		eval(false, 7, "a"),
		eval(false, 7, "b"),
	}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})

	res, err := eng.Run(context.Background(), request(2))
	if err != nil {
		t.Fatal(err)
	}
	if res.Best.Index != 1 {
		t.Errorf("equal score must not replace best, got attempt %d", res.Best.Index)
	}
}

func TestRun_ApprovedButLowerThanBest(t *testing.T) {
	j := &fakeJudge{evals: []course.Evaluation{
		eval(false, 9, "one answer is wrong"),
		eval(true, 7.5, "ok"),
	}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})

	res, err := eng.Run(context.Background(), request(5))
	if err != nil {
		t.Fatal(err)
	}
	if res.TerminalReason != course.ReasonApproved {
		t.Errorf("expected approved, got %s", res.TerminalReason)
	}
	if res.AttemptsUsed != 2 {
		t.Errorf("approval must stop the loop, got %d attempts", res.AttemptsUsed)
	}
	if res.Best.Index != 1 {
		t.Errorf("best-scoring attempt should be reported, got %d", res.Best.Index)
	}
}

func TestRun_ZeroScoreStillRecorded(t *testing.T) {
	j := &fakeJudge{evals: []course.Evaluation{eval(false, 0, "nothing usable")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})

	res, err := eng.Run(context.Background(), request(1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Best.Index != 1 {
		t.Errorf("a zero score must still become the best attempt, got %d", res.Best.Index)
	}
}

func TestRun_AttemptsNeverExceedMax(t *testing.T) {
	for k := 1; k <= 5; k++ {
		evals := make([]course.Evaluation, k)
		for i := range evals {
			evals[i] = eval(false, float64(i), "again")
		}
		j := &fakeJudge{evals: evals}
		a := &fakeAnswers{}
		eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: a, Evaluator: j})

		res, err := eng.Run(context.Background(), request(k))
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if res.AttemptsUsed != k || j.calls != k || len(a.feedbacks) != k {
			t.Errorf("k=%d: attempts=%d judge=%d answers=%d", k, res.AttemptsUsed, j.calls, len(a.feedbacks))
		}
		for i, at := range res.Attempts {
			if at.Index != i+1 {
				t.Errorf("k=%d: attempt %d has index %d", k, i, at.Index)
			}
		}
	}
}

func TestRun_MalformedQuestions(t *testing.T) {
	q := &fakeQuestions{err: &invoke.MalformedResponseError{Endpoint: "http://q/generate_questions", Reason: "body is not valid JSON"}}
	a := &fakeAnswers{}
	j := &fakeJudge{}
	eng := New(capability.Set{Questions: q, Answers: a, Evaluator: j})

	res, err := eng.Run(context.Background(), request(3))
	if res != nil {
		t.Error("no result expected on upstream failure")
	}
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Stage != StageQuestions {
		t.Errorf("expected stage %s, got %s", StageQuestions, uerr.Stage)
	}
	var merr *invoke.MalformedResponseError
	if !errors.As(err, &merr) {
		t.Error("cause should be preserved")
	}
	if len(a.feedbacks) != 0 || j.calls != 0 {
		t.Error("no attempts should run after question failure")
	}
}

func TestRun_AnswerFailureMidway(t *testing.T) {
	a := &fakeAnswers{failOn: 2, err: &invoke.TransportError{Endpoint: "http://a", StatusCode: 500, Err: errors.New("boom")}}
	j := &fakeJudge{evals: []course.Evaluation{eval(false, 5, "more")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: a, Evaluator: j})

	res, err := eng.Run(context.Background(), request(3))
	if res != nil {
		t.Error("partial result must not be returned")
	}
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if uerr.Stage != StageAnswers || uerr.Attempt != 2 {
		t.Errorf("expected generate_answers attempt 2, got %s attempt %d", uerr.Stage, uerr.Attempt)
	}
	var terr *invoke.TransportError
	if !errors.As(err, &terr) {
		t.Error("expected TransportError cause")
	}
}

func TestRun_EvaluatorFailure(t *testing.T) {
	j := &fakeJudge{err: errors.New("judge down")}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})

	_, err := eng.Run(context.Background(), request(3))
	var uerr *UpstreamError
	if !errors.As(err, &uerr) || uerr.Stage != StageEvaluate {
		t.Fatalf("expected evaluate_quality UpstreamError, got %v", err)
	}
	if !strings.Contains(err.Error(), "judge down") {
		t.Errorf("error should include cause, got %v", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	q := &fakeQuestions{qs: threeQuestions()}
	eng := New(capability.Set{Questions: q, Answers: &fakeAnswers{}, Evaluator: &fakeJudge{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, request(3))
	var uerr *UpstreamError
	if !errors.As(err, &uerr) || uerr.Stage != StageQuestions {
		t.Fatalf("expected generate_questions UpstreamError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled cause, got %v", err)
	}
	if q.calls != 0 {
		t.Error("cancelled run should not call agents")
	}
}

func TestRun_Observer(t *testing.T) {
	obs := &recordingObserver{}
	j := &fakeJudge{evals: []course.Evaluation{eval(false, 4, "x"), eval(true, 9, "y")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j},
		WithObserver(obs))

	if _, err := eng.Run(context.Background(), request(3)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, obs.attempts); diff != "" {
		t.Errorf("attempt notifications mismatch (-want +got):\n%s", diff)
	}
	if obs.completes != 1 || obs.lastErr != nil {
		t.Errorf("expected one successful completion, got %d (%v)", obs.completes, obs.lastErr)
	}
}

func TestRun_RequestIDAndLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logging.LevelDebug)

	j := &fakeJudge{evals: []course.Evaluation{eval(true, 9, "")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j},
		WithLogger(logger))

	ctx := logging.ContextWithTraceID(context.Background(), "req-42")
	res, err := eng.Run(ctx, request(3))
	if err != nil {
		t.Fatal(err)
	}
	if res.RequestID != "req-42" {
		t.Errorf("expected request id req-42, got %q", res.RequestID)
	}

	out := buf.String()
	for _, want := range []string{"state_transition", "attempt_evaluated", "workflow_complete", "trace_id=req-42"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s", want)
		}
	}
}

func TestRun_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	j := &fakeJudge{evals: []course.Evaluation{eval(false, 5, "x"), eval(true, 8, "y")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})
	if _, err := eng.Run(context.Background(), request(3)); err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for _, s := range rec.Ended() {
		counts[s.Name()]++
	}
	want := map[string]int{
		"workflow.run":                1,
		"workflow.generate_questions": 1,
		"workflow.generate_answers":   2,
		"workflow.evaluate_quality":   2,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("span counts mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	j := &fakeJudge{evals: []course.Evaluation{eval(false, 5, "x"), eval(true, 8, "y")}}
	eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j},
		WithMeter(mp.Meter("test")))
	if _, err := eng.Run(context.Background(), request(3)); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	attempts := map[bool]int64{}
	outcomes := map[string]int64{}
	var scored uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "orchestrator.workflow.attempts":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("approved"))
					attempts[v.AsBool()] += dp.Value
				}
			case "orchestrator.workflow.outcomes":
				for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("outcome"))
					outcomes[v.AsString()] += dp.Value
				}
			case "orchestrator.workflow.score":
				for _, dp := range m.Data.(metricdata.Histogram[float64]).DataPoints {
					scored += dp.Count
				}
			}
		}
	}

	if diff := cmp.Diff(map[bool]int64{false: 1, true: 1}, attempts); diff != "" {
		t.Errorf("attempt counts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int64{"approved": 1}, outcomes); diff != "" {
		t.Errorf("outcome counts mismatch (-want +got):\n%s", diff)
	}
	if scored != 2 {
		t.Errorf("expected 2 recorded scores, got %d", scored)
	}
}

func TestRun_ConcurrentRunsIndependent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j := &fakeJudge{evals: []course.Evaluation{eval(false, float64(i), "x"), eval(false, 1, "y")}}
			eng := New(capability.Set{Questions: &fakeQuestions{qs: threeQuestions()}, Answers: &fakeAnswers{}, Evaluator: j})
			res, err := eng.Run(context.Background(), request(2))
			if err != nil {
				t.Error(err)
				return
			}
			if i > 1 && res.Best.Index != 1 {
				t.Errorf("run %d: expected best 1, got %d", i, res.Best.Index)
			}
		}(i)
	}
	wg.Wait()
}
