package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/capability"
	"github.com/vinayprograms/orchestrator/internal/invoke"
)

// agentServer serves a card after failFirst failed requests.
func agentServer(t *testing.T, card agentcard.Card, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if r.URL.Path != agentcard.WellKnownPath {
			http.NotFound(w, r)
			return
		}
		if n <= failFirst {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(card)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func judgeCard() agentcard.Card {
	return agentcard.Card{
		Name:         "quality_judge",
		Description:  "Evaluates answers",
		URL:          "http://judge-agent:8080",
		Capabilities: []agentcard.Capability{{Name: capability.EvaluateQuality}},
	}
}

func fastRegistry(opts ...Option) *Registry {
	base := []Option{WithRetry(5, time.Millisecond), WithDiscoveryTimeout(time.Second)}
	return New(append(base, opts...)...)
}

func TestRegister_Success(t *testing.T) {
	srv, hits := agentServer(t, judgeCard(), 0)
	reg := fastRegistry()

	if err := reg.Register(context.Background(), "quality_judge", srv.URL); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}

	card, ok := reg.Card("quality_judge")
	if !ok {
		t.Fatal("card not stored")
	}
	if card.Description != "Evaluates answers" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestRegister_RetriesUntilReady(t *testing.T) {
	srv, hits := agentServer(t, judgeCard(), 2)
	reg := fastRegistry()

	if err := reg.Register(context.Background(), "quality_judge", srv.URL); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestRegister_Exhausted(t *testing.T) {
	srv, hits := agentServer(t, judgeCard(), 100)
	reg := New(WithRetry(3, time.Millisecond))

	err := reg.Register(context.Background(), "quality_judge", srv.URL)
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if rerr.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rerr.Attempts)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
	if _, ok := reg.Card("quality_judge"); ok {
		t.Error("failed registration must not store a card")
	}
}

func TestRegister_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := fastRegistry(WithRetry(2, time.Millisecond)).Register(context.Background(), "ghost", addr)
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if rerr.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", rerr.Attempts)
	}
}

func TestRegister_InvalidCardIsPermanent(t *testing.T) {
	srv, hits := agentServer(t, agentcard.Card{Name: ""}, 0)

	err := fastRegistry().Register(context.Background(), "quality_judge", srv.URL)
	if !errors.Is(err, agentcard.ErrInvalidCard) {
		t.Fatalf("expected ErrInvalidCard, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("invalid card should not be retried, got %d requests", hits.Load())
	}
}

func TestRegister_UndecodableCardIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.Write([]byte("starting up"))
			return
		}
		json.NewEncoder(w).Encode(judgeCard())
	}))
	t.Cleanup(srv.Close)

	if err := fastRegistry().Register(context.Background(), "quality_judge", srv.URL); err != nil {
		t.Fatalf("expected success after non-JSON responses, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 requests, got %d", hits.Load())
	}
}

func TestRegister_ReplaceAndNameMismatch(t *testing.T) {
	first, _ := agentServer(t, judgeCard(), 0)
	other := judgeCard()
	other.Name = "judge_v2"
	second, _ := agentServer(t, other, 0)

	reg := fastRegistry()
	if err := reg.Register(context.Background(), "quality_judge", first.URL); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(context.Background(), "quality_judge", second.URL); err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 1 {
		t.Errorf("expected 1 agent, got %d", reg.Len())
	}
	url, err := reg.Resolve("quality_judge", capability.EvaluateQuality)
	if err != nil {
		t.Fatal(err)
	}
	if url != second.URL+"/evaluate_quality" {
		t.Errorf("expected last registration to win, got %s", url)
	}
}

func TestRegister_ContextCancelled(t *testing.T) {
	srv, _ := agentServer(t, judgeCard(), 100)
	reg := New(WithRetry(5, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := reg.Register(ctx, "quality_judge", srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation should interrupt the retry delay")
	}
}

// countingTransport fails the test if any request is made.
type countingTransport struct {
	n atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.n.Add(1)
	return nil, errors.New("unexpected network call")
}

func TestResolve(t *testing.T) {
	srv, _ := agentServer(t, judgeCard(), 0)
	reg := fastRegistry()
	if err := reg.Register(context.Background(), "quality_judge", srv.URL); err != nil {
		t.Fatal(err)
	}

	// Swap in a transport that records any traffic; resolution must not use it.
	ct := &countingTransport{}
	reg.http = &http.Client{Transport: ct}

	url, err := reg.Resolve("quality_judge", capability.EvaluateQuality)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if url != srv.URL+"/evaluate_quality" {
		t.Errorf("unexpected url %s", url)
	}

	if _, err := reg.Resolve("quality_judge", capability.GenerateAnswers); !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("expected ErrCapabilityNotFound, got %v", err)
	}
	if _, err := reg.Resolve("answer_generator", capability.GenerateAnswers); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if ct.n.Load() != 0 {
		t.Errorf("resolve made %d network calls", ct.n.Load())
	}
}

func TestRegisterAll(t *testing.T) {
	q, _ := agentServer(t, agentcard.Card{Name: "question_generator", Capabilities: []agentcard.Capability{{Name: capability.GenerateQuestions}}}, 1)
	a, _ := agentServer(t, agentcard.Card{Name: "answer_generator", Capabilities: []agentcard.Capability{{Name: capability.GenerateAnswers}}}, 0)
	j, _ := agentServer(t, judgeCard(), 0)

	reg := fastRegistry()
	err := reg.RegisterAll(context.Background(), map[string]string{
		"question_generator": q.URL,
		"answer_generator":   a.URL,
		"quality_judge":      j.URL,
	})
	if err != nil {
		t.Fatalf("register all: %v", err)
	}

	cards := reg.Cards()
	if len(cards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(cards))
	}

	set, err := reg.Bind(DefaultBinding, invoke.New())
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if set.Questions == nil || set.Answers == nil || set.Evaluator == nil {
		t.Error("bind returned incomplete set")
	}
}

func TestRegisterAll_FirstFailure(t *testing.T) {
	ok, _ := agentServer(t, judgeCard(), 0)
	down, _ := agentServer(t, judgeCard(), 100)

	err := fastRegistry(WithRetry(2, time.Millisecond)).RegisterAll(context.Background(), map[string]string{
		"quality_judge":    ok.URL,
		"answer_generator": down.URL,
	})
	var rerr *RegistrationError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if rerr.Agent != "answer_generator" {
		t.Errorf("expected answer_generator to fail, got %s", rerr.Agent)
	}
}

func TestBind_MissingCapability(t *testing.T) {
	srv, _ := agentServer(t, judgeCard(), 0)
	reg := fastRegistry()
	for _, name := range DefaultBinding.Agents() {
		if err := reg.Register(context.Background(), name, srv.URL); err != nil {
			t.Fatal(err)
		}
	}

	_, err := reg.Bind(DefaultBinding, invoke.New())
	if !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestCards_ConcurrentReads(t *testing.T) {
	srv, _ := agentServer(t, judgeCard(), 0)
	reg := fastRegistry()
	if err := reg.Register(context.Background(), "quality_judge", srv.URL); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Resolve("quality_judge", capability.EvaluateQuality); err != nil {
				t.Error(err)
			}
			_ = reg.Cards()
		}()
	}
	wg.Wait()
}
