// Package registry discovers agents at startup and resolves capability
// endpoints for the workflow.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/telemetry"
)

// Defaults match the stock configuration.
const (
	DefaultMaxAttempts      = 5
	DefaultRetryDelay       = 2 * time.Second
	DefaultDiscoveryTimeout = 2 * time.Second
)

var (
	// ErrAgentNotFound means no agent is registered under the name.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrCapabilityNotFound means the agent's card does not list the capability.
	ErrCapabilityNotFound = errors.New("capability not found")
)

// RegistrationError is returned when an agent could not be discovered
// within the allowed attempts.
type RegistrationError struct {
	Agent    string
	Address  string
	Attempts int
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register agent %s at %s: gave up after %d attempt(s): %v", e.Agent, e.Address, e.Attempts, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// entry is a registered card with the address it was registered under.
type entry struct {
	card *agentcard.Card
	base string
}

// Registry maps agent names to their cards and base addresses.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]entry

	http             *http.Client
	maxAttempts      int
	retryDelay       time.Duration
	discoveryTimeout time.Duration
	logger           *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used to fetch agent cards.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) { r.http = hc }
}

// WithRetry sets the total number of discovery attempts and the fixed delay
// between them.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(r *Registry) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if delay >= 0 {
			r.retryDelay = delay
		}
	}
}

// WithDiscoveryTimeout bounds each card fetch.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.discoveryTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		agents:           make(map[string]entry),
		http:             &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		maxAttempts:      DefaultMaxAttempts,
		retryDelay:       DefaultRetryDelay,
		discoveryTimeout: DefaultDiscoveryTimeout,
		logger:           logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register fetches the agent card from base and stores it under name.
// Failed fetches are retried with a fixed delay. Registering an existing
// name replaces the previous entry.
func (r *Registry) Register(ctx context.Context, name, base string) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "registry.register")
	span.SetAttributes(
		attribute.String("agent.name", name),
		attribute.String("agent.address", base),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	attempts := 0
	fetch := func() (*agentcard.Card, error) {
		attempts++
		card, err := r.fetch(ctx, base)
		if err != nil {
			return nil, err
		}
		if card.Name != name {
			r.logger.Warn("agent_name_mismatch", map[string]interface{}{
				"agent":      name,
				"advertised": card.Name,
				"address":    base,
			})
		}
		return card, nil
	}

	card, err := backoff.Retry(ctx, fetch,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.retryDelay)),
		backoff.WithMaxTries(uint(r.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.RegistrationRetry(name, attempts, next, err)
		}),
	)
	span.SetAttributes(attribute.Int("registry.attempts", attempts))
	if err != nil {
		return &RegistrationError{Agent: name, Address: base, Attempts: attempts, Err: err}
	}

	r.mu.Lock()
	r.agents[name] = entry{card: card, base: base}
	r.mu.Unlock()

	r.logger.AgentRegistered(name, base, card.CapabilityNames(), attempts)
	return nil
}

// fetch performs one card request bounded by the discovery timeout.
// Invalid cards are permanent failures.
func (r *Registry) fetch(ctx context.Context, base string) (*agentcard.Card, error) {
	ctx, cancel := context.WithTimeout(ctx, r.discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, agentcard.URL(base), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: status %d", req.URL, resp.StatusCode)
	}

	card, err := agentcard.Decode(resp.Body)
	if errors.Is(err, agentcard.ErrInvalidCard) {
		return nil, backoff.Permanent(err)
	}
	return card, err
}

// RegisterAll registers every name→address pair concurrently. The first
// failure cancels the remaining registrations and is returned.
func (r *Registry) RegisterAll(ctx context.Context, agents map[string]string) error {
	names := make([]string, 0, len(agents))
	for name := range agents {
		names = append(names, name)
	}
	sort.Strings(names)

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		base := agents[name]
		g.Go(func() error {
			return r.Register(ctx, name, base)
		})
	}
	return g.Wait()
}

// Resolve returns the invocation address of capability on agent. It does no
// network I/O.
func (r *Registry) Resolve(agent, capability string) (string, error) {
	r.mu.RLock()
	e, ok := r.agents[agent]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, agent)
	}
	if _, ok := e.card.Capability(capability); !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrCapabilityNotFound, capability, agent)
	}
	return agentcard.Endpoint(e.base, capability), nil
}

// Card returns the registered card for agent.
func (r *Registry) Card(agent string) (*agentcard.Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[agent]
	if !ok {
		return nil, false
	}
	return e.card, true
}

// Cards returns a snapshot of all registered cards keyed by agent name.
func (r *Registry) Cards() map[string]agentcard.Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]agentcard.Card, len(r.agents))
	for name, e := range r.agents {
		out[name] = *e.card
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
