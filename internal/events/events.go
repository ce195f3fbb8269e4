// Package events publishes workflow completion summaries and records
// lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/workflow"
)

// Event types.
const (
	TypeCompleted = "course.completed"
	TypeFailed    = "course.failed"
)

// Event is a terminal workflow summary.
type Event struct {
	Type           string    `json:"type"`
	RequestID      string    `json:"request_id,omitempty"`
	Topic          string    `json:"topic"`
	TerminalReason string    `json:"terminal_reason,omitempty"`
	Attempts       int       `json:"attempts"`
	BestAttempt    int       `json:"best_attempt,omitempty"`
	Score          float64   `json:"score"`
	Stage          string    `json:"stage,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// conn is the subset of *nats.Conn used here.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes JSON events to a NATS subject.
type NATSPublisher struct {
	conn    conn
	subject string
}

// Connect dials url and returns a publisher for subject.
func Connect(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("orchestrator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

// Publish encodes ev and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Notifier adapts a Publisher to workflow.Observer.
type Notifier struct {
	pub    Publisher
	logger *logging.Logger
	now    func() time.Time
}

var _ workflow.Observer = (*Notifier)(nil)

// NewNotifier creates a Notifier. Publish failures are logged, never returned.
func NewNotifier(pub Publisher, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Notifier{pub: pub, logger: logger, now: time.Now}
}

// OnAttempt is a no-op; only terminal summaries are published.
func (n *Notifier) OnAttempt(context.Context, course.Request, course.Attempt) {}

// OnComplete publishes a completed or failed event.
func (n *Notifier) OnComplete(ctx context.Context, req course.Request, res *course.Result, err error) {
	ev := Summarize(req, res, err)
	ev.RequestID = logging.TraceIDFromContext(ctx)
	ev.Timestamp = n.now().UTC()

	// The request context may already be cancelled by the time we publish.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if perr := n.pub.Publish(pubCtx, ev); perr != nil {
		n.logger.FromContext(ctx).Warn("event_publish_failed", map[string]interface{}{
			"type":  ev.Type,
			"topic": ev.Topic,
			"error": perr.Error(),
		})
	}
}

// Summarize builds the event for a finished workflow.
func Summarize(req course.Request, res *course.Result, err error) Event {
	if err != nil || res == nil {
		ev := Event{Type: TypeFailed, Topic: req.Topic}
		if err != nil {
			ev.Error = err.Error()
		}
		var uerr *workflow.UpstreamError
		if errors.As(err, &uerr) {
			ev.Stage = string(uerr.Stage)
			ev.Attempts = uerr.Attempt
		}
		return ev
	}
	return Event{
		Type:           TypeCompleted,
		Topic:          res.Topic,
		TerminalReason: string(res.TerminalReason),
		Attempts:       res.AttemptsUsed,
		BestAttempt:    res.Best.Index,
		Score:          res.Best.Evaluation.OverallScore,
	}
}
