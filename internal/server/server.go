// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/logging"
	"github.com/vinayprograms/orchestrator/internal/report"
	"github.com/vinayprograms/orchestrator/internal/workflow"
)

// maxBodyBytes caps a create_course request body.
const maxBodyBytes = 1 << 20

// Runner executes a course workflow. *workflow.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, req course.Request) (*course.Result, error)
}

// CardLister lists registered agent cards. *registry.Registry satisfies it.
type CardLister interface {
	Cards() map[string]agentcard.Card
}

// Server serves the orchestrator API.
type Server struct {
	runner  Runner
	cards   CardLister
	limits  course.Limits
	limiter *rate.Limiter
	logger  *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithLimits sets request defaults and bounds.
func WithLimits(lim course.Limits) Option {
	return func(s *Server) { s.limits = lim }
}

// WithRateLimit caps create_course to rps requests per second. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a Server.
func New(runner Runner, cards CardLister, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		cards:  cards,
		limits: course.DefaultLimits,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /create_course", s.rateLimited(http.HandlerFunc(s.handleCreateCourse)))
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /health", s.handleHealth)

	return otelhttp.NewHandler(s.withRequestID(s.logRequests(mux)), "orchestrator")
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := logging.TraceIDFromContext(ctx)

	var body report.CreateCourseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		verr := &course.ValidationError{Field: "body", Reason: err.Error()}
		writeJSON(w, http.StatusBadRequest, report.Failure(requestID, verr))
		return
	}

	req, err := course.NewRequest(body.Topic, body.NumQuestions, body.MaxRetries, s.limits)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, report.Failure(requestID, err))
		return
	}

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		s.logger.FromContext(ctx).Error("create_course_failed", map[string]interface{}{
			"topic": req.Topic,
			"error": err.Error(),
		})
		writeJSON(w, StatusFor(err), report.Failure(requestID, err))
		return
	}
	writeJSON(w, http.StatusOK, report.Course(res))
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cards.Cards())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// StatusFor maps a workflow error to its HTTP status. Missing agents or
// capabilities are configuration faults and map to 500.
func StatusFor(err error) int {
	var (
		verr *course.ValidationError
		uerr *workflow.UpstreamError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &uerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Listen opens a TCP listener on addr. maxConns > 0 caps concurrent
// connections.
func Listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// Serve serves on ln until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server_listening", map[string]interface{}{"addr": ln.Addr().String()})
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("server_shutdown", nil)
		return hs.Shutdown(sctx)
	})
	return g.Wait()
}
