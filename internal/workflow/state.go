package workflow

import (
	"fmt"
	"math"

	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/logging"
)

// State is a workflow lifecycle state.
type State int

const (
	StateInit State = iota
	StateQuestionsRequested
	StateAnswersRequested
	StateEvaluated
	StateApproved
	StateRetryPending
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateQuestionsRequested:
		return "questions_requested"
	case StateAnswersRequested:
		return "answers_requested"
	case StateEvaluated:
		return "evaluated"
	case StateApproved:
		return "approved"
	case StateRetryPending:
		return "retry_pending"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateExhausted
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateInit:               {StateQuestionsRequested},
	StateQuestionsRequested: {StateAnswersRequested},
	StateAnswersRequested:   {StateEvaluated},
	StateEvaluated:          {StateApproved, StateRetryPending, StateExhausted},
	StateRetryPending:       {StateAnswersRequested},
}

// CanTransition reports whether s → to is legal.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// machine holds the per-run state of one workflow. It is never shared
// between runs.
type machine struct {
	state     State
	req       course.Request
	questions []course.Question
	attempts  []course.Attempt
	best      course.Attempt
	bestScore float64
	log       *logging.Logger
}

func newMachine(req course.Request, log *logging.Logger) *machine {
	return &machine{
		state:     StateInit,
		req:       req,
		bestScore: math.Inf(-1),
		log:       log,
	}
}

func (m *machine) transition(to State) error {
	if !m.state.CanTransition(to) {
		return fmt.Errorf("illegal workflow transition %s -> %s", m.state, to)
	}
	m.log.StateTransition(m.state.String(), to.String(), len(m.attempts))
	m.state = to
	return nil
}

// record appends a new attempt and reports whether it became the best.
func (m *machine) record(answers []course.Answer, ev course.Evaluation) (course.Attempt, bool) {
	a := course.Attempt{
		Index:      len(m.attempts) + 1,
		Answers:    answers,
		Evaluation: ev,
	}
	m.attempts = append(m.attempts, a)
	if ev.OverallScore > m.bestScore {
		m.best = a
		m.bestScore = ev.OverallScore
		return a, true
	}
	return a, false
}

// feedback is the last evaluation's feedback, or "" before any attempt.
func (m *machine) feedback() string {
	if len(m.attempts) == 0 {
		return ""
	}
	return m.attempts[len(m.attempts)-1].Evaluation.Feedback
}

// decide picks the successor of StateEvaluated.
func (m *machine) decide() State {
	last := m.attempts[len(m.attempts)-1]
	switch {
	case last.Evaluation.Approved:
		return StateApproved
	case last.Index < m.req.MaxAttempts:
		return StateRetryPending
	default:
		return StateExhausted
	}
}

func (m *machine) reason() course.TerminalReason {
	if m.state == StateApproved {
		return course.ReasonApproved
	}
	return course.ReasonExhausted
}
