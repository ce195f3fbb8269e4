package registry

import (
	"github.com/vinayprograms/orchestrator/internal/capability"
)

// Binding names the agent that serves each workflow role.
type Binding struct {
	QuestionAgent string
	AnswerAgent   string
	JudgeAgent    string
}

// DefaultBinding uses the stock agent names.
var DefaultBinding = Binding{
	QuestionAgent: capability.QuestionAgent,
	AnswerAgent:   capability.AnswerAgent,
	JudgeAgent:    capability.JudgeAgent,
}

// Agents returns the bound agent names in role order.
func (b Binding) Agents() []string {
	return []string{b.QuestionAgent, b.AnswerAgent, b.JudgeAgent}
}

// Bind resolves every role once and returns typed adapters calling through
// inv. Any missing agent or capability is returned as an error.
func (r *Registry) Bind(b Binding, inv capability.Invoker) (capability.Set, error) {
	qURL, err := r.Resolve(b.QuestionAgent, capability.GenerateQuestions)
	if err != nil {
		return capability.Set{}, err
	}
	aURL, err := r.Resolve(b.AnswerAgent, capability.GenerateAnswers)
	if err != nil {
		return capability.Set{}, err
	}
	jURL, err := r.Resolve(b.JudgeAgent, capability.EvaluateQuality)
	if err != nil {
		return capability.Set{}, err
	}
	return capability.Set{
		Questions: &capability.QuestionClient{Endpoint: qURL, Invoker: inv},
		Answers:   &capability.AnswerClient{Endpoint: aURL, Invoker: inv},
		Evaluator: &capability.EvaluatorClient{Endpoint: jURL, Invoker: inv},
	}, nil
}
