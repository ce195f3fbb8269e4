package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vinayprograms/orchestrator/internal/client"
	"github.com/vinayprograms/orchestrator/internal/render"
	"github.com/vinayprograms/orchestrator/internal/report"
)

var errInterrupted = errors.New("interrupted")

// Run requests a course and prints the report.
func (c *CreateCmd) Run() error {
	cl := client.New(c.URL, c.Timeout)
	req := report.CreateCourseRequest{
		Topic:        c.Topic,
		NumQuestions: optionalInt(c.Questions),
		MaxRetries:   optionalInt(c.Attempts),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	call := func() (*report.CourseReport, error) {
		return cl.CreateCourse(ctx, req)
	}

	var (
		rep *report.CourseReport
		err error
	)
	if !c.JSON && isTerminal(os.Stderr) {
		rep, err = runWithSpinner(c.Topic, call, cancel)
	} else {
		rep, err = call()
	}
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	render.Course(os.Stdout, rep, terminalWidth(os.Stdout))
	return nil
}

// createResultMsg carries the finished request into the model.
type createResultMsg struct {
	rep *report.CourseReport
	err error
}

// createModel shows a spinner while a course is generated.
type createModel struct {
	spinner spinner.Model
	topic   string
	call    func() (*report.CourseReport, error)
	cancel  context.CancelFunc

	rep  *report.CourseReport
	err  error
	done bool
}

func newCreateModel(topic string, call func() (*report.CourseReport, error), cancel context.CancelFunc) createModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return createModel{spinner: sp, topic: topic, call: call, cancel: cancel}
}

func (m createModel) Init() tea.Cmd {
	call := m.call
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			rep, err := call()
			return createResultMsg{rep: rep, err: err}
		},
	)
}

func (m createModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case createResultMsg:
		m.rep, m.err, m.done = msg.rep, msg.err, true
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.cancel()
			m.err, m.done = errInterrupted, true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m createModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s Generating course on %q (ctrl+c to cancel)\n", m.spinner.View(), m.topic)
}

func runWithSpinner(topic string, call func() (*report.CourseReport, error), cancel context.CancelFunc) (*report.CourseReport, error) {
	final, err := tea.NewProgram(newCreateModel(topic, call, cancel), tea.WithOutput(os.Stderr)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(createModel)
	return m.rep, m.err
}
