package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/orchestrator/internal/agentcard"
	"github.com/vinayprograms/orchestrator/internal/course"
	"github.com/vinayprograms/orchestrator/internal/report"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 80

// Course writes a human-readable course report.
func Course(w io.Writer, rep *report.CourseReport, width int) {
	if width <= 0 {
		width = DefaultWidth
	}
	body := width - 4
	if body < 20 {
		body = 20
	}

	fmt.Fprintln(w, titleStyle.Render(rep.Topic))
	fmt.Fprintln(w)

	ev := rep.QualityEvaluation
	outcome := successStyle.Render("approved")
	if rep.TerminalReason != string(course.ReasonApproved) {
		outcome = warnStyle.Render(rep.TerminalReason)
	}
	fmt.Fprintf(w, "%s %s  %s %s  %s %s\n",
		labelStyle.Render("score"), scoreStyle(ev.OverallScore).Render(rep.QualityScore),
		labelStyle.Render("outcome"), outcome,
		labelStyle.Render("attempts"), valueStyle.Render(fmt.Sprintf("%d (best %d)", rep.AttemptsNeeded, rep.BestAttempt)),
	)
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%.2fs  %s", rep.TotalTimeSeconds, rep.RequestID)))
	fmt.Fprintln(w)

	scores := make(map[int]course.QuestionEvaluation, len(ev.PerQuestion))
	for _, qe := range ev.PerQuestion {
		scores[qe.QuestionID] = qe
	}

	for _, a := range rep.CourseContent {
		header := fmt.Sprintf("%d. %s", a.ID, a.Question)
		if qe, ok := scores[a.ID]; ok {
			header += " " + scoreStyle(qe.Score).Render(fmt.Sprintf("[%g]", qe.Score))
		}
		fmt.Fprintln(w, questionStyle.Render(wordwrap.String(header, width)))
		fmt.Fprintln(w, indent.String(wordwrap.String(strings.TrimSpace(a.Answer), body), 4))
		if qe, ok := scores[a.ID]; ok && len(qe.Issues) > 0 {
			for _, issue := range qe.Issues {
				fmt.Fprintln(w, indent.String(errorStyle.Render("- "+issue), 4))
			}
		}
		fmt.Fprintln(w)
	}

	if ev.Feedback != "" {
		fmt.Fprintln(w, labelStyle.Render("feedback"))
		fmt.Fprintln(w, feedbackStyle.Render(indent.String(wordwrap.String(ev.Feedback, body), 4)))
	}
}

// Agents writes registered cards sorted by name.
func Agents(w io.Writer, cards map[string]agentcard.Card) {
	names := make([]string, 0, len(cards))
	for name := range cards {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := cards[name]
		fmt.Fprintf(w, "%s %s\n", valueStyle.Bold(true).Render(name), dimStyle.Render(c.URL))
		if c.Description != "" {
			fmt.Fprintln(w, indent.String(c.Description, 2))
		}
		for _, cp := range c.Capabilities {
			line := capabilityStyle.Render(cp.Name)
			if cp.Description != "" {
				line += " " + dimStyle.Render(cp.Description)
			}
			fmt.Fprintln(w, indent.String(line, 2))
		}
	}
}

// Error writes a failure line.
func Error(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("error: "+err.Error()))
}
