package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/transitd/internal/assistant"
	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/httpapi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Bold(true)

	replyStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)

	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printer writes either styled text or JSON.
type printer struct {
	out  io.Writer
	json bool
}

func (p *printer) jsonOut(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) field(label, value string) {
	fmt.Fprintf(p.out, "%s %s\n", labelStyle.Render(label+":"), valueStyle.Render(value))
}

func (p *printer) Turn(res *assistant.TurnResult) error {
	if p.json {
		return p.jsonOut(res)
	}
	if res.Outcome == assistant.OutcomeClarify && res.Question != "" {
		fmt.Fprintln(p.out, questionStyle.Render(res.Question))
	} else {
		fmt.Fprintln(p.out, replyStyle.Render(res.Reply))
	}
	c := res.Classification
	fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("turn %d · %s · %s %.2f via %s",
		res.Seq, res.Outcome, topicOrDash(c.Topic), c.Confidence, c.Path)))
	if res.Feedback != nil {
		fmt.Fprintln(p.out, dimStyle.Render("feedback: "+string(res.Feedback.Polarity)))
	}
	for _, l := range res.Learned {
		fmt.Fprintln(p.out, dimStyle.Render(fmt.Sprintf("learned %s pattern → %s", l.Kind, l.Topic)))
	}
	return nil
}

func (p *printer) Classification(res *classifier.Result) error {
	if p.json {
		return p.jsonOut(res)
	}
	fmt.Fprintln(p.out, titleStyle.Render("Classification"))
	p.field("Topic", topicOrDash(res.Topic))
	p.field("Confidence", fmt.Sprintf("%.2f", res.Confidence))
	p.field("Path", string(res.Path))
	if res.IsOffTopic {
		p.field("Off topic", "yes")
	}
	if res.NeedsClarification {
		p.field("Needs clarification", "yes")
		for i, cand := range res.Candidates {
			fmt.Fprintf(p.out, "  %d) %s %s\n", i+1, cand.Label, dimStyle.Render(fmt.Sprintf("(%s %.2f)", cand.Topic, cand.Score)))
		}
	}
	return nil
}

func (p *printer) Patterns(resp *httpapi.PatternsResponse) error {
	if p.json {
		return p.jsonOut(resp)
	}
	fmt.Fprintln(p.out, titleStyle.Render(fmt.Sprintf("Learned patterns (%d of %d)", len(resp.Patterns), resp.Total)))
	if len(resp.Patterns) == 0 {
		fmt.Fprintln(p.out, dimStyle.Render("no patterns learned yet"))
		return nil
	}
	for _, pat := range resp.Patterns {
		key := pat.Key
		if len(pat.Keywords) > 0 {
			key = strings.Join(pat.Keywords, " ")
		}
		outcome := okStyle.Render("✓")
		if !pat.Success {
			outcome = warnStyle.Render("✗")
		}
		fmt.Fprintf(p.out, "%s %4d  %-8s %s → %s\n",
			outcome, pat.Frequency, pat.Kind, key, valueStyle.Render(pat.Topic))
	}
	return nil
}

func (p *printer) Health(resp *httpapi.HealthResponse) error {
	if p.json {
		return p.jsonOut(resp)
	}
	status := okStyle.Render(resp.Status)
	if resp.Status != "ok" {
		status = warnStyle.Render(resp.Status)
	}
	fmt.Fprintf(p.out, "%s %s\n", labelStyle.Render("Server Status:"), status)
	if resp.Version != "" {
		p.field("Version", resp.Version)
	}
	for name, state := range resp.Checks {
		fmt.Fprintf(p.out, "  %s %s\n", labelStyle.Render(name+":"), state)
	}
	return nil
}

func topicOrDash(topic string) string {
	if topic == "" {
		return "-"
	}
	return topic
}
