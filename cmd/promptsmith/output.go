package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"promptsmith/pkg/orchestrator"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

// palette colours terminal output. Colour is disabled when out is not a terminal.
type palette struct {
	ok, warn, bad, info, dim *color.Color
}

func newPalette(out io.Writer) *palette {
	p := &palette{
		ok:   color.New(color.FgGreen, color.Bold),
		warn: color.New(color.FgYellow),
		bad:  color.New(color.FgRed, color.Bold),
		info: color.New(color.FgCyan),
		dim:  color.New(color.Faint),
	}
	if !isTerminal(out) {
		for _, c := range []*color.Color{p.ok, p.warn, p.bad, p.info, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *palette) fail(s string) string { return p.bad.Sprint(s) }

func (p *palette) status(s proto.Status) string {
	switch s {
	case proto.StatusOptimal:
		return p.ok.Sprint(s)
	case proto.StatusExhausted, proto.StatusNeedsClarification:
		return p.warn.Sprint(s)
	case proto.StatusError:
		return p.bad.Sprint(s)
	default:
		return string(s)
	}
}

// progressPrinter renders one line per progress snapshot.
func progressPrinter(out io.Writer, p *palette) orchestrator.SinkFunc {
	lastIteration := 0
	return func(_ context.Context, pr orchestrator.Progress) error {
		if pr.Iteration != lastIteration && pr.Iteration > 0 {
			lastIteration = pr.Iteration
			fmt.Fprintf(out, "\n%s\n", p.info.Sprintf("Iteration %d", pr.Iteration))
		}
		agentName := pr.Agent
		if agentName == "" {
			agentName = "-"
		}
		fmt.Fprintf(out, "  %-22s %-20s %s\n", pr.Step, p.dim.Sprint(agentName), p.dim.Sprintf("%5.1f%%", pr.Progress))
		return nil
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func printSummary(out io.Writer, p *palette, res *orchestrator.Result) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(out, "\n%s\n%s\n%s\n", rule, p.info.Sprint("OPTIMIZATION COMPLETE"), rule)
	fmt.Fprintf(out, "Session:     %s\n", res.SessionID)
	fmt.Fprintf(out, "Status:      %s\n", p.status(res.Status))
	fmt.Fprintf(out, "Iterations:  %d\n", res.Iterations)
	fmt.Fprintf(out, "Duration:    %s\n", res.Duration.Round(time.Millisecond))

	if res.Error != "" {
		fmt.Fprintf(out, "Error:       %s\n", p.fail(res.Error))
	}

	if c := res.Clarification; c != nil && c.NeedsClarification {
		fmt.Fprintf(out, "\nClarification needed (confidence %.2f)\n", c.Confidence)
		fmt.Fprintf(out, "  Question:  %s\n", c.Question)
		if c.SuggestedQuery != "" {
			fmt.Fprintf(out, "  Try:       %s\n", p.ok.Sprint(c.SuggestedQuery))
		}
		if len(c.Issues) > 0 {
			fmt.Fprintf(out, "  Issues:    %s\n", strings.Join(c.Issues, ", "))
		}
	}

	if f := res.Final; f != nil {
		fmt.Fprintf(out, "\nFinal score: %s  (heuristic %.2f, model %.2f) from iteration %d\n",
			p.ok.Sprintf("%.2f/10", f.Decision.Final), f.Decision.Heuristic, f.Decision.Model, f.Index)
		if f.Decision.Summary != "" {
			fmt.Fprintf(out, "%s\n", f.Decision.Summary)
		}
		if f.Rewrite != nil && f.Rewrite.RewriteReason != "" {
			fmt.Fprintf(out, "Last rewrite: %s\n", f.Rewrite.RewriteReason)
		}
		fmt.Fprintf(out, "\nFinal prompt:\n%s\n%s\n", strings.Repeat("-", 30), f.Prompt.Text)
		if f.Build.Spec != nil {
			raw, err := json.MarshalIndent(f.Build.Spec, "", "  ")
			if err == nil {
				fmt.Fprintf(out, "\nChart specification (%s):\n%s\n%s\n", f.Build.ChartType, strings.Repeat("-", 30), raw)
			}
		}
	}

	printStats(out, p, res.Stats)
	if l := res.Learned; l.QueryPatterns || l.Fixes > 0 || l.Strategies > 0 {
		fmt.Fprintf(out, "  Learned:   query patterns %t, %d fixes, %d strategies\n", l.QueryPatterns, l.Fixes, l.Strategies)
	}
}

func printStats(out io.Writer, p *palette, s patterns.Stats) {
	fmt.Fprintf(out, "\n%s\n", p.info.Sprint("Pattern store"))
	fmt.Fprintf(out, "  Backend:   %s\n", s.Backend)
	fmt.Fprintf(out, "  Runs:      %d\n", s.TotalRuns)
	fmt.Fprintf(out, "  Avg score: %.2f/10\n", s.AvgScore)

	families := make([]string, 0, len(s.Families))
	for f := range s.Families {
		families = append(families, string(f))
	}
	sort.Strings(families)
	for _, f := range families {
		fmt.Fprintf(out, "  %-10s %d\n", f+":", s.Families[patterns.Family(f)])
	}
	if s.Degraded != "" {
		fmt.Fprintf(out, "  %s %s\n", p.warn.Sprint("Degraded:"), s.Degraded)
	}
}
