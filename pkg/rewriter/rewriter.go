// Package rewriter folds evaluation feedback back into the prompt for the next iteration.
package rewriter

import (
	"context"
	"fmt"
	"strings"

	"promptsmith/pkg/agent"
	"promptsmith/pkg/agent/llm"
	"promptsmith/pkg/logx"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
)

// Rewrite reasons.
const (
	ReasonGeneral = "General improvement template applied"

	requirementsHeader = "\n\nAdditional requirements:\n"
	generalSentence    = "Please ensure the chart is clear, well-labeled, and effectively communicates the data insights."
	suggestionsHeader  = "\n\nLearned suggestions:\n"
	feedbackPreview    = 80
)

const systemPrompt = "You are a helpful assistant that rewrites visualization prompts to address " +
	"specific issues and improve chart quality. Focus on clarity, specificity, modern color schemes, " +
	"interactivity (tooltips, selection, hover), and responsive design. " +
	"Use the evaluator's feedback to guide improvements. Reply with the rewritten prompt only."

// Rewriter appends remediation clauses for every open issue. Stored fixes win over the
// category clause for the same issue.
type Rewriter struct {
	store  *patterns.Store
	gen    llm.Generator
	logger *logx.Logger
}

// New returns a rewriter. store and gen may be nil.
func New(store *patterns.Store, gen llm.Generator) *Rewriter {
	return &Rewriter{store: store, gen: gen, logger: logx.NewLogger("rewriter")}
}

// Kind implements agent.Agent.
func (r *Rewriter) Kind() agent.Kind { return agent.KindRewriter }

// Step implements agent.Agent. It needs the prompt and both evaluations; the decision is
// optional and supplies the score that gates learned suggestions.
func (r *Rewriter) Step(ctx context.Context, in agent.Input) (agent.Output, error) {
	if err := agent.Require(agent.KindRewriter, in.Prompt != nil && in.Prompt.Text != "", "prompt"); err != nil {
		return agent.Output{}, err
	}
	if err := agent.Require(agent.KindRewriter, in.Heuristic != nil && in.Model != nil, "evaluations"); err != nil {
		return agent.Output{}, err
	}
	score := in.Model.Score
	if in.Decision != nil {
		score = in.Decision.Final
	}
	rw := r.Rewrite(ctx, in.Prompt.Text, in.Heuristic, in.Model, score)
	return agent.Output{Kind: agent.KindRewriter, Rewrite: &rw}, nil
}

// Rewrite never fails. Generation problems keep the template rewrite with LLMFallback set.
func (r *Rewriter) Rewrite(ctx context.Context, prompt string, h, m *proto.Evaluation, score float64) proto.Rewrite {
	issues := proto.MergeIssues(issuesOf(h), weaknessesOf(m))
	out := r.templateRewrite(prompt, issues)

	if score < 8 && r.store != nil {
		if hints := r.store.Suggestions(issues, score); len(hints) > 0 {
			out.Prompt += suggestionsHeader + bullets(hints)
			out.ImprovementsMade = append(out.ImprovementsMade, hints...)
		}
	}

	if r.gen == nil {
		return out
	}

	feedback := ""
	if m != nil {
		feedback = m.Feedback
	}
	res := r.gen.Generate(ctx, llmRequest(out.Prompt, issues, feedback, score), llm.Context{
		Agent:       agent.KindRewriter.String(),
		System:      systemPrompt,
		MaxTokens:   400,
		Temperature: 0.3,
	})
	text := strings.TrimSpace(res.Text)
	if !res.OK() || text == "" {
		advisory := res.Advisory()
		if advisory == "" {
			advisory = "empty rewrite"
		}
		r.logger.Debug("rewrite fell back to template: %s", advisory)
		out.LLMFallback = true
		out.LLMError = advisory
		return out
	}

	out.Prompt = text
	addressed := "none"
	if len(issues) > 0 {
		addressed = strings.Join(issues, ", ")
	}
	out.RewriteReason = fmt.Sprintf("LLM rewrite: addressed issues [%s] and feedback: '%s'", addressed, preview(feedback))
	return out
}

func (r *Rewriter) templateRewrite(prompt string, issues []string) proto.Rewrite {
	out := proto.Rewrite{Original: prompt, IssuesAddressed: issues}
	lower := strings.ToLower(prompt)
	seen := map[string]bool{}
	cached, templated := 0, 0

	for _, issue := range issues {
		clause, fromCache := r.clauseFor(issue)
		if clause == "" {
			continue
		}
		key := strings.ToLower(clause)
		if seen[key] || strings.Contains(lower, key) {
			continue
		}
		seen[key] = true
		out.AppliedFixes = append(out.AppliedFixes, proto.Fix{Issue: issue, Clause: clause, Cached: fromCache})
		out.ImprovementsMade = append(out.ImprovementsMade, clause)
		if fromCache {
			cached++
		} else {
			templated++
		}
	}

	switch {
	case len(out.AppliedFixes) == 0:
		out.Prompt = prompt + "\n\n" + generalSentence
		out.ImprovementsMade = []string{generalSentence}
		out.RewriteReason = ReasonGeneral
	case cached > 0:
		out.Prompt = prompt + requirementsHeader + bullets(out.ImprovementsMade)
		out.RewriteReason = fmt.Sprintf("Applied %d cached fixes and %d template clauses", cached, templated)
	default:
		out.Prompt = prompt + requirementsHeader + bullets(out.ImprovementsMade)
		out.RewriteReason = fmt.Sprintf("Template rewrite addressing %d issues", len(issues))
	}
	return out
}

func (r *Rewriter) clauseFor(issue string) (clause string, cached bool) {
	if r.store != nil {
		if set, _, ok := r.store.LookupFixes(issue); ok {
			if best, ok := set.Best(); ok && best.Clause != "" {
				return best.Clause, true
			}
		}
	}
	_, clause = Categorize(issue)
	return clause, false
}

func llmRequest(prompt string, issues []string, feedback string, score float64) string {
	listed := "None"
	if len(issues) > 0 {
		listed = strings.Join(issues, ", ")
	}
	if feedback == "" {
		feedback = "None"
	}
	return fmt.Sprintf("Original Prompt: %s\nIssues to Address:\n- Heuristic Issues: %s\n- Evaluator Feedback: %s\n"+
		"- Current Score: %.2f/10\nRewrite the prompt to address these issues. Make it specific, clear and actionable, "+
		"and request modern color schemes, tooltips and responsive sizing if not already present.",
		prompt, listed, feedback, score)
}

func issuesOf(e *proto.Evaluation) []string {
	if e == nil {
		return nil
	}
	return e.Issues
}

func weaknessesOf(e *proto.Evaluation) []string {
	if e == nil {
		return nil
	}
	return e.Weaknesses
}

func bullets(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(l)
	}
	return b.String()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= feedbackPreview {
		return s
	}
	return string(r[:feedbackPreview]) + "..."
}
