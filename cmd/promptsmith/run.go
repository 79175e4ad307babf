package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"promptsmith/pkg/orchestrator"
	"promptsmith/pkg/proto"
)

// exampleQueries are the queries the examples command runs side by side.
//
//nolint:gochecknoglobals // static demo table
var exampleQueries = []string{
	"Show me revenue by region over time",
	"How is my business doing?",
	"Compare sales performance across departments",
	"Display customer satisfaction trends",
}

type runFlags struct {
	maxIterations int
	threshold     float64
	jsonOut       bool
	eventsDir     string
	metricsOut    string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Iteration budget (default from config)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Optimal score threshold (default from config)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().StringVar(&f.eventsDir, "events-dir", "", "Append progress events as JSONL to this directory")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to this file")
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Optimise the chart prompt for one query",
		Example: `  promptsmith run "Show me revenue by region over time"
  promptsmith run --max-iterations 3 --json "Compare sales performance across departments"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQueries(cmd.Context(), &f, []string{strings.Join(args, " ")})
		},
	}
	f.register(cmd)
	return cmd
}

func newExamplesCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Run the bundled example queries concurrently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runQueries(cmd.Context(), &f, exampleQueries)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) runQueries(ctx context.Context, f *runFlags, queries []string) (err error) {
	if f.threshold > 0 {
		if f.threshold > 10 {
			return fmt.Errorf("invalid argument: --threshold must be at most 10, got %.2f", f.threshold)
		}
		a.cfg.Loop.OptimalThreshold = f.threshold
	}

	style := a.palette()
	opts := pipelineOptions{maxIterations: f.maxIterations, eventsDir: f.eventsDir}
	if !f.jsonOut && len(queries) == 1 {
		opts.sinks = append(opts.sinks, progressPrinter(a.out, style))
	}

	p, err := a.newPipeline(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close pipeline: %w", cerr)
		}
	}()

	if !f.jsonOut {
		fmt.Fprintf(a.out, "%s (max %d iterations)\n", style.info.Sprint("promptsmith chart optimizer"), p.orch.MaxIterations())
		for _, q := range queries {
			fmt.Fprintf(a.out, "  query: %s\n", q)
		}
	}

	var results []*orchestrator.Result
	if len(queries) == 1 {
		results = []*orchestrator.Result{p.orch.Run(ctx, queries[0])}
	} else {
		results = p.orch.RunBatch(ctx, queries, len(queries))
	}

	if f.metricsOut != "" {
		if err := p.writeMetrics(f.metricsOut); err != nil {
			return err
		}
	}

	if f.jsonOut {
		var v any = results
		if len(results) == 1 {
			v = results[0]
		}
		if err := writeJSON(a.out, v); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			printSummary(a.out, style, res)
		}
	}

	return exitFor(results)
}

// exitFor maps the worst outcome onto an exit code: any error wins over any clarification.
func exitFor(results []*orchestrator.Result) error {
	code := exitOK
	for _, res := range results {
		switch res.Status {
		case proto.StatusError:
			return exitCodeError{code: exitError}
		case proto.StatusNeedsClarification:
			code = exitClarification
		}
	}
	if code == exitOK {
		return nil
	}
	return exitCodeError{code: code}
}
