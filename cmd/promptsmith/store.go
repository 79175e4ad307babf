package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"promptsmith/pkg/metrics"
	"promptsmith/pkg/patterns"
	"promptsmith/pkg/proto"
	"promptsmith/pkg/utils"
	"promptsmith/pkg/version"
)

// withStore opens the configured pattern store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(*patterns.Store) error) (err error) {
	store, err := openStore(ctx, &a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close pattern store: %w", cerr)
		}
	}()
	return fn(store)
}

func newStatsCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pattern store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s *patterns.Store) error {
				stats := s.Stats()
				if jsonOut {
					return writeJSON(a.out, stats)
				}
				printStats(a.out, a.palette(), stats)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print statistics as JSON")
	return cmd
}

func newClearCacheCmd(a *app) *cobra.Command {
	var events bool
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Forget every run and learned pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.withStore(cmd.Context(), func(s *patterns.Store) error {
				if err := s.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("failed to clear pattern store: %w", err)
				}
				fmt.Fprintln(a.out, a.palette().ok.Sprint("Pattern store cleared"))
				return nil
			})
			if err != nil || !events {
				return err
			}
			if err := utils.CleanDirectoryContents(a.cfg.Events.Dir); err != nil {
				return fmt.Errorf("failed to clear event logs: %w", err)
			}
			fmt.Fprintln(a.out, a.palette().ok.Sprint("Event logs removed"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&events, "events", false, "Also remove the configured event log directory contents")
	return cmd
}

func newResetPatternsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-patterns",
		Short: "Forget learned patterns but keep run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(s *patterns.Store) error {
				if err := s.ResetPatterns(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset patterns: %w", err)
				}
				fmt.Fprintln(a.out, a.palette().ok.Sprint("Learned patterns reset"))
				return nil
			})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit   int
		jsonOut bool
		purge   bool
	)
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List recorded sessions, or show the iterations of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := openHistory()
			if err != nil {
				return err
			}
			defer db.Close()

			if purge {
				if err := db.DeleteSessions(ctx); err != nil {
					return fmt.Errorf("failed to purge history: %w", err)
				}
				fmt.Fprintln(a.out, a.palette().ok.Sprint("Session history purged"))
				return nil
			}

			if len(args) == 1 {
				session, err := db.GetSession(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load session %s: %w", args[0], err)
				}
				iterations, err := db.GetIterations(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load iterations: %w", err)
				}
				if jsonOut {
					return writeJSON(a.out, map[string]any{"session": session, "iterations": iterations})
				}
				fmt.Fprintf(a.out, "%s  %s  %q\n", session.SessionID, a.palette().status(proto.Status(session.Status)), session.Query)
				for i := range iterations {
					it := &iterations[i]
					fmt.Fprintf(a.out, "  #%d  final %.2f  heuristic %.2f  model %.2f  %s\n",
						it.Index, it.FinalScore, it.HeuristicScore, it.ModelScore, it.Reason)
				}
				return nil
			}

			sessions, err := db.ListSessions(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if jsonOut {
				return writeJSON(a.out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(a.out, "No sessions recorded")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(a.out, "%s  %-20s %5.2f  %d it  %s  %q\n",
					s.SessionID, a.palette().status(proto.Status(s.Status)), s.FinalScore, s.Iterations,
					s.StartedAt.Local().Format(time.DateTime), s.Query)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum sessions to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	cmd.Flags().BoolVar(&purge, "purge", false, "Delete every recorded session")
	return cmd
}

func newMetricsCmd(a *app) *cobra.Command {
	var (
		url     string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarise optimizer metrics scraped by Prometheus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := metrics.NewQueryService(url, a.cfg.Metrics.Namespace)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			summary, err := q.GetSummary(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			if jsonOut {
				return writeJSON(a.out, summary)
			}

			style := a.palette()
			fmt.Fprintln(a.out, style.info.Sprint("Sessions"))
			for status, n := range summary.Sessions {
				fmt.Fprintf(a.out, "  %-20s %d\n", status, n)
			}
			fmt.Fprintf(a.out, "  avg final score      %.2f\n", summary.AvgFinalScore)
			fmt.Fprintf(a.out, "  avg iterations       %.2f\n", summary.AvgIterations)
			fmt.Fprintln(a.out, style.info.Sprint("Agents"))
			for kind, n := range summary.StepErrors {
				fmt.Fprintf(a.out, "  %-20s %d errors\n", kind, n)
			}
			for kind, n := range summary.CacheHits {
				fmt.Fprintf(a.out, "  %-20s %d cache hits\n", kind, n)
			}
			fmt.Fprintln(a.out, style.info.Sprint("Generation"))
			fmt.Fprintf(a.out, "  tokens               %d (%d prompt, %d completion)\n",
				summary.TotalTokens, summary.PromptTokens, summary.CompletionTokens)
			fmt.Fprintf(a.out, "  cost                 $%.4f\n", summary.TotalCost)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "prometheus-url", "http://localhost:9090", "Prometheus server address")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print as JSON")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(a.out, version.String())
		},
	}
}
