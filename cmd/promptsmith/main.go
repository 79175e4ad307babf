// Command promptsmith turns natural-language chart requests into refined chart prompts and
// Vega-Lite specs, learning from every run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"promptsmith/pkg/config"
	"promptsmith/pkg/logx"
)

// Exit codes returned by run.
const (
	exitOK            = 0
	exitError         = 1
	exitUsage         = 2
	exitClarification = 3
)

// exitCodeError carries a non-zero exit code out of a command without printing an error.
type exitCodeError struct{ code int }

func (e exitCodeError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// app holds global flags and the loaded configuration shared by every command.
type app struct {
	projectDir string
	store      string
	model      string
	offline    bool
	verbose    bool

	cfg    config.Config
	out    io.Writer
	errOut io.Writer
	style  *palette

	logFile bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{out: stdout, errOut: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.closeLog()

	var exit exitCodeError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exit):
		return exit.code
	case isUsageError(err):
		fmt.Fprintln(stderr, "Error:", err)
		return exitUsage
	default:
		fmt.Fprintln(stderr, a.palette().fail("Error:"), err)
		return exitError
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "promptsmith",
		Short: "Iteratively optimise chart prompts and Vega-Lite specs",
		Long: `promptsmith takes a natural-language analytics request, generates a chart prompt and a
Vega-Lite spec, scores the result and rewrites the prompt until it is good enough or the
iteration budget runs out. Successful runs are remembered in the pattern store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.projectDir, "projectdir", ".", "Project directory holding .promptsmith/")
	flags.StringVar(&a.store, "store", "", "Pattern store backend: file, memory, sqlite or redis")
	flags.StringVar(&a.model, "model", "", "Generation model; enables generation")
	flags.BoolVar(&a.offline, "offline", false, "Disable generation and use template and simulated paths only")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Echo log output to the console")

	root.AddCommand(
		newRunCmd(a),
		newExamplesCmd(a),
		newStatsCmd(a),
		newClearCacheCmd(a),
		newResetPatternsCmd(a),
		newHistoryCmd(a),
		newMetricsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads config, applies flag overrides and routes logs into the project log directory.
func (a *app) setup() error {
	if err := config.LoadConfig(a.projectDir); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	if a.store != "" {
		cfg.Store.Backend = a.store
	}
	if a.model != "" {
		cfg.LLM.Model = a.model
		cfg.LLM.Enabled = true
	}
	if a.offline {
		cfg.LLM.Enabled = false
	}
	a.cfg = cfg

	if err := logx.InitializeLogFile(cfg.Logs.Dir, cfg.Logs.MaxSizeMB, cfg.Logs.Tee || a.verbose); err != nil {
		return fmt.Errorf("failed to initialize log file: %w", err)
	}
	a.logFile = true
	return nil
}

func (a *app) closeLog() {
	if !a.logFile {
		return
	}
	if err := logx.CloseLogFile(); err != nil {
		fmt.Fprintln(a.errOut, "Warning: failed to close log file:", err)
	}
	a.logFile = false
}

func (a *app) palette() *palette {
	if a.style == nil {
		a.style = newPalette(a.out)
	}
	return a.style
}

func isUsageError(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires at least", "invalid argument"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
