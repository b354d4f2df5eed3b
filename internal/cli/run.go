package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tangle/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Timeout time.Duration // per-step submit timeout
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	harness.TraceSnapshot
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario file against a fresh engine and print the trace.

Each step prints one line: the submitted event, the final state and the
listeners that received it. Expectations and assertions are checked.

Exit codes:
  0 - Scenario passed
  1 - An expectation or assertion failed
  2 - Command error (missing file, invalid scenario)

Examples:
  tangle run ./scenarios/priority_order.yaml
  tangle run ./scenarios/failures.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", harness.DefaultStepTimeout, "timeout for each submit step")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeLoad, err.Error(), map[string]string{"file": path})
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	formatter.VerboseLog("Loaded scenario %q with %d step(s)", scenario.Name, len(scenario.Steps))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := harness.Run(ctx, scenario,
		harness.WithLogger(opts.logger()),
		harness.WithStepTimeout(opts.Timeout),
		harness.WithEngineOptions(opts.config().EngineOptions()...),
	)
	if err != nil {
		_ = formatter.Error(ErrCodeRun, err.Error(), nil)
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	payload := RunResult{
		TraceSnapshot: harness.TraceSnapshot{
			ScenarioName: scenario.Name,
			Trace:        result.Trace,
			Listeners:    result.Listeners,
		},
		Pass:   result.Pass,
		Errors: result.Errors,
	}

	var cliErr *CLIError
	if !result.Pass {
		cliErr = &CLIError{Code: ErrCodeFailed, Message: fmt.Sprintf("%d check(s) failed", len(result.Errors))}
	}
	if err := formatter.Respond(payload, cliErr, func(w io.Writer) {
		printTrace(w, scenario, result)
	}); err != nil {
		return err
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %q failed", scenario.Name))
	}
	return nil
}

func printTrace(w io.Writer, scenario *harness.Scenario, result *harness.Result) {
	fmt.Fprintf(w, "Scenario: %s\n", scenario.Name)
	for _, ev := range result.Trace {
		fmt.Fprintf(w, "  [%d] %s\n", ev.Step, ev.Summary())
		if ev.Reason != "" {
			fmt.Fprintf(w, "      reason: %s\n", ev.Reason)
		}
	}
	fmt.Fprintf(w, "Listeners: %v\n", result.Listeners)

	if result.Pass {
		fmt.Fprintln(w, "✓ passed")
		return
	}
	fmt.Fprintln(w, "✗ failed")
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
