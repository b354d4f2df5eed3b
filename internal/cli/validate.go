package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tangle/internal/harness"
)

// FileValidation is the validation outcome of one scenario file.
type FileValidation struct {
	File  string `json:"file"`
	Name  string `json:"name,omitempty"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario files against the scenario schema.

Each path may be a scenario file or a directory of scenarios. Files are
checked for schema conformance, listener references and event kinds. No
events are dispatched.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	var files []string
	for _, p := range paths {
		found, err := harness.FindScenarios(p)
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
		files = append(files, found...)
	}
	formatter.VerboseLog("Validating %d scenario file(s)", len(files))

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, f := range files {
		fv := FileValidation{File: f, Valid: true}
		scenario, err := harness.LoadScenario(f)
		if err != nil {
			fv.Valid = false
			fv.Error = err.Error()
			result.Valid = false
		} else {
			fv.Name = scenario.Name
		}
		result.Files = append(result.Files, fv)
	}

	var cliErr *CLIError
	if !result.Valid {
		cliErr = &CLIError{Code: ErrCodeInvalid, Message: "one or more scenarios are invalid"}
	}
	if err := formatter.Respond(result, cliErr, func(w io.Writer) {
		printValidation(w, result)
	}); err != nil {
		return err
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func printValidation(w io.Writer, result ValidationResult) {
	invalid := 0
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s (%s)\n", fv.File, fv.Name)
			continue
		}
		invalid++
		fmt.Fprintf(w, "✗ %s\n", fv.File)
		fmt.Fprintf(w, "  %s\n", fv.Error)
	}

	if invalid == 0 {
		fmt.Fprintf(w, "✓ %d scenario(s) valid\n", len(result.Files))
		return
	}
	fmt.Fprintf(w, "✗ %d of %d scenario(s) invalid\n", invalid, len(result.Files))
}
