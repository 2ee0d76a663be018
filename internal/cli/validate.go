package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deltapivot/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Tables []TableSummary `json:"tables,omitempty"`
	Errors []CLIError     `json:"errors,omitempty"`
}

// TableSummary describes one compiled table.
type TableSummary struct {
	Name      string          `json:"name"`
	Index     string          `json:"index"`
	Columns   []ColumnSummary `json:"columns"`
	Sort      []string        `json:"sort,omitempty"`
	Aggregate string          `json:"aggregate,omitempty"`
}

// ColumnSummary is one column of a TableSummary.
type ColumnSummary struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs>",
		Short: "Compile and check table definitions",
		Long: `Compile CUE table definitions and check them without running anything.

<defs> is a .cue file or a directory of them. Every table is compiled and
every problem is reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, defs string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadDefs(defs, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadError(formatter, loadErrors[0])
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, defs)
	for _, spec := range loadResult.Tables {
		formatter.VerboseLog("Compiled table: %s", spec.Name)
	}

	if len(loadErrors) > 0 {
		return outputValidationErrors(formatter, loadErrors)
	}

	summaries := make([]TableSummary, len(loadResult.Tables))
	for i := range loadResult.Tables {
		summaries[i] = summarizeTable(&loadResult.Tables[i])
	}
	return outputValidateSuccess(formatter, summaries)
}

func summarizeTable(spec *compiler.TableSpec) TableSummary {
	s := TableSummary{Name: spec.Name, Index: spec.Index}
	for _, d := range spec.Schema.Defs() {
		s.Columns = append(s.Columns, ColumnSummary{Name: d.Name, Kind: d.Kind.String()})
	}
	for _, sp := range spec.Sort {
		s.Sort = append(s.Sort, sp.Column+" "+sp.Order.String())
	}
	if agg := spec.Aggregate; agg != nil {
		s.Aggregate = fmt.Sprintf("sum(%s) by %s", agg.Value, agg.By)
	}
	return s
}

// outputLoadError reports an error that stopped loading altogether.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
}

func outputValidateSuccess(formatter *OutputFormatter, tables []TableSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Tables: tables})
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %d table(s) valid\n\n", len(tables))
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name + ":" + c.Kind
		}
		fmt.Fprintf(w, "  %s (index %s): %s\n", t.Name, t.Index, strings.Join(cols, ", "))
		if len(t.Sort) > 0 {
			fmt.Fprintf(w, "    sort: %s\n", strings.Join(t.Sort, ", "))
		}
		if t.Aggregate != "" {
			fmt.Fprintf(w, "    aggregate: %s\n", t.Aggregate)
		}
	}
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			cliErrors[i] = CLIError{Code: loadErr.Code, Message: loadErr.Message}
			if loadErr.Pos.IsValid() {
				cliErrors[i].Details = map[string]int{"line": loadErr.Pos.Line()}
			}
			continue
		}
		cliErrors[i] = CLIError{Code: ErrCodeGeneric, Message: err.Error()}
	}

	if formatter.Format == "json" {
		err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: cliErrors},
			Error:  &cliErrors[0],
		})
		if err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range cliErrors {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Code, e.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
