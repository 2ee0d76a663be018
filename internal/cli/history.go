package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/deltapivot/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	PoolID  string
	Key     string
	Changes bool
}

// HistoryResult is the output of the history command. Exactly one of
// Pools, Rounds and Events is set.
type HistoryResult struct {
	PoolID    string           `json:"pool_id,omitempty"`
	LastEpoch uint64           `json:"last_epoch,omitempty"`
	Pools     []string         `json:"pools,omitempty"`
	Rounds    []store.Round    `json:"rounds,omitempty"`
	Key       string           `json:"key,omitempty"`
	Events    []store.KeyEvent `json:"events,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <journal.db>",
		Short: "Read back a round journal",
		Long: `Read the rounds recorded by "deltapivot run --journal".

Without --pool the journal's pools are listed, unless it holds exactly
one. With --key the changes of one primary key are listed instead of
whole rounds. Keys are written the way the run command prints them, so
string keys are quoted.

Examples:
  deltapivot history ./journal.db
  deltapivot history ./journal.db --pool 0190f7d2-... --changes
  deltapivot history ./journal.db --pool p1 --key '"sku-1"'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PoolID, "pool", "", "pool id to read")
	cmd.Flags().StringVar(&opts.Key, "key", "", "formatted primary key to trace")
	cmd.Flags().BoolVar(&opts.Changes, "changes", false, "include the changed keys of every round")

	return cmd
}

func runHistory(opts *HistoryOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	// Open would create a missing database.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		msg := fmt.Sprintf("journal not found: %s", path)
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	st, err := store.Open(path)
	if err != nil {
		_ = formatter.Error(ErrCodeReadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := readHistory(ctx, st, opts)
	if err != nil {
		_ = formatter.Error(ErrCodeReadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	return outputHistory(formatter, result)
}

func readHistory(ctx context.Context, st *store.Store, opts *HistoryOptions) (*HistoryResult, error) {
	poolID := opts.PoolID
	if poolID == "" {
		pools, err := st.Pools(ctx)
		if err != nil {
			return nil, err
		}
		if len(pools) != 1 {
			return &HistoryResult{Pools: pools}, nil
		}
		poolID = pools[0]
	}

	result := &HistoryResult{PoolID: poolID}
	last, err := st.LastEpoch(ctx, poolID)
	if err != nil {
		return nil, err
	}
	result.LastEpoch = last

	if opts.Key != "" {
		result.Key = opts.Key
		if result.Events, err = st.KeyHistory(ctx, poolID, opts.Key); err != nil {
			return nil, err
		}
		return result, nil
	}

	if result.Rounds, err = st.ReadRounds(ctx, poolID); err != nil {
		return nil, err
	}
	if opts.Changes {
		for i, r := range result.Rounds {
			if result.Rounds[i], err = st.ReadRound(ctx, poolID, r.Epoch, r.Source); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func outputHistory(formatter *OutputFormatter, result *HistoryResult) error {
	if formatter.Format == "json" {
		return formatter.Encode(CLIResponse{Status: "ok", Data: result, PoolID: result.PoolID})
	}

	w := formatter.Writer
	if result.PoolID == "" {
		if len(result.Pools) == 0 {
			fmt.Fprintln(w, "No rounds journaled.")
			return nil
		}
		fmt.Fprintln(w, "Pools (use --pool to select one):")
		for _, id := range result.Pools {
			fmt.Fprintf(w, "  %s\n", id)
		}
		return nil
	}

	fmt.Fprintf(w, "pool %s last_epoch=%d\n", result.PoolID, result.LastEpoch)
	if result.Key != "" {
		fmt.Fprintf(w, "key %s\n", result.Key)
		for _, e := range result.Events {
			fmt.Fprintf(w, "  epoch=%d %s %s\n", e.Epoch, e.Source, e.Status)
		}
		return nil
	}
	for _, r := range result.Rounds {
		fmt.Fprintf(w, "epoch=%d %s inserted=%d updated=%d unchanged=%d deleted=%d\n",
			r.Epoch, r.Source, r.Inserted, r.Updated, r.Unchanged, r.Deleted)
		for _, c := range r.Changes {
			fmt.Fprintf(w, "  %s %s\n", c.PKey, c.Status)
		}
	}
	return nil
}
