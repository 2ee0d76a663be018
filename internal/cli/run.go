package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/deltapivot/internal/compiler"
	"github.com/roach88/deltapivot/internal/config"
	"github.com/roach88/deltapivot/internal/gnode"
	"github.com/roach88/deltapivot/internal/harness"
	"github.com/roach88/deltapivot/internal/pool"
	"github.com/roach88/deltapivot/internal/scalar"
	"github.com/roach88/deltapivot/internal/store"
	"github.com/roach88/deltapivot/internal/view"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config  string
	Journal string
	Workers int
	MaxRows int
	PoolID  string
}

// Feed is the input of the run command: rounds of batches addressed to
// tables by name.
type Feed struct {
	Rounds []FeedRound `yaml:"rounds"`
}

// FeedRound is every batch submitted before one pool round.
type FeedRound struct {
	Batches []FeedBatch `yaml:"batches"`
}

// FeedBatch is one batch for a table input port.
type FeedBatch struct {
	Table string            `yaml:"table"`
	Port  int               `yaml:"port"`
	Rows  []harness.RowStep `yaml:"rows"`
}

// RunResult is the output of the run command.
type RunResult struct {
	PoolID    string        `json:"pool_id"`
	Rounds    []RoundResult `json:"rounds"`
	Tables    []TableState  `json:"tables"`
	Journaled int           `json:"journaled,omitempty"`
}

// RoundResult reports one pool round.
type RoundResult struct {
	Round  int          `json:"round"`
	Epoch  uint64       `json:"epoch"`
	Tables []TableRound `json:"tables"`
	Error  string       `json:"error,omitempty"`
}

// TableRound is one table's share of a round.
type TableRound struct {
	Table string `json:"table"`
	Size  int    `json:"size"`
	gnode.Summary
}

// TableState is a table after the last round.
type TableState struct {
	Name    string       `json:"name"`
	Columns []string     `json:"columns"`
	Rows    [][]string   `json:"rows"`
	Order   []string     `json:"order,omitempty"`
	Groups  []GroupState `json:"groups,omitempty"`
}

// GroupState is one aggregate group.
type GroupState struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Sum   float64 `json:"sum"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <defs> <feed.yaml>",
		Short: "Feed batches through a pool of tables",
		Long: `Compile the table definitions, register one node per table with a
pool, and run one pool round per feed round.

Each round reports how many rows every touched table inserted, updated,
left unchanged or deleted. With --journal the deltas are recorded in a
SQLite journal that "deltapivot history" reads back.

Example:
  deltapivot run ./defs feed.yaml
  deltapivot run ./defs feed.yaml --journal ./journal.db --workers 4`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (overrides config)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "worker bound (overrides config)")
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", 0, "row cap per table (overrides config)")
	cmd.Flags().StringVar(&opts.PoolID, "pool-id", "", "fixed pool id (default: generated UUIDv7)")

	return cmd
}

// LoadFeed reads a feed file. Unknown fields are rejected.
func LoadFeed(path string) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}
	var feed Feed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to parse feed YAML: %w", err)
	}
	if len(feed.Rounds) == 0 {
		return nil, fmt.Errorf("feed has no rounds")
	}
	return &feed, nil
}

// tableRuntime is one registered table and its views.
type tableRuntime struct {
	spec   *compiler.TableSpec
	node   *gnode.Node
	source pool.SourceID
	agg    *view.Aggregate
	sorted *view.Sorted
}

func runFeed(opts *RunOptions, defs, feedPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	loadResult, loadErrors := LoadDefs(defs, LoadModeFailFast)
	if loadResult == nil || len(loadErrors) > 0 {
		return outputLoadError(formatter, loadErrors[0])
	}

	feed, err := LoadFeed(feedPath)
	if err != nil {
		_ = formatter.Error(ErrCodeReadFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load feed", err)
	}

	byName := make(map[string]*compiler.TableSpec, len(loadResult.Tables))
	for i := range loadResult.Tables {
		byName[loadResult.Tables[i].Name] = &loadResult.Tables[i]
	}
	for i, r := range feed.Rounds {
		for _, b := range r.Batches {
			if _, ok := byName[b.Table]; !ok {
				msg := fmt.Sprintf("round %d: table %q not defined", i+1, b.Table)
				_ = formatter.Error(ErrCodeUnknownTable, msg, nil)
				return NewExitError(ExitCommandError, msg)
			}
		}
	}

	poolOpts := []pool.Option{pool.WithWorkers(cfg.Workers)}
	if opts.PoolID != "" {
		poolOpts = append(poolOpts, pool.WithIDGenerator(pool.NewFixedGenerator(opts.PoolID)))
	}
	p := pool.New(poolOpts...)
	defer p.Shutdown()

	var rec *store.Recorder
	if cfg.Journal != "" {
		st, err := store.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		rec = store.NewRecorder(st, p.ID(), p.Epoch)
	}

	tables := make(map[string]*tableRuntime, len(loadResult.Tables))
	ordered := make([]*tableRuntime, 0, len(loadResult.Tables))
	for i := range loadResult.Tables {
		rt, err := registerTable(p, &loadResult.Tables[i], feed, cfg, rec)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to register table", err)
		}
		tables[rt.spec.Name] = rt
		ordered = append(ordered, rt)
		formatter.VerboseLog("Registered table %s as source %d", rt.spec.Name, rt.source)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := RunResult{PoolID: p.ID(), Rounds: make([]RoundResult, 0, len(feed.Rounds))}
	failed := 0
	for i, r := range feed.Rounds {
		rr, err := runFeedRound(ctx, p, tables, r)
		if err != nil {
			_ = formatter.Error(ErrCodeReadFailed, fmt.Sprintf("round %d: %v", i+1, err), nil)
			return WrapExitError(ExitCommandError, fmt.Sprintf("round %d", i+1), err)
		}
		rr.Round = i + 1
		if rr.Error != "" {
			failed++
			slog.Warn("round failed", "pool_id", p.ID(), "epoch", rr.Epoch, "error", rr.Error)
		}
		result.Rounds = append(result.Rounds, *rr)

		if rec != nil {
			n := rec.Pending()
			if err := rec.Flush(ctx); err != nil {
				return WrapExitError(ExitCommandError, "failed to write journal", err)
			}
			result.Journaled += n
		}
	}

	for _, rt := range ordered {
		result.Tables = append(result.Tables, tableState(rt))
	}

	if err := outputRunResult(formatter, result, failed); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d round(s) failed", failed))
	}
	return nil
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(opts *RunOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, err
		}
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if opts.MaxRows > 0 {
		cfg.MaxRows = opts.MaxRows
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}
	return cfg, cfg.Validate()
}

func registerTable(p *pool.Pool, spec *compiler.TableSpec, feed *Feed, cfg config.Config, rec *store.Recorder) (*tableRuntime, error) {
	rt := &tableRuntime{
		spec: spec,
		node: gnode.New(spec.Name, spec.Schema, spec.Index,
			gnode.WithWorkers(cfg.Workers),
			gnode.WithCapacity(cfg.MaxRows),
		),
	}

	maxPort := 0
	for _, r := range feed.Rounds {
		for _, b := range r.Batches {
			if b.Table == spec.Name {
				maxPort = max(maxPort, b.Port)
			}
		}
	}
	for range maxPort {
		rt.node.MakeInputPort()
	}

	if agg := spec.Aggregate; agg != nil {
		rt.agg = view.NewAggregate(spec.Schema, agg.By, agg.Value)
		rt.node.AddConsumer(rt.agg)
	}
	if len(spec.Sort) > 0 {
		rt.sorted = view.NewSorted(spec.Schema, spec.Sort...)
		rt.node.AddConsumer(rt.sorted)
	}
	if rec != nil {
		rt.node.AddConsumer(rec.Consumer(spec.Name))
	}

	id, err := p.RegisterSource(rt.node)
	if err != nil {
		return nil, err
	}
	rt.source = id
	return rt, nil
}

// runFeedRound submits a round's batches and runs one pool round. Submit
// and processing failures are reported in the result; only malformed
// input is returned as an error.
func runFeedRound(ctx context.Context, p *pool.Pool, tables map[string]*tableRuntime, r FeedRound) (*RoundResult, error) {
	var touched []*tableRuntime
	seen := make(map[string]bool)
	var errs []error
	for _, fb := range r.Batches {
		rt := tables[fb.Table]
		b, err := harness.BuildBatch(rt.spec.Schema, fb.Rows)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", fb.Table, err)
		}
		if err := p.Submit(rt.source, fb.Port, b); err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen[fb.Table] {
			seen[fb.Table] = true
			touched = append(touched, rt)
		}
	}
	if err := p.RunPending(ctx); err != nil {
		errs = append(errs, err)
	}

	rr := &RoundResult{Epoch: p.Epoch(), Tables: make([]TableRound, 0, len(touched))}
	if err := errors.Join(errs...); err != nil {
		rr.Error = err.Error()
	}
	for _, rt := range touched {
		rr.Tables = append(rr.Tables, TableRound{
			Table:   rt.spec.Name,
			Size:    rt.node.Master().Size(),
			Summary: rt.node.Summary(),
		})
	}
	return rr, nil
}

func tableState(rt *tableRuntime) TableState {
	ts := TableState{
		Name:    rt.spec.Name,
		Columns: rt.spec.Schema.Names(),
		Rows:    harness.Snapshot(rt.node.Master()),
	}
	if rt.sorted != nil {
		for _, k := range rt.sorted.Keys() {
			ts.Order = append(ts.Order, scalar.Format(k))
		}
	}
	if rt.agg != nil {
		for _, g := range rt.agg.Groups() {
			ts.Groups = append(ts.Groups, GroupState{Key: scalar.Format(g.Key), Count: g.Count, Sum: g.Sum})
		}
	}
	return ts
}

func outputRunResult(formatter *OutputFormatter, result RunResult, failed int) error {
	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, PoolID: result.PoolID}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeRoundFailed, Message: fmt.Sprintf("%d round(s) failed", failed)}
		}
		return formatter.Encode(resp)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "pool %s\n", result.PoolID)
	for _, rr := range result.Rounds {
		fmt.Fprintf(w, "round %d epoch=%d\n", rr.Round, rr.Epoch)
		for _, tr := range rr.Tables {
			fmt.Fprintf(w, "  %s size=%d inserted=%d updated=%d unchanged=%d deleted=%d\n",
				tr.Table, tr.Size, tr.Inserted, tr.Updated, tr.Unchanged, tr.Deleted)
		}
		if rr.Error != "" {
			fmt.Fprintf(w, "  ✗ %s\n", rr.Error)
		}
	}
	for _, ts := range result.Tables {
		fmt.Fprintf(w, "table %s (%s)\n", ts.Name, strings.Join(ts.Columns, " "))
		for _, row := range ts.Rows {
			fmt.Fprintf(w, "  %s\n", strings.Join(row, " "))
		}
		if len(ts.Order) > 0 {
			fmt.Fprintf(w, "  order: %s\n", strings.Join(ts.Order, " "))
		}
		for _, g := range ts.Groups {
			fmt.Fprintf(w, "  group %s count=%d sum=%g\n", g.Key, g.Count, g.Sum)
		}
	}
	if result.Journaled > 0 {
		fmt.Fprintf(w, "journaled %d delta(s)\n", result.Journaled)
	}
	return nil
}
