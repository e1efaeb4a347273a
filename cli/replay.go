package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/keel/stock-ledger/ledger"
	"github.com/keel/stock-ledger/replay"
	"github.com/keel/stock-ledger/store/sqlite"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Corpus       string
	Database     string
	DryRun       bool
	Verify       bool
	DefaultActor string
	Examples     int
}

// EventCount is one per-event-type tally line.
type EventCount struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// ReplayReport is the operator-facing result of one replay invocation.
type ReplayReport struct {
	DryRun         bool           `json:"dry_run"`
	RecordsTotal   int            `json:"records_total"`
	RecordsSkipped int            `json:"records_skipped"`
	UnitsApplied   int            `json:"units_applied"`
	UnitsFailed    int            `json:"units_failed"`
	Balances       int            `json:"balances"`
	AcceptedEvents int            `json:"accepted_events"`
	EventCounts    []EventCount   `json:"event_counts"`
	Anomalies      replay.Summary `json:"anomalies"`

	// Persistence counters; zero-valued in dry runs.
	BalancesWritten      int `json:"balances_written"`
	TransactionsInserted int `json:"transactions_inserted"`
	TransactionsSkipped  int `json:"transactions_skipped"`
	SkippedMissingActor  int `json:"skipped_missing_actor"`

	// Verification; only populated with --verify.
	Verified       bool `json:"verified,omitempty"`
	EventsRecorded int  `json:"events_recorded,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a legacy record corpus into the ledger",
		Long: `Replay classifies a corpus of legacy source records (issues,
consumptions, returns), orders them deterministically, applies them
against an in-memory balance book with per-record atomicity, and
persists the result idempotently.

Re-running over an already-persisted corpus inserts nothing: every
accepted event is skipped via its dedup key and balances are upserted
to the same values.

In --dry-run mode classification and replay run but nothing is
persisted; the command prints the would-be final status counts,
per-event-type counts, and the anomaly summary.

Examples:
  ledgerctl replay --corpus legacy.yaml --db ./ledger.db
  ledgerctl replay --corpus legacy.yaml --dry-run
  ledgerctl replay --corpus legacy.yaml --db ./ledger.db --verify --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "path to the source record corpus (required)")
	_ = cmd.MarkFlagRequired("corpus")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite ledger database")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "classify and replay but skip persistence")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "after persisting, confirm every accepted event is recorded")
	cmd.Flags().StringVar(&opts.DefaultActor, "default-actor", "", "actor recorded for events missing a performer")
	cmd.Flags().IntVar(&opts.Examples, "examples", 10, "number of anomaly examples in the report")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	if !opts.DryRun && opts.Database == "" {
		return fmt.Errorf("--db is required unless --dry-run is set")
	}

	corpus, err := replay.LoadCorpus(opts.Corpus)
	if err != nil {
		return err
	}

	collector := replay.NewCollector()
	engine := replay.NewEngine(replay.NewClassifier(corpus.LotResolver()), collector)
	result := engine.Run(corpus.Records)

	report := ReplayReport{
		DryRun:         opts.DryRun,
		RecordsTotal:   len(corpus.Records),
		RecordsSkipped: result.RecordsSkipped,
		UnitsApplied:   result.UnitsApplied,
		UnitsFailed:    result.UnitsFailed,
		Balances:       len(result.Balances),
		AcceptedEvents: len(result.Accepted),
		EventCounts:    sortedEventCounts(result.EventCounts),
		Anomalies:      collector.Summarize(opts.Examples),
	}

	if !opts.DryRun {
		st, err := sqlite.New(opts.Database)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		writer := replay.NewWriter(st, opts.DefaultActor)
		persisted, err := writer.Persist(ctx, result.Balances, result.Accepted)
		if err != nil {
			return fmt.Errorf("failed to persist replay result: %w", err)
		}
		report.BalancesWritten = persisted.BalancesWritten
		report.TransactionsInserted = persisted.TransactionsInserted
		report.TransactionsSkipped = persisted.TransactionsSkipped
		report.SkippedMissingActor = persisted.SkippedMissingActor

		if opts.Verify {
			recorded, err := writer.Existing(ctx, result.Accepted)
			if err != nil {
				return fmt.Errorf("failed to verify replay result: %w", err)
			}
			report.EventsRecorded = recorded
			report.Verified = recorded == len(result.Accepted)
		}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd, report, opts.Verbose)
	return nil
}

func printReport(cmd *cobra.Command, r ReplayReport, verbose bool) {
	out := cmd.OutOrStdout()

	mode := "replay"
	if r.DryRun {
		mode = "dry-run replay"
	}
	fmt.Fprintf(out, "Completed %s over %d records\n", mode, r.RecordsTotal)
	fmt.Fprintf(out, "  units applied:   %d\n", r.UnitsApplied)
	fmt.Fprintf(out, "  units failed:    %d\n", r.UnitsFailed)
	fmt.Fprintf(out, "  records skipped: %d\n", r.RecordsSkipped)
	fmt.Fprintf(out, "  balances:        %d\n", r.Balances)
	fmt.Fprintf(out, "  accepted events: %d\n", r.AcceptedEvents)

	if len(r.EventCounts) > 0 {
		fmt.Fprintln(out, "Events by type:")
		for _, ec := range r.EventCounts {
			fmt.Fprintf(out, "  %-12s %d\n", ec.EventType, ec.Count)
		}
	}

	if !r.DryRun {
		fmt.Fprintln(out, "Persistence:")
		fmt.Fprintf(out, "  balances written:      %d\n", r.BalancesWritten)
		fmt.Fprintf(out, "  transactions inserted: %d\n", r.TransactionsInserted)
		fmt.Fprintf(out, "  transactions skipped:  %d\n", r.TransactionsSkipped)
		if r.SkippedMissingActor > 0 {
			fmt.Fprintf(out, "  skipped (no actor):    %d\n", r.SkippedMissingActor)
		}
		if r.EventsRecorded > 0 || r.Verified {
			fmt.Fprintf(out, "  verified: %v (%d/%d events recorded)\n", r.Verified, r.EventsRecorded, r.AcceptedEvents)
		}
	}

	if r.Anomalies.Total > 0 {
		fmt.Fprintf(out, "Anomalies: %d\n", r.Anomalies.Total)
		for _, cc := range r.Anomalies.ByClass {
			fmt.Fprintf(out, "  %-22s %d\n", cc.Class, cc.Count)
		}
		if verbose {
			for _, a := range r.Anomalies.Examples {
				fmt.Fprintf(out, "  - %s/%s [%s]: %s\n", a.SourceKind, a.SourceID, a.Class, a.Detail)
			}
		}
	}
}

func sortedEventCounts(counts map[ledger.EventType]int) []EventCount {
	out := make([]EventCount, 0, len(counts))
	for et, n := range counts {
		out = append(out, EventCount{EventType: string(et), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}
