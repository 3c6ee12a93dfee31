package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codedup/internal/config"
)

// ReportCommand holds flag state for the report verb.
type ReportCommand struct {
	globals *Globals

	dbPath     string
	format     string
	floor      float64
	postFilter bool
	maxBucket  int
}

// NewReportCommand creates the report command: enumerate every duplicate
// cluster and similar component in the index.
func NewReportCommand(globals *Globals) *cobra.Command {
	rc := &ReportCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Enumerate duplicate clusters and similar components",
		Long: `Report scans the whole index: documents sharing a blob id form
duplicate clusters, and blobs sharing at least one hash band form
similar components. With --post-filter, component membership is
re-checked against pairwise sketch similarity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rc.run(cmd)
		},
	}

	cmd.Flags().StringVar(&rc.dbPath, "db", "", "index database directory")
	cmd.Flags().StringVar(&rc.format, "format", string(FormatTable), "output format: table, json, or yaml")
	cmd.Flags().Float64Var(&rc.floor, "floor", config.DefaultSimilarityFloor, "minimum pairwise similarity for --post-filter")
	cmd.Flags().BoolVar(&rc.postFilter, "post-filter", false, "re-estimate pairwise similarity inside components")
	cmd.Flags().IntVar(&rc.maxBucket, "max-bucket-size", config.DefaultMaxBucketSize, "drop band buckets larger than this")

	return cmd
}

func (rc *ReportCommand) run(cmd *cobra.Command) error {
	format, err := ParseFormat(rc.format)
	if err != nil {
		return err
	}

	rt, err := newRuntime(rc.globals, func(cfg *config.Config) {
		applyChanged(cmd, "db", func() { cfg.Store.Path = rc.dbPath })
		applyChanged(cmd, "floor", func() { cfg.Query.SimilarityFloor = rc.floor })
		applyChanged(cmd, "post-filter", func() { cfg.Report.PostFilter = rc.postFilter })
		applyChanged(cmd, "max-bucket-size", func() { cfg.Report.MaxBucketSize = rc.maxBucket })
	})
	if err != nil {
		return err
	}

	defer func() {
		closeErr := rt.close()
		if closeErr != nil {
			rt.log.Warn("close failed", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := rt.engine.Report(ctx)
	if err != nil {
		return err
	}

	return renderReport(os.Stdout, format, result)
}
