package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codedup/internal/config"
	"github.com/Sumatoshi-tech/codedup/pkg/engine"
)

// HashCommand holds flag state for the hash verb.
type HashCommand struct {
	globals *Globals

	dbPath      string
	granularity string
	seed        uint64
	workers     int
	vendored    bool
	metricsAddr string
}

// NewHashCommand creates the hash command: index a corpus into the store.
func NewHashCommand(globals *Globals) *cobra.Command {
	hc := &HashCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "hash <path>",
		Short: "Index a repository or directory into the store",
		Long: `Hash walks the given path (a git repository HEAD tree or a plain
directory), extracts features per file or function, builds the corpus
document-frequency model, sketches every distinct blob, and writes the
index. Per-document failures are counted and summarized; they do not
fail the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hc.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&hc.dbPath, "db", "", "index database directory")
	cmd.Flags().StringVarP(&hc.granularity, "mode", "m", "file", "document granularity: file or func")
	cmd.Flags().Uint64Var(&hc.seed, "seed", config.DefaultSketchSeed, "sketch parameter seed; changing it invalidates the index")
	cmd.Flags().IntVar(&hc.workers, "workers", 0, "sketching parallelism (default: GOMAXPROCS)")
	cmd.Flags().BoolVar(&hc.vendored, "vendored", false, "include vendored paths")
	cmd.Flags().StringVar(&hc.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while hashing")

	return cmd
}

func (hc *HashCommand) run(cmd *cobra.Command, path string) error {
	rt, err := newRuntime(hc.globals, func(cfg *config.Config) {
		applyChanged(cmd, "db", func() { cfg.Store.Path = hc.dbPath })
		applyChanged(cmd, "mode", func() { cfg.Query.Granularity = hc.granularity })
		applyChanged(cmd, "seed", func() { cfg.Sketch.Seed = hc.seed })
		applyChanged(cmd, "workers", func() { cfg.Sketch.Workers = hc.workers })
		applyChanged(cmd, "vendored", func() { cfg.Walk.IncludeVendored = hc.vendored })
		applyChanged(cmd, "metrics-addr", func() { cfg.Metrics.Addr = hc.metricsAddr })
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

	summary, err := rt.engine.Index(ctx, path)
	if err != nil {
		return err
	}

	printSummary(summary)

	return nil
}

// printSummary writes the human run summary and per-reason skip counts.
func printSummary(summary *engine.IndexSummary) {
	color.New(color.FgGreen).Fprintf(os.Stdout, "indexed %s documents (%s distinct blobs, %s sketched)\n",
		humanize.Comma(int64(summary.Documents)),
		humanize.Comma(int64(summary.Blobs)),
		humanize.Comma(int64(summary.Sketched)))
	fmt.Fprintf(os.Stdout, "vocabulary: %s tokens\n", humanize.Comma(int64(summary.Vocabulary)))

	if summary.Skips.Total() == 0 {
		return
	}

	color.New(color.FgYellow).Fprintf(os.Stdout, "skipped %d documents:\n", summary.Skips.Total())

	for _, reason := range summary.Skips.Reasons() {
		fmt.Fprintf(os.Stdout, "  %s: %d\n", reason, summary.Skips[reason])
	}
}
