package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/codedup/internal/config"
	"github.com/Sumatoshi-tech/codedup/pkg/engine"
)

// unitArgParts is the number of trailing segments in <path>:<name>:<line>.
const unitArgParts = 2

// ErrBadQueryArg is returned for malformed query arguments.
var ErrBadQueryArg = errors.New(`query argument must be <path> or <path>:<name>:<line>`)

// QueryCommand holds flag state for the query verb.
type QueryCommand struct {
	globals *Globals

	dbPath string
	floor  float64
	format string
}

// NewQueryCommand creates the query command: find duplicates of and documents
// similar to one input.
func NewQueryCommand(globals *Globals) *cobra.Command {
	qc := &QueryCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "query <path>[:<name>:<line>]",
		Short: "Find duplicates of and documents similar to one input",
		Long: `Query computes the input's blob id, reports every indexed document
with identical bytes as an exact duplicate, then sketches the input
against the stored model and reports band-colliding documents whose
estimated similarity reaches the floor.

A trailing :<name>:<line> narrows the query to one function unit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return qc.run(cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&qc.dbPath, "db", "", "index database directory")
	cmd.Flags().Float64Var(&qc.floor, "floor", config.DefaultSimilarityFloor, "minimum estimated similarity to report")
	cmd.Flags().StringVar(&qc.format, "format", string(FormatTable), "output format: table, json, or yaml")

	return cmd
}

func (qc *QueryCommand) run(cmd *cobra.Command, arg string) error {
	format, err := ParseFormat(qc.format)
	if err != nil {
		return err
	}

	input, err := parseQueryArg(arg)
	if err != nil {
		return err
	}

	rt, err := newRuntime(qc.globals, func(cfg *config.Config) {
		applyChanged(cmd, "db", func() { cfg.Store.Path = qc.dbPath })
		applyChanged(cmd, "floor", func() { cfg.Query.SimilarityFloor = qc.floor })
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

	result, err := rt.engine.Query(ctx, input)
	if err != nil {
		return err
	}

	return renderQuery(os.Stdout, format, result)
}

// parseQueryArg splits <path>[:<name>:<line>]. The two trailing segments are
// only treated as a unit selector when the last one parses as a line number,
// so paths containing colons still work.
func parseQueryArg(arg string) (engine.QueryInput, error) {
	parts := strings.Split(arg, ":")
	if len(parts) <= unitArgParts {
		return engine.QueryInput{Path: arg}, nil
	}

	line, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || line <= 0 {
		return engine.QueryInput{}, ErrBadQueryArg
	}

	name := parts[len(parts)-2]
	if name == "" {
		return engine.QueryInput{}, ErrBadQueryArg
	}

	return engine.QueryInput{
		Path: strings.Join(parts[:len(parts)-unitArgParts], ":"),
		Name: name,
		Line: line,
	}, nil
}
