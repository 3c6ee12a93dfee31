package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/codedup/pkg/engine"
	"github.com/Sumatoshi-tech/codedup/pkg/store"
)

// Format selects the rendering of query and report output.
type Format string

// Supported output formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// jsonIndent is the indentation for pretty JSON output.
const jsonIndent = "  "

// ErrBadFormat is returned for unknown output formats.
var ErrBadFormat = errors.New(`format must be "table", "json", or "yaml"`)

// ParseFormat parses the --format flag.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return FormatTable, fmt.Errorf("%w: got %q", ErrBadFormat, s)
	}
}

// renderQuery writes a query result in the selected format.
func renderQuery(w io.Writer, format Format, result *engine.QueryResult) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatYAML:
		return renderYAML(w, result)
	case FormatTable:
	}

	if len(result.Duplicates) == 0 && len(result.Similar) == 0 {
		fmt.Fprintln(w, "no matches")

		return nil
	}

	if len(result.Duplicates) > 0 {
		color.New(color.FgGreen).Fprintf(w, "exact duplicates (%d):\n", len(result.Duplicates))
		renderDocumentsTable(w, result.Duplicates, nil)
	}

	if len(result.Similar) > 0 {
		color.New(color.FgCyan).Fprintf(w, "similar (%d):\n", len(result.Similar))

		for _, match := range result.Similar {
			renderDocumentsTable(w, match.Documents, &match.Similarity)
		}
	}

	return nil
}

// renderReport writes a report in the selected format.
func renderReport(w io.Writer, format Format, result *engine.ReportResult) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatYAML:
		return renderYAML(w, result)
	case FormatTable:
	}

	if len(result.Duplicates) == 0 && len(result.Similar) == 0 {
		fmt.Fprintln(w, "no duplicate clusters or similar components")

		return nil
	}

	color.New(color.FgGreen).Fprintf(w, "duplicate clusters (%d):\n", len(result.Duplicates))

	for _, cluster := range result.Duplicates {
		renderDocumentsTable(w, cluster.Documents, nil)
	}

	color.New(color.FgCyan).Fprintf(w, "similar components (%d):\n", len(result.Similar))

	for _, component := range result.Similar {
		renderDocumentsTable(w, component.Documents, nil)
	}

	if result.DroppedBuckets > 0 {
		color.New(color.FgYellow).Fprintf(w, "dropped %d oversized band buckets\n", result.DroppedBuckets)
	}

	return nil
}

// renderDocumentsTable prints one group of document locations, optionally
// annotated with an estimated similarity.
func renderDocumentsTable(w io.Writer, docs []store.Document, similarity *float64) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)

	header := table.Row{"repo", "path", "function", "line"}
	if similarity != nil {
		header = append(header, "similarity")
	}

	tbl.AppendHeader(header)

	for _, doc := range docs {
		row := table.Row{doc.Meta.Repo, doc.Meta.Path, doc.Meta.Name, doc.Meta.Line}
		if similarity != nil {
			row = append(row, fmt.Sprintf("%.2f", *similarity))
		}

		tbl.AppendRow(row)
	}

	tbl.Render()
}

func renderJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", jsonIndent)

	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	return nil
}

func renderYAML(w io.Writer, value any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write yaml: %w", err)
	}

	return nil
}
