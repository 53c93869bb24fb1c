package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"ewmsearch/internal/search"
)

// printPlan writes the summary line followed by the rendered rows as an
// aligned table.
func printPlan(out io.Writer, plan search.RenderPlan) error {
	if plan.TotalLabel != "" {
		fmt.Fprintf(out, "%s | %s\n", plan.Summary, plan.TotalLabel)
	} else {
		fmt.Fprintln(out, plan.Summary)
	}
	if plan.NoResults {
		fmt.Fprintln(out, "Nenhum resultado encontrado")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(plan.Columns, "\t"))
	for _, row := range plan.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = flatten(c.Text)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
