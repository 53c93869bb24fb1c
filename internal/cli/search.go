package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ewmsearch/internal/export"
	"ewmsearch/internal/search"
	"ewmsearch/internal/table"
)

func searchCommand() *cobra.Command {
	var column string
	var maxRows int
	cmd := &cobra.Command{
		Use:   "search <file> [query]",
		Short: "Filter a spreadsheet and print the matching rows",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFile(cmd.Context(), args[0], terminalLogger())
			if err != nil {
				return err
			}
			plan, err := runSearch(store, maxRows, queryArg(args), column)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), plan)
		},
	}
	cmd.Flags().StringVar(&column, "column", search.ScopeAll, "column index, column name or \"all\"")
	cmd.Flags().IntVar(&maxRows, "max-rows", search.DefaultMaxRows, "maximum rows to print")
	return cmd
}

func exportCommand() *cobra.Command {
	var column, outDir string
	cmd := &cobra.Command{
		Use:   "export <file> [query]",
		Short: "Write the rows matching a query to an .xlsx file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openFile(cmd.Context(), args[0], terminalLogger())
			if err != nil {
				return err
			}
			if _, err := runSearch(store, 0, queryArg(args), column); err != nil {
				return err
			}
			path, n, err := writeExport(store, outDir, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exportado: %d itens -> %s\n", n, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", search.ScopeAll, "column index, column name or \"all\"")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	return cmd
}

func queryArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

// runSearch runs query against store, leaving the result as the store's view.
func runSearch(store *table.Store, maxRows int, query, column string) (search.RenderPlan, error) {
	scope, err := scopeFor(store, column)
	if err != nil {
		return search.RenderPlan{}, err
	}
	return search.NewEngine(store, maxRows, nil).Search(search.NewQuery(query, scope)), nil
}

// writeExport saves the store's current view into dir and returns the path
// and row count.
func writeExport(store *table.Store, dir string, now time.Time) (string, int, error) {
	ds := store.Dataset()
	view := store.View()
	if ds == nil || len(view) == 0 {
		return "", 0, export.ErrNothingToExport
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, export.FileName(ds.Source(), now))
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create export file: %w", err)
	}
	if err := export.Workbook(f, ds.Columns(), view); err != nil {
		f.Close()
		os.Remove(path)
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		return "", 0, err
	}
	return path, len(view), nil
}
