// Package cli implements the ewmsearch command line: the HTTP server plus
// terminal versions of search, export and the offline cache tools.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ewmsearch/internal/config"
	"ewmsearch/internal/logging"
	"ewmsearch/internal/preload"
	"ewmsearch/internal/search"
	"ewmsearch/internal/table"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./data/config.yaml"

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "ewmsearch",
		Short:         "Search, export and requisition tool for EWM spreadsheets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "configuration file")

	cfg := func() (*config.ConfigManager, error) {
		cm := config.NewConfigManager(configPath)
		if err := cm.Load(); err != nil {
			return nil, err
		}
		return cm, nil
	}

	root.AddCommand(
		serveCommand(cfg),
		searchCommand(),
		exportCommand(),
		browseCommand(),
		cacheCommand(cfg),
		configCommand(cfg),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version).ExecuteContext(ctx)
}

type configLoader func() (*config.ConfigManager, error)

// openFile loads a spreadsheet or JSON records file into a fresh, unpersisted
// store for the terminal commands.
func openFile(ctx context.Context, path string, logger *zap.Logger) (*table.Store, error) {
	store := table.NewStore(nil, logger)
	loader := preload.NewLoader(path, filepath.Base(path), store, logger)
	if _, err := loader.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// terminalLogger only reports warnings so command output stays readable.
func terminalLogger() *zap.Logger {
	logger, err := logging.New(config.LoggingConfig{Level: "warn", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func scopeFor(store *table.Store, column string) (search.Scope, error) {
	ds := store.Dataset()
	if ds == nil {
		return search.AllColumns(), nil
	}
	s, err := search.ParseScope(column, ds.Schema())
	if err != nil {
		return search.Scope{}, fmt.Errorf("%w: %q (columns: %v)", err, column, ds.Columns())
	}
	return s, nil
}
