package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ewmsearch/internal/db"
)

func cacheCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline asset cache",
	}

	var activate bool
	install := &cobra.Command{
		Use:   "install",
		Short: "Fetch the asset manifest into the configured cache version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			cfg := cm.Get()
			database, err := db.InitDB(cfg.Data.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			storage := db.NewCacheStorage(database)
			w, err := NewWorker(cfg.Offline, storage, terminalLogger())
			if err != nil {
				return err
			}
			if err := w.Install(cmd.Context()); err != nil {
				return err
			}
			if activate || cfg.Offline.SkipWaiting {
				if err := w.Activate(cmd.Context()); err != nil {
					return err
				}
			}
			n, err := storage.EntryCount(cmd.Context(), w.Version())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d assets (%s)\n", w.Version(), n, w.State())
			return nil
		},
	}
	install.Flags().BoolVar(&activate, "activate", false, "activate even when skip_waiting is off")

	list := &cobra.Command{
		Use:   "list",
		Short: "List cache versions and their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			cfg := cm.Get()
			database, err := db.InitDB(cfg.Data.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			storage := db.NewCacheStorage(database)
			names, err := storage.Keys(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range names {
				n, err := storage.EntryCount(cmd.Context(), name)
				if err != nil {
					return err
				}
				mark := ""
				if name == cfg.Offline.CacheVersion {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s%s\t%d\n", name, mark, n)
			}
			return tw.Flush()
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete every cache version except the configured one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			cfg := cm.Get()
			database, err := db.InitDB(cfg.Data.DBPath)
			if err != nil {
				return err
			}
			defer database.Close()

			storage := db.NewCacheStorage(database)
			names, err := storage.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				if name == cfg.Offline.CacheVersion {
					continue
				}
				if _, err := storage.Delete(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
			}
			return nil
		},
	}

	cmd.AddCommand(install, list, prune)
	return cmd
}
