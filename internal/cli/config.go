package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cm.Get()); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	set := &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Update dotted keys such as search.max_rows=300",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cm, err := load()
			if err != nil {
				return err
			}
			updates := make(map[string]any, len(args))
			for _, a := range args {
				k, v, ok := strings.Cut(a, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return fmt.Errorf("expected key=value, got %q", a)
				}
				updates[strings.TrimSpace(k)] = v
			}
			if err := cm.Update(updates); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", cm.Path())
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
