package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FastyBird/sonoff-connector-sub001/internal/connector"
)

var errDiscoveryFailed = errors.New("discovery failed")

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "sonoff-connector",
		Short:         "Sonoff (eWeLink) devices connector",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"path to the configuration file (default $SONOFF_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(newExecuteCmd(flags))
	cmd.AddCommand(newDiscoverCmd(flags))

	return cmd
}

func newExecuteCmd(root *rootFlags) *cobra.Command {
	var standalone bool

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run the connector until interrupted",
		Long: `Run the connector until interrupted.

In daemon mode pending writes are picked up from state events. With
--standalone the writer configured under writer.kind is used instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExecute(cmd.Context(), getConfigPath(root.configPath), standalone)
		},
	}
	cmd.Flags().BoolVar(&standalone, "standalone", false, "run with the configured writer instead of the event writer")

	return cmd
}

func newDiscoverCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Discover devices of the eWeLink account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := runDiscover(cmd.Context(), getConfigPath(root.configPath))
			if err != nil {
				if errors.Is(err, connector.ErrNoCloud) {
					return fmt.Errorf("%w: cloud credentials are not configured", errDiscoveryFailed)
				}
				return fmt.Errorf("%w: %w", errDiscoveryFailed, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d device(s)\n", found)
			return nil
		},
	}
}
