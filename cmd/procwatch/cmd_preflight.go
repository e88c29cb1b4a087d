package main

import (
	"github.com/spf13/cobra"

	"github.com/randomizedcoder/procwatch/internal/config"
	"github.com/randomizedcoder/procwatch/internal/preflight"
)

func preflightCmd(configPath *string) *cobra.Command {
	var flags *config.Flags

	cmd := &cobra.Command{
		Use:   "preflight [flags] [--] command [args...]",
		Short: "Check that this host can supervise the command",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := flags.Apply(cfg, args); err != nil {
				return err
			}

			result := preflight.RunAll(preflightOptions(cfg))
			preflight.PrintResults(cmd.OutOrStdout(), result)
			if !result.Passed {
				return &exitError{code: exitFailure}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	flags = config.BindFlags(cmd.Flags())
	return cmd
}
