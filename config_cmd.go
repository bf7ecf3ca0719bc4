package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/firefly-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, cc.Cfg)
			}

			return config.RenderEffective(cc.Cfg, cc.Stdout)
		},
	})

	return cmd
}
