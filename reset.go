package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the local task cache; the next sync fetches everything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := resetCache(cmd.Context(), cc); err != nil {
				return err
			}

			cc.Statusf("Local task cache cleared.\n")

			return nil
		},
	}
}

// resetCache clears every cached task and the watermark.
func resetCache(ctx context.Context, cc *CLIContext) error {
	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.Reset(ctx)
}
