package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailgraph/internal/logging"
	"github.com/teemow/mailgraph/internal/tokenstore"
)

func newSweepCmd() *cobra.Command {
	var storage StorageConfig

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired credentials from the token store",
		Long: `Run a single sweep against the configured token store, deleting every
credential whose access token has expired, then exit. Useful as a cron job
when the server runs with --sweep-interval=0.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loadStorageEnvVars(cmd, &storage)

			storeCfg, err := storage.tokenStoreConfig(nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := tokenstore.Open(ctx, storeCfg)
			if err != nil {
				return fmt.Errorf("failed to open token store: %w", err)
			}
			defer store.Close()

			removed, err := tokenstore.Sweep(ctx, store, time.Now(), logging.NewSlogAdapter(slog.Default()))
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired credential(s) from %s store\n", removed, store.Backend())
			return nil
		},
	}

	addStorageFlags(cmd, &storage)
	return cmd
}
