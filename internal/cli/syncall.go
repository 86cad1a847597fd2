package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xrpl-payroll/payrolld/internal/clock"
	"github.com/xrpl-payroll/payrolld/internal/config"
	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/reconciler"
	"github.com/xrpl-payroll/payrolld/internal/store/postgres"
)

var syncAllCmd = &cobra.Command{
	Use:   "sync-all <escrow-wallet>",
	Short: "Reconcile every channel of an organization against the ledger once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := ledger.Dial(cfg.EndpointURL(), cfg.LedgerTimeout())
		if err != nil {
			return err
		}
		defer client.Close()

		rec := reconciler.New(st, client, clock.System{}, cfg.ReconcileMinInterval(), cfg.ReconcileParallelism)
		report, err := rec.SyncOrganization(ctx, args[0])
		if err != nil {
			return err
		}

		synced, imported, skipped, failed := report.Counts()
		fmt.Printf("synced %d, imported %d, skipped %d, failed %d\n", synced, imported, skipped, failed)
		for _, o := range report.Outcomes {
			if o.Err != nil {
				fmt.Printf("  %s: %v\n", o.ChannelID, o.Err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d channel(s) failed to sync", failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncAllCmd)
}
