package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/xrpl-payroll/payrolld/internal/clock"
	"github.com/xrpl-payroll/payrolld/internal/config"
	"github.com/xrpl-payroll/payrolld/internal/ledger"
	"github.com/xrpl-payroll/payrolld/internal/lifecycle"
	"github.com/xrpl-payroll/payrolld/internal/reconciler"
	"github.com/xrpl-payroll/payrolld/internal/resolver"
	"github.com/xrpl-payroll/payrolld/internal/server"
	"github.com/xrpl-payroll/payrolld/internal/store/postgres"
	"github.com/xrpl-payroll/payrolld/internal/tracker"
	"github.com/xrpl-payroll/payrolld/internal/wallet"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the payroll engine HTTP API and reconcile daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE // serve is the default command
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
	log.Printf("connected to %s (%s)", cfg.EndpointURL(), cfg.Network)

	gateway, err := wallet.NewGateway(&wallet.StaticProvider{
		Tag:     wallet.Provider(cfg.WalletProvider),
		Network: cfg.NetworkTag(),
	}, cfg.GatewayDeadline())
	if err != nil {
		return err
	}

	clk := clock.System{}
	trk := tracker.New(st, clk, decimal.NewFromInt(int64(cfg.MaxDailyHoursPerChannel)))
	controller := lifecycle.New(lifecycle.Params{
		Store:              st,
		Ledger:             client,
		Signer:             gateway,
		Resolver:           resolver.New(client, cfg.ResolverSchedule()),
		Validator:          lifecycle.NewValidator(client),
		Tracker:            trk,
		Clock:              clk,
		Network:            cfg.NetworkTag(),
		DefaultSettleDelay: cfg.ChannelDefaultSettleDelaySeconds,
		DefaultCancelAfter: cfg.DefaultCancelAfter(),
	})
	rec := reconciler.New(st, client, clk, cfg.ReconcileMinInterval(), cfg.ReconcileParallelism)

	go rec.Run(ctx, cfg.ReconcileDaemonInterval())

	srv := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           server.New(st, controller, trk, rec),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPListenAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
