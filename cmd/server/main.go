package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger/internal/config"
	"ledger/internal/db"
	"ledger/internal/handlers"
	"ledger/internal/logger"
	"ledger/internal/scheduler"
	"ledger/internal/services"
	"ledger/internal/store"
	"ledger/internal/wallet"
	"ledger/internal/websocket"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(logger.Config(cfg.Log))

	database, err := db.Connect(cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	transactions := store.NewTransactionStore(database)
	balanceStore := store.NewBalanceStore(database)
	bets := store.NewBetStore(database)
	games := store.NewGameStore(database)
	cancellations := store.NewCancellationStore(database)
	redemptions := store.NewRedemptionStore(database)
	affiliates := store.NewAffiliateStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database)
	wallets := wallet.New(rdb, cfg.WalletReferenceTTL)
	hub := websocket.NewHub()

	engine := services.NewCommissionEngine(affiliates, cfg.Commission, log)
	dispatcher := services.NewCommissionDispatcher(engine, cfg.Commission.Workers, cfg.Commission.QueueSize, log)
	dispatcher.Start()

	balances := services.NewBalanceCalculator(txRunner, balanceStore, transactions, cfg.Currency)
	settlement := services.NewSettlementService(txRunner, balances, bets, games, wallets, hub, dispatcher, log)
	cancellation := services.NewCancellationService(txRunner, balances, transactions, bets, cancellations, affiliates, audit, wallets, hub, log)
	redemption := services.NewRedemptionService(txRunner, balances, redemptions, audit, hub, cfg.Redemption, log)
	funds := services.NewFundsService(txRunner, balances, wallets, hub, log)
	reconciler := services.NewReconciler(transactions, wallets, balanceStore, log)

	jobs := scheduler.New(log, cfg.Schedule.JobTimeout)
	if err := jobs.Add("redemption-sweep", cfg.Schedule.Sweep, func(ctx context.Context) error {
		result, err := redemption.SweepLockedReleases(ctx)
		if err == nil && result.Failed > 0 {
			log.Warn().Int("failed", result.Failed).Msg("some locked releases failed")
		}
		return err
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule sweep")
	}
	if err := jobs.Add("wallet-reconcile", cfg.Schedule.Reconcile, func(ctx context.Context) error {
		_, err := reconciler.ReconcileCategoryWallets(ctx)
		return err
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule reconciliation")
	}
	jobs.Start()

	handler := handlers.New(cfg, handlers.Deps{
		DB:            database,
		Balances:      balances,
		Wallets:       wallets,
		Transactions:  transactions,
		Bets:          bets,
		Settlement:    settlement,
		Cancellations: cancellation,
		Funds:         funds,
		Redemptions:   redemption,
		RedemptionLog: redemptions,
		Commissions:   affiliates,
		Reconciler:    reconciler,
		Admin:         admin,
		Audit:         audit,
		Hub:           hub,
	}, log)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("ledger API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := jobs.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	// Settlements have stopped, so the queue only drains from here.
	if err := dispatcher.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("commission dispatcher shutdown")
	}
	log.Info().Msg("stopped")
}
