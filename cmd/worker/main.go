package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/events"
	"github.com/services-marketplace/backend/internal/payment"
	"github.com/services-marketplace/backend/internal/repositories"
	"github.com/services-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	userRepo := repositories.NewUserRepo(pool)
	bookingRepo := repositories.NewBookingRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	bus := events.NewRedisBus(rdb, log)
	gateway := payment.NewHMACGateway(cfg.GatewayBaseURL, cfg.GatewayMerchantCode, cfg.GatewayHashSecret, cfg.GatewayReturnURL)
	escrowService := services.NewEscrowService(pool, escrowRepo, bookingRepo, walletRepo, auditRepo, bus, cfg, log)
	bookingService := services.NewBookingService(pool, bookingRepo, walletRepo, userRepo, auditRepo, escrowService, bus, cfg, log)
	walletService := services.NewWalletService(pool, walletRepo, userRepo, auditRepo, gateway, bus, cfg, log)

	log.Info("worker started")

	// Run jobs on tickers
	bookingTicker := time.NewTicker(1 * time.Minute)
	escrowTicker := time.NewTicker(2 * time.Minute)
	depositTicker := time.NewTicker(5 * time.Minute)
	defer bookingTicker.Stop()
	defer escrowTicker.Stop()
	defer depositTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-bookingTicker.C:
			bookingService.AutoCancelStalePending(ctx)
			bookingService.AutoCompleteOverdue(ctx)
		case <-escrowTicker.C:
			escrowService.ReleaseDue(ctx)
			escrowService.RefundExpired(ctx)
		case <-depositTicker.C:
			walletService.ExpireStalePendingDeposits(ctx)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
