package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/db"
	"github.com/services-marketplace/backend/internal/events"
	apphttp "github.com/services-marketplace/backend/internal/http"
	"github.com/services-marketplace/backend/internal/http/handlers"
	"github.com/services-marketplace/backend/internal/payment"
	"github.com/services-marketplace/backend/internal/repositories"
	"github.com/services-marketplace/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	bookingRepo := repositories.NewBookingRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	bus := events.NewRedisBus(rdb, log)

	// Gateway
	gateway := payment.NewHMACGateway(cfg.GatewayBaseURL, cfg.GatewayMerchantCode, cfg.GatewayHashSecret, cfg.GatewayReturnURL)

	// Services
	escrowService := services.NewEscrowService(pool, escrowRepo, bookingRepo, walletRepo, auditRepo, bus, cfg, log)
	bookingService := services.NewBookingService(pool, bookingRepo, walletRepo, userRepo, auditRepo, escrowService, bus, cfg, log)
	walletService := services.NewWalletService(pool, walletRepo, userRepo, auditRepo, gateway, bus, cfg, log)

	// Handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, log)
	walletHandler := handlers.NewWalletHandler(walletService, log)
	wsHub := handlers.NewWSHub(bus, cfg.JWTSecret, log)

	if err := wsHub.Run(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, apphttp.RouterDeps{
		Cfg:            cfg,
		Log:            log,
		Redis:          rdb,
		BookingHandler: bookingHandler,
		WalletHandler:  walletHandler,
		WSHub:          wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
