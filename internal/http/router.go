package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/config"
	"github.com/services-marketplace/backend/internal/http/handlers"
	"github.com/services-marketplace/backend/internal/middleware"
)

type RouterDeps struct {
	Cfg            *config.Config
	Log            *zap.Logger
	Redis          *redis.Client
	BookingHandler *handlers.BookingHandler
	WalletHandler  *handlers.WalletHandler
	WSHub          *handlers.WSHub
}

func SetupRouter(app *fiber.App, d RouterDeps) {
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(d.Log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(d.Redis, d.Cfg.RateLimitPerMinute, time.Minute))
	api.Use(middleware.AuthMiddleware(d.Cfg.JWTSecret))

	bookings := api.Group("/bookings")
	bookings.Post("/", d.BookingHandler.Create)
	bookings.Get("/", d.BookingHandler.List)
	bookings.Get("/:id", d.BookingHandler.Get)
	bookings.Patch("/:id/status", d.BookingHandler.UpdateStatus)
	bookings.Post("/:id/cancel", d.BookingHandler.Cancel)
	bookings.Post("/:id/reschedule", d.BookingHandler.Reschedule)

	wallet := api.Group("/wallet")
	wallet.Post("/deposit", d.WalletHandler.CreateDeposit)
	wallet.Get("/deposit/callback", d.WalletHandler.DepositCallback)
	wallet.Get("/balance", d.WalletHandler.GetBalance)
	wallet.Post("/withdraw", d.WalletHandler.Withdraw)
	wallet.Get("/transactions", d.WalletHandler.ListTransactions)

	app.Use("/ws", d.WSHub.Upgrade)
	app.Get("/ws", d.WSHub.Handler())
}
