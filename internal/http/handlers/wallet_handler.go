package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/apperr"
	"github.com/services-marketplace/backend/internal/http/dto"
	"github.com/services-marketplace/backend/internal/middleware"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/services"
)

type WalletHandler struct {
	walletSvc *services.WalletService
	log       *zap.Logger
}

func NewWalletHandler(walletSvc *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, log: log}
}

// POST /api/v1/wallet/deposit
func (h *WalletHandler) CreateDeposit(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	var req dto.CreateDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}

	result, err := h.walletSvc.CreateDeposit(c.Context(), userID, req.Amount, c.IP())
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.Created(c, result)
}

// GET /api/v1/wallet/deposit/callback
//
// The gateway redirects the user back here with signed query parameters.
func (h *WalletHandler) DepositCallback(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	params := make(map[string]string)
	c.Context().QueryArgs().VisitAll(func(key, value []byte) {
		params[string(key)] = string(value)
	})

	if err := h.walletSvc.ConfirmDepositCallback(c.Context(), userID, params); err != nil {
		if apperr.CodeOf(err) == apperr.CodeGatewayFailure {
			h.log.Warn("deposit callback rejected", zap.Error(err))
		}
		return dto.Fail(c, err)
	}
	return dto.OK(c, fiber.Map{"status": "confirmed"})
}

// GET /api/v1/wallet/balance
func (h *WalletHandler) GetBalance(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	balance, err := h.walletSvc.GetBalance(c.Context(), userID)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.OK(c, fiber.Map{"balance": balance})
}

// POST /api/v1/wallet/withdraw
func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}

	tx, err := h.walletSvc.RequestWithdraw(c.Context(), userID, req.Amount)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.Created(c, tx)
}

// GET /api/v1/wallet/transactions?limit=&offset=
func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	txs, err := h.walletSvc.ListTransactions(c.Context(), userID, c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		h.log.Error("transaction list failed", zap.Error(err))
		return dto.Fail(c, err)
	}
	if txs == nil {
		txs = []models.WalletTransaction{}
	}
	return dto.OK(c, fiber.Map{"transactions": txs})
}
