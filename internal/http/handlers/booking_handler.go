package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/services-marketplace/backend/internal/apperr"
	"github.com/services-marketplace/backend/internal/http/dto"
	"github.com/services-marketplace/backend/internal/middleware"
	"github.com/services-marketplace/backend/internal/models"
	"github.com/services-marketplace/backend/internal/repositories"
	"github.com/services-marketplace/backend/internal/services"
)

type BookingHandler struct {
	bookingSvc *services.BookingService
	log        *zap.Logger
}

func NewBookingHandler(bookingSvc *services.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{bookingSvc: bookingSvc, log: log}
}

// POST /api/v1/bookings
func (h *BookingHandler) Create(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	var req dto.CreateBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}
	if req.WorkerServiceID == uuid.Nil {
		return dto.Fail(c, apperr.Validation("worker_service_id is required"))
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return dto.Fail(c, apperr.Validation("start_time and end_time are required"))
	}

	booking, err := h.bookingSvc.CreateBooking(c.Context(), services.CreateBookingInput{
		ClientID:        userID,
		WorkerServiceID: req.WorkerServiceID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Quantity:        req.Quantity,
		Note:            req.Note,
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal {
			h.log.Error("booking creation failed", zap.Error(err))
		}
		return dto.Fail(c, err)
	}

	return dto.Created(c, booking)
}

// GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return dto.Fail(c, apperr.Validation("invalid booking id"))
	}

	booking, err := h.bookingSvc.GetBooking(c.Context(), id, userID)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.OK(c, booking)
}

// GET /api/v1/bookings?role=client|worker&status=&limit=&offset=
func (h *BookingHandler) List(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	filter := repositories.BookingFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	switch c.Query("role", models.RoleClient) {
	case models.RoleWorker:
		filter.WorkerID = &userID
	default:
		filter.ClientID = &userID
	}
	if status := c.Query("status"); status != "" {
		filter.Status = &status
	}

	bookings, err := h.bookingSvc.ListBookings(c.Context(), filter)
	if err != nil {
		h.log.Error("booking list failed", zap.Error(err))
		return dto.Fail(c, err)
	}
	if bookings == nil {
		bookings = []models.BookingWithNames{}
	}
	return dto.OK(c, fiber.Map{"bookings": bookings})
}

// PATCH /api/v1/bookings/:id/status
func (h *BookingHandler) UpdateStatus(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return dto.Fail(c, apperr.Validation("invalid booking id"))
	}

	var req dto.UpdateBookingStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}
	if req.Status == "" {
		return dto.Fail(c, apperr.Validation("status is required"))
	}

	booking, err := h.bookingSvc.UpdateStatus(c.Context(), id, req.Status, userID)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.OK(c, booking)
}

// POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return dto.Fail(c, apperr.Validation("invalid booking id"))
	}

	var req dto.CancelBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}

	booking, err := h.bookingSvc.CancelBooking(c.Context(), id, userID, req.Reason)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.OK(c, booking)
}

// POST /api/v1/bookings/:id/reschedule
func (h *BookingHandler) Reschedule(c *fiber.Ctx) error {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return dto.Fail(c, apperr.Forbidden("not authenticated"))
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return dto.Fail(c, apperr.Validation("invalid booking id"))
	}

	var req dto.RescheduleBookingRequest
	if err := c.BodyParser(&req); err != nil {
		return dto.Fail(c, apperr.Validation("invalid request body"))
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		return dto.Fail(c, apperr.Validation("start_time and end_time are required"))
	}

	booking, err := h.bookingSvc.RescheduleBooking(c.Context(), id, userID, req.StartTime, req.EndTime)
	if err != nil {
		return dto.Fail(c, err)
	}
	return dto.OK(c, booking)
}
