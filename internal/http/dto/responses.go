package dto

import (
	"github.com/gofiber/fiber/v2"

	"github.com/services-marketplace/backend/internal/apperr"
)

type ErrorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

// httpStatus maps an application error code to the HTTP status used at the
// edge.
func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return fiber.StatusBadRequest
	case apperr.CodeNotFound:
		return fiber.StatusNotFound
	case apperr.CodeConflict, apperr.CodeStateConflict:
		return fiber.StatusConflict
	case apperr.CodeForbidden:
		return fiber.StatusForbidden
	case apperr.CodeGatewayFailure:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// Fail writes the standard error envelope for err.
func Fail(c *fiber.Ctx, err error) error {
	code := apperr.CodeOf(err)
	return c.Status(httpStatus(code)).JSON(ErrorResponse{
		Error: apperr.MessageOf(err),
		Code:  code,
	})
}

// OK writes payload with 200.
func OK(c *fiber.Ctx, payload any) error {
	return c.JSON(payload)
}

// Created writes payload with 201.
func Created(c *fiber.Ctx, payload any) error {
	return c.Status(fiber.StatusCreated).JSON(payload)
}
