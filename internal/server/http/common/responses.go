// Package common holds response helpers shared by API handler packages.
package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func ValidationErrorResponse(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, &ErrorResponse{Status: "validation_error", Message: message})
}

func NotFoundResponse(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, &ErrorResponse{Status: "not_found", Message: message})
}

func ConflictResponse(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, &ErrorResponse{Status: "conflict", Message: message})
}

func InternalErrorResponse(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, &ErrorResponse{Status: "internal_error", Message: message})
}
