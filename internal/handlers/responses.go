package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/relay/internal/domain"
	"github.com/nfrund/relay/internal/middleware"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// RespondError writes err as an ErrorResponse with the matching status.
// Persistence and unknown failures are logged and reported without detail.
func RespondError(c echo.Context, err error) error {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeValidation, Message: ve.Message, Field: ve.Field})
	}

	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: nf.Error()})
	}

	if errors.Is(err, domain.ErrConflict) {
		return c.JSON(http.StatusConflict, ErrorResponse{Code: CodeConflict, Message: err.Error()})
	}

	middleware.FromContext(c.Request().Context()).Error("Request failed",
		"method", c.Request().Method, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "internal server error"})
}

// BadRequest reports a malformed request body.
func BadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeValidation, Message: message})
}
