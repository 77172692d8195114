package handlers

import (
	"github.com/nfrund/relay/internal/domain"
)

// CustomValidator adapts domain.ValidateStruct to Echo's Validator interface.
type CustomValidator struct{}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return domain.ValidateStruct(i)
}
