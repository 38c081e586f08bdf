package services

import (
	"errors"
	"fmt"

	"github.com/sky940714/shophub/internal/models"
)

var (
	ErrValidation        = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyCreated    = fmt.Errorf("%w: shipment already created", ErrConflict)
	ErrInvalidState      = errors.New("invalid order status")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrGateway           = errors.New("gateway request failed")
	ErrIntegrity         = errors.New("integrity check failed")
)

// ValidationError is a user-correctable input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InsufficientStockError names the line item that could not be reserved.
type InsufficientStockError struct {
	Item      models.ItemRef
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.Item.String()
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// GatewayError is an outbound gateway failure. Raw keeps the gateway's
// response body untouched.
type GatewayError struct {
	Category  string
	Message   string
	Detail    string
	Raw       string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("gateway %s: %s (%s)", e.Category, e.Message, e.Detail)
	}
	return fmt.Sprintf("gateway %s: %s", e.Category, e.Message)
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
