package service

import (
	"errors"
	"fmt"
	"time"
)

// Validation and lookup errors. Capacity shortfalls are not errors; they are
// reported through Allocation, CreateOrderResponse and ResolveResult.
var (
	ErrProductNotFound     = errors.New("product not found")
	ErrProductInactive     = errors.New("product is not available for rent")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidWindow       = errors.New("rental window must end after it starts")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrInvalidAction       = errors.New("action must be accept or decline")
	ErrNoLines             = errors.New("order must contain at least one line")
	ErrInvalidProduct      = errors.New("invalid product attributes")
	ErrMissingContact      = errors.New("customer name and phone are required")
	ErrInvalidStatus       = errors.New("unknown order status")
)

// ValidationError ties a validation failure to the offending order line
type ValidationError struct {
	Line      int
	ProductID int64
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d (product %d): %v", e.Line, e.ProductID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err was caused by bad caller input
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, target := range []error{ErrInvalidWindow, ErrInvalidQuantity, ErrInvalidAction, ErrNoLines, ErrInvalidProduct, ErrProductInactive, ErrMissingContact, ErrInvalidStatus} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err refers to a missing product, order or reservation
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrReservationNotFound)
}

// Shortage describes a line that the unit pool cannot satisfy
type Shortage struct {
	ProductID int64     `json:"product_id"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Total     int       `json:"total"`
}

func (s *Shortage) String() string {
	return fmt.Sprintf("product %d: requested %d, available %d of %d", s.ProductID, s.Requested, s.Available, s.Total)
}

// errShortage aborts a transaction whose allocation came up short
var errShortage = errors.New("insufficient capacity")

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !start.Before(end) {
		return ErrInvalidWindow
	}
	return nil
}
