package repositories

import (
	"errors"
	"fmt"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

// LedgerErrorCode enumerates failure reasons raised while reading or mutating the stock ledger.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorProductNotFound indicates a product document is missing.
	LedgerErrorProductNotFound LedgerErrorCode = "product_not_found"
	// LedgerErrorOrderNotFound indicates an order document is missing.
	LedgerErrorOrderNotFound LedgerErrorCode = "order_not_found"
	// LedgerErrorSellerNotFound indicates a seller document is missing.
	LedgerErrorSellerNotFound LedgerErrorCode = "seller_not_found"
	// LedgerErrorInsufficientStock indicates available stock cannot cover a reservation.
	LedgerErrorInsufficientStock LedgerErrorCode = "insufficient_stock"
	// LedgerErrorInconsistentState indicates a release or finalize would drive reservedStock negative.
	LedgerErrorInconsistentState LedgerErrorCode = "inconsistent_ledger_state"
	// LedgerErrorConflict indicates a write collided with an existing document.
	LedgerErrorConflict LedgerErrorCode = "conflict"
	// LedgerErrorUnavailable indicates the backend could not be reached.
	LedgerErrorUnavailable LedgerErrorCode = "unavailable"
)

// ErrReadAfterWrite is returned when a ledger transaction reads after its first write.
var ErrReadAfterWrite = errors.New("ledger tx: reads must precede writes")

// LedgerError wraps ledger failures with machine readable codes. Stock failures carry the
// product and quantities involved so callers can report them.
type LedgerError struct {
	Op        string
	Code      LedgerErrorCode
	Message   string
	ProductID string
	Requested int
	Available int
	Err       error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LedgerError) IsNotFound() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case LedgerErrorProductNotFound, LedgerErrorOrderNotFound, LedgerErrorSellerNotFound:
		return true
	}
	return false
}

func (e *LedgerError) IsConflict() bool {
	return e != nil && e.Code == LedgerErrorConflict
}

func (e *LedgerError) IsUnavailable() bool {
	return e != nil && e.Code == LedgerErrorUnavailable
}

var _ RepositoryError = (*LedgerError)(nil)

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{Code: code, Message: message, Err: err}
}

// AsLedgerError unwraps err into a *LedgerError when possible.
func AsLedgerError(err error) (*LedgerError, bool) {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr != nil {
		return ledgerErr, true
	}
	return nil, false
}

// ReserveUnits moves qty units from available stock into reservedStock.
func ReserveUnits(product *domain.Product, qty int) error {
	if err := checkQuantity("reserve", product, qty); err != nil {
		return err
	}
	if product.Stock < qty {
		return &LedgerError{
			Op:        "reserve",
			Code:      LedgerErrorInsufficientStock,
			Message:   fmt.Sprintf("product %s has %d available, %d requested", product.ID, product.Stock, qty),
			ProductID: product.ID,
			Requested: qty,
			Available: product.Stock,
		}
	}
	product.Stock -= qty
	product.ReservedStock += qty
	return nil
}

// ReleaseUnits returns qty reserved units to available stock.
func ReleaseUnits(product *domain.Product, qty int) error {
	if err := checkQuantity("release", product, qty); err != nil {
		return err
	}
	if product.ReservedStock < qty {
		return inconsistentReservation("release", product, qty)
	}
	product.ReservedStock -= qty
	product.Stock += qty
	return nil
}

// FinalizeUnits turns qty reserved units into sold units.
func FinalizeUnits(product *domain.Product, qty int) error {
	if err := checkQuantity("finalize", product, qty); err != nil {
		return err
	}
	if product.ReservedStock < qty {
		return inconsistentReservation("finalize", product, qty)
	}
	product.ReservedStock -= qty
	product.SoldCount += qty
	return nil
}

func checkQuantity(op string, product *domain.Product, qty int) error {
	if product == nil {
		return &LedgerError{Op: op, Code: LedgerErrorProductNotFound, Message: "product is required"}
	}
	if qty <= 0 {
		return &LedgerError{
			Op:        op,
			Code:      LedgerErrorUnknown,
			Message:   fmt.Sprintf("quantity for product %s must be positive", product.ID),
			ProductID: product.ID,
			Requested: qty,
		}
	}
	return nil
}

func inconsistentReservation(op string, product *domain.Product, qty int) *LedgerError {
	return &LedgerError{
		Op:        op,
		Code:      LedgerErrorInconsistentState,
		Message:   fmt.Sprintf("product %s has %d reserved, cannot %s %d", product.ID, product.ReservedStock, op, qty),
		ProductID: product.ID,
		Requested: qty,
		Available: product.ReservedStock,
	}
}
