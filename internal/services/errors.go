package services

import (
	"errors"
	"fmt"

	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller may not act on the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the transition is not legal from the current state.
	ErrOrderInvalidState = errors.New("order: invalid state transition")
	// ErrOrderConflict indicates a duplicate or concurrent write.
	ErrOrderConflict = errors.New("order: conflict")

	// ErrLedgerProductNotFound indicates a referenced product does not exist.
	ErrLedgerProductNotFound = errors.New("ledger: product not found")
	// ErrInsufficientStock indicates available stock cannot cover a request.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInconsistentLedgerState indicates a release or finalize found fewer reserved units than expected.
	ErrInconsistentLedgerState = errors.New("ledger: inconsistent ledger state")

	// ErrMetricsInvalidInput signals an invalid reconciler argument.
	ErrMetricsInvalidInput = errors.New("metrics: invalid input")
	// ErrMetricsSellerNotFound indicates the seller document does not exist.
	ErrMetricsSellerNotFound = errors.New("metrics: seller not found")
)

// InsufficientStockError carries the shortfall so clients can adjust the quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s has %d available, %d requested", ErrInsufficientStock, e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// mapLedgerError translates repository ledger codes into service sentinels.
func mapLedgerError(err error) error {
	if err == nil {
		return nil
	}
	ledgerErr, ok := repositories.AsLedgerError(err)
	if !ok {
		return err
	}
	switch ledgerErr.Code {
	case repositories.LedgerErrorProductNotFound:
		return fmt.Errorf("%w: %s", ErrLedgerProductNotFound, ledgerErr.Message)
	case repositories.LedgerErrorOrderNotFound:
		return fmt.Errorf("%w: %s", ErrOrderNotFound, ledgerErr.Message)
	case repositories.LedgerErrorSellerNotFound:
		return fmt.Errorf("%w: %s", ErrMetricsSellerNotFound, ledgerErr.Message)
	case repositories.LedgerErrorInsufficientStock:
		return &InsufficientStockError{ProductID: ledgerErr.ProductID, Requested: ledgerErr.Requested, Available: ledgerErr.Available}
	case repositories.LedgerErrorInconsistentState:
		return fmt.Errorf("%w: %s", ErrInconsistentLedgerState, ledgerErr.Message)
	case repositories.LedgerErrorConflict:
		return fmt.Errorf("%w: %s", ErrOrderConflict, ledgerErr.Message)
	case repositories.LedgerErrorUnavailable:
		return fmt.Errorf("ledger: store unavailable: %w", err)
	}
	return err
}
