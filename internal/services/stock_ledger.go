package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

var tracer = otel.Tracer("github.com/add-to-Cart/porma-marketplace/internal/services")

// StockLedgerDeps bundles the collaborators required by the stock ledger.
type StockLedgerDeps struct {
	Ledger   repositories.LedgerStore
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type stockLedger struct {
	ledger   repositories.LedgerStore
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

func NewStockLedger(deps StockLedgerDeps) (StockLedger, error) {
	if deps.Ledger == nil {
		return nil, errors.New("stock ledger: ledger store is required")
	}
	if deps.Products == nil {
		return nil, errors.New("stock ledger: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &stockLedger{
		ledger:   deps.Ledger,
		products: deps.Products,
		clock:    func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

func (s *stockLedger) CheckAvailability(ctx context.Context, productID string, qty int) (Availability, error) {
	productID = strings.TrimSpace(productID)
	if err := validateLedgerArgs(productID, qty); err != nil {
		return Availability{}, err
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Availability{}, mapLedgerError(err)
	}
	result := Availability{
		ProductID:      productID,
		Requested:      qty,
		Available:      product.Stock >= qty,
		AvailableStock: product.Stock,
	}
	if !result.Available {
		result.Reason = fmt.Sprintf("only %d left in stock", product.Stock)
	}
	return result, nil
}

func (s *stockLedger) Reserve(ctx context.Context, productID string, qty int) (Product, error) {
	return s.apply(ctx, "ledger.reserve", productID, qty, repositories.ReserveUnits)
}

func (s *stockLedger) Release(ctx context.Context, productID string, qty int) (Product, error) {
	return s.apply(ctx, "ledger.release", productID, qty, repositories.ReleaseUnits)
}

func (s *stockLedger) Finalize(ctx context.Context, productID string, qty int) (Product, error) {
	return s.apply(ctx, "ledger.finalize", productID, qty, repositories.FinalizeUnits)
}

func (s *stockLedger) apply(ctx context.Context, op, productID string, qty int, fn func(*domain.Product, int) error) (Product, error) {
	productID = strings.TrimSpace(productID)
	if err := validateLedgerArgs(productID, qty); err != nil {
		return Product{}, err
	}

	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	var updated domain.Product
	err := s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		products, err := tx.GetProducts(ctx, []string{productID})
		if err != nil {
			return err
		}
		product := products[productID]
		if err := fn(&product, qty); err != nil {
			return err
		}
		product.UpdatedAt = s.clock()
		updated = product
		return tx.UpdateProductCounters(product)
	})
	if err != nil {
		endSpan(span, err)
		mapped := mapLedgerError(err)
		if errors.Is(mapped, ErrInconsistentLedgerState) {
			s.logger(ctx, "ledger_inconsistent", map[string]any{"op": op, "productId": productID, "quantity": qty, "error": err.Error()})
		}
		return Product{}, mapped
	}
	return updated, nil
}

func validateLedgerArgs(productID string, qty int) error {
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
