package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

type SellerRepository struct {
	provider *pfirestore.Provider
	sellers  *pfirestore.Collection[sellerDocument]
}

var _ repositories.SellerRepository = (*SellerRepository)(nil)

func NewSellerRepository(provider *pfirestore.Provider) (*SellerRepository, error) {
	if provider == nil {
		return nil, errors.New("seller repository requires firestore provider")
	}
	return &SellerRepository{
		provider: provider,
		sellers:  pfirestore.NewCollection[sellerDocument](provider, sellersCollection),
	}, nil
}

func (r *SellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	doc, err := r.sellers.Get(ctx, sellerID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Seller{}, sellerNotFound(sellerID, err)
		}
		return domain.Seller{}, wrapLedgerError("sellers.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *SellerRepository) Scan(ctx context.Context, fn func(domain.Seller) error) error {
	err := r.sellers.Each(ctx, nil, func(doc pfirestore.Document[sellerDocument]) error {
		return fn(doc.Data.toDomain(doc.ID))
	})
	return wrapLedgerError("sellers.scan", err)
}

// ApplyMetrics overwrites the aggregate fields in a transaction so it serialises with any other
// transactional writer of the seller document. Profile fields are left untouched.
func (r *SellerRepository) ApplyMetrics(ctx context.Context, sellerID string, metrics repositories.SellerMetrics, syncedAt time.Time) (domain.Seller, error) {
	syncedAt = syncedAt.UTC()
	var updated domain.Seller
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.sellers.Doc(ctx, sellerID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return sellerNotFound(sellerID, err)
			}
			return err
		}
		doc, err := r.sellers.Decode(snap)
		if err != nil {
			return err
		}
		doc.Data.TotalSales = metrics.TotalSales
		doc.Data.TotalRevenue = money.ToFloat(metrics.TotalRevenueMinor)
		doc.Data.TotalRevenueMinor = minorPtr(metrics.TotalRevenueMinor)
		doc.Data.TotalProducts = metrics.TotalProducts
		doc.Data.LastMetricsSync = &syncedAt
		doc.Data.UpdatedAt = syncedAt
		updated = doc.Data.toDomain(doc.ID)

		return tx.Update(ref, []firestore.Update{
			{Path: "totalSales", Value: doc.Data.TotalSales},
			{Path: "totalRevenue", Value: doc.Data.TotalRevenue},
			{Path: "totalRevenueMinor", Value: metrics.TotalRevenueMinor},
			{Path: "totalProducts", Value: doc.Data.TotalProducts},
			{Path: "lastMetricsSync", Value: syncedAt},
			{Path: "updatedAt", Value: syncedAt},
		})
	})
	if err != nil {
		return domain.Seller{}, wrapLedgerError("sellers.apply_metrics", err)
	}
	return updated, nil
}

func sellerNotFound(sellerID string, err error) *repositories.LedgerError {
	return repositories.NewLedgerError(repositories.LedgerErrorSellerNotFound, fmt.Sprintf("seller %s not found", sellerID), err)
}
