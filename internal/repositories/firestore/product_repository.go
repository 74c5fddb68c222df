package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

type ProductRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{products: pfirestore.NewCollection[productDocument](provider, productsCollection)}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Product{}, &repositories.LedgerError{
				Op:        "products.get",
				Code:      repositories.LedgerErrorProductNotFound,
				Message:   fmt.Sprintf("product %s not found", productID),
				ProductID: productID,
				Err:       err,
			}
		}
		return domain.Product{}, wrapLedgerError("products.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	var products []domain.Product
	err := r.products.Each(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerId", "==", sellerID)
	}, func(doc pfirestore.Document[productDocument]) error {
		products = append(products, doc.Data.toDomain(doc.ID))
		return nil
	})
	if err != nil {
		return nil, wrapLedgerError("products.list_by_seller", err)
	}
	return products, nil
}

func (r *ProductRepository) Scan(ctx context.Context, fn func(domain.Product) error) error {
	err := r.products.Each(ctx, nil, func(doc pfirestore.Document[productDocument]) error {
		return fn(doc.Data.toDomain(doc.ID))
	})
	return wrapLedgerError("products.scan", err)
}
