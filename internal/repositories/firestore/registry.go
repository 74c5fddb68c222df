package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// RegistryOption customises the Firestore registry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	checks     []repositories.DependencyCheck
	healthOpts []repositories.DependencyHealthOption
}

// WithDependencyChecks adds readiness probes for collaborators outside Firestore.
func WithDependencyChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.checks = append(cfg.checks, checks...)
	}
}

// WithHealthOptions forwards options to the dependency health repository.
func WithHealthOptions(opts ...repositories.DependencyHealthOption) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.healthOpts = append(cfg.healthOpts, opts...)
	}
}

// Registry bundles the Firestore-backed repositories and owns the provider lifecycle.
type Registry struct {
	provider      *pfirestore.Provider
	products      *ProductRepository
	orders        *OrderRepository
	sellers       *SellerRepository
	notifications *NotificationRepository
	ledger        *LedgerStore
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires every repository to provider. Closing the registry closes the provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	reg := &Registry{provider: provider}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.sellers, err = NewSellerRepository(provider); err != nil {
		return nil, err
	}
	if reg.notifications, err = NewNotificationRepository(provider); err != nil {
		return nil, err
	}
	if reg.ledger, err = NewLedgerStore(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, cfg.checks...)
	reg.health, err = repositories.NewDependencyHealthRepository(checks, cfg.healthOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Sellers() repositories.SellerRepository { return r.sellers }

func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }

func (r *Registry) Ledger() repositories.LedgerStore { return r.ledger }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
