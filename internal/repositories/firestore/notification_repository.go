package firestore

import (
	"context"
	"errors"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// NotificationRepository writes in-app inbox entries read by the storefront.
type NotificationRepository struct {
	notifications *pfirestore.Collection[notificationDocument]
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)

func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{
		notifications: pfirestore.NewCollection[notificationDocument](provider, notificationsCollection),
	}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, n domain.Notification) error {
	if n.ID == "" || n.UserID == "" {
		return errors.New("notification insert: id and user id are required")
	}
	err := r.notifications.Create(ctx, n.ID, notificationDocument{
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Data:      n.Data,
		CreatedAt: n.CreatedAt.UTC(),
	})
	return wrapLedgerError("notifications.insert", err)
}
