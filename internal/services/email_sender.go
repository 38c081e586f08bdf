package services

import (
	"context"
	"time"

	"github.com/sky940714/shophub/internal/email"
	"github.com/sky940714/shophub/internal/models"
)

// OrderNotifier tells the buyer about order milestones. Failures are logged
// by the caller and never undo the milestone.
type OrderNotifier interface {
	PaymentReceived(ctx context.Context, order *models.Order) error
	ShipmentCreated(ctx context.Context, order *models.Order) error
}

type EmailOrderNotifier struct {
	provider  email.Provider
	storeName string
	storeURL  string
	loc       *time.Location
}

func NewEmailOrderNotifier(provider email.Provider, storeName, storeURL string, loc *time.Location) *EmailOrderNotifier {
	if loc == nil {
		loc = time.UTC
	}
	return &EmailOrderNotifier{
		provider:  provider,
		storeName: storeName,
		storeURL:  storeURL,
		loc:       loc,
	}
}

func (n *EmailOrderNotifier) PaymentReceived(ctx context.Context, order *models.Order) error {
	return email.Send(ctx, n.provider, email.TemplatePaymentReceived, n.orderInfo(order))
}

func (n *EmailOrderNotifier) ShipmentCreated(ctx context.Context, order *models.Order) error {
	return email.Send(ctx, n.provider, email.TemplateShipmentCreated, n.orderInfo(order))
}

func (n *EmailOrderNotifier) orderInfo(order *models.Order) *email.OrderInfo {
	return BuildOrderInfo(order, OrderInfoOverrides{
		StoreName: n.storeName,
		StoreURL:  n.storeURL,
		Location:  n.loc,
	})
}

type noopOrderNotifier struct{}

func (noopOrderNotifier) PaymentReceived(context.Context, *models.Order) error {
	return nil
}

func (noopOrderNotifier) ShipmentCreated(context.Context, *models.Order) error {
	return nil
}
