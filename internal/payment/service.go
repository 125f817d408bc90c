// Package payment holds the order lifecycle: checkout creation, the gateway
// notification state machine, and the post-completion effects.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirai-gpro/ANDCORE/internal/gmo"
)

// Service contains the domain logic over a Store and the gateway codec.
type Service struct {
	store  Store
	codec  *gmo.Codec
	nowFn  func() time.Time
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, codec *gmo.Codec, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: codec dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, codec: codec, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CheckoutResult is the client-facing outcome of a checkout request.
type CheckoutResult struct {
	CheckoutURL string
	OrderID     string
}

// CreateTopUpCheckout creates a pending point-charge order and returns the
// signed gateway checkout URL for it.
func (service *Service) CreateTopUpCheckout(ctx context.Context, userID string, pointsAmount int64, amountYen int64) (CheckoutResult, error) {
	result, operationError := service.createTopUpCheckout(ctx, userID, pointsAmount, amountYen)
	service.logOperation(ctx, OperationLog{
		Operation:      operationTopUpCheckout,
		GatewayOrderID: result.OrderID,
		UserID:         userID,
		Kind:           KindPointCharge,
		AmountYen:      amountYen,
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) createTopUpCheckout(ctx context.Context, userID string, pointsAmount int64, amountYen int64) (CheckoutResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if pointsAmount <= 0 {
		return CheckoutResult{}, fmt.Errorf("%w: points amount must be positive", ErrInvalidAmount)
	}
	if amountYen <= 0 {
		return CheckoutResult{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	orderID := gmo.GenerateOrderID()
	overview := fmt.Sprintf("Encore point charge %dpt", pointsAmount)
	checkoutURL, err := service.codec.BuildCheckoutURL(orderID, amountYen, overview)
	if err != nil {
		return CheckoutResult{}, WrapError(operationTopUpCheckout, "checkout_url", "build", err)
	}
	order := Order{
		UserID:         userID,
		Kind:           KindPointCharge,
		Status:         StatusPending,
		AmountYen:      amountYen,
		PointsAmount:   pointsAmount,
		GatewayOrderID: orderID,
		GatewayJobCd:   gatewayJobCdCapture,
		CreatedAt:      service.nowFn(),
	}
	if _, err := service.store.InsertOrder(ctx, order); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
	return CheckoutResult{CheckoutURL: checkoutURL, OrderID: orderID}, nil
}

// CreateTicketCheckout creates a pending ticket-purchase order after checking
// the product's stock ceiling, and returns the signed checkout URL.
func (service *Service) CreateTicketCheckout(ctx context.Context, userID string, productID string, quantity int64) (CheckoutResult, error) {
	result, operationError := service.createTicketCheckout(ctx, userID, productID, quantity)
	service.logOperation(ctx, OperationLog{
		Operation:      operationTicketCheckout,
		GatewayOrderID: result.OrderID,
		UserID:         userID,
		Kind:           KindTicketPurchase,
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) createTicketCheckout(ctx context.Context, userID string, productID string, quantity int64) (CheckoutResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if quantity < 1 || quantity > maxTicketQuantity {
		return CheckoutResult{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidQuantity, maxTicketQuantity)
	}
	product, err := service.store.GetProduct(ctx, productID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if product.StockLimit != nil {
		remaining := *product.StockLimit - product.SoldCount
		if remaining < quantity {
			return CheckoutResult{}, fmt.Errorf("%w: %d remaining, %d requested", ErrInsufficientStock, remaining, quantity)
		}
	}
	amountYen := product.PricePoints * quantity
	orderID := gmo.GenerateOrderID()
	overview := fmt.Sprintf("Encore ticket purchase x%d", quantity)
	checkoutURL, err := service.codec.BuildCheckoutURL(orderID, amountYen, overview)
	if err != nil {
		return CheckoutResult{}, WrapError(operationTicketCheckout, "checkout_url", "build", err)
	}
	order := Order{
		UserID:          userID,
		Kind:            KindTicketPurchase,
		Status:          StatusPending,
		AmountYen:       amountYen,
		TicketProductID: productID,
		TicketQuantity:  quantity,
		GatewayOrderID:  orderID,
		GatewayJobCd:    gatewayJobCdCapture,
		CreatedAt:       service.nowFn(),
	}
	if _, err := service.store.InsertOrder(ctx, order); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
	return CheckoutResult{CheckoutURL: checkoutURL, OrderID: orderID}, nil
}

// CancelOrder marks a still-pending order cancelled. Orders already in a
// terminal state are left untouched.
func (service *Service) CancelOrder(ctx context.Context, gatewayOrderID string) error {
	operationError := service.cancelOrder(ctx, gatewayOrderID)
	service.logOperation(ctx, OperationLog{
		Operation:      operationCancel,
		GatewayOrderID: gatewayOrderID,
		Error:          operationError,
	})
	return operationError
}

func (service *Service) cancelOrder(ctx context.Context, gatewayOrderID string) error {
	order, err := service.store.FindOrderByGatewayID(ctx, gatewayOrderID)
	if err != nil {
		return err
	}
	err = service.store.UpdateOrderStatus(ctx, order.ID, StatusPending, OrderUpdate{Status: StatusCancelled})
	if isOrderClosed(err) {
		return nil
	}
	return err
}

// ListOrders returns the user's orders, newest first.
func (service *Service) ListOrders(ctx context.Context, userID string, limit int, offset int) ([]Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return service.store.ListOrdersByUser(ctx, userID, limit, offset)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
