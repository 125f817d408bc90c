package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mirai-gpro/ANDCORE/internal/gmo"
)

// ProcessNotification consumes one gateway result callback and applies it to
// order and ledger state exactly once. The returned Ack is the only thing the
// gateway ever sees; the error carries internal detail for logging.
//
// The gateway keeps redelivering a notification until it receives OK, so every
// path here must be safe under repeated and concurrent delivery. The
// idempotency gate (already-completed order acknowledges OK with no writes)
// plus the conditional pending-only status update carry that guarantee.
func (service *Service) ProcessNotification(ctx context.Context, notification gmo.Notification) (Ack, error) {
	ack, operationError := service.processNotification(ctx, notification)
	service.logOperation(ctx, OperationLog{
		Operation:      operationNotification,
		GatewayOrderID: notification.OrderID,
		Status:         string(ack),
		Error:          operationError,
	})
	service.recordNotification(ctx, notification, ack, operationError)
	return ack, operationError
}

func (service *Service) processNotification(ctx context.Context, notification gmo.Notification) (Ack, error) {
	// Legacy notification shapes omit HashValue entirely; those skip the
	// integrity check but still go through the order lookup below.
	if notification.HashValue != "" {
		if err := service.codec.VerifyResultHash(notification.ShopID, notification.OrderID, notification.Amount, notification.HashValue); err != nil {
			return AckNG, WrapError(operationNotification, "hash", "verify", err)
		}
	}

	order, err := service.store.FindOrderByGatewayID(ctx, notification.OrderID)
	if err != nil {
		// Orphan: gateway raced an unwritten order or points at another shop.
		return AckNG, WrapError(operationNotification, "order", "lookup", err)
	}

	// Idempotency gate: a completed order means this delivery is a replay.
	if order.Status == StatusCompleted {
		return AckOK, nil
	}

	isSuccess := (notification.Status == gatewayStatusCapture || notification.Status == gatewayStatusSales) &&
		notification.ErrCode == ""

	update := OrderUpdate{
		GatewayAccessID:   notification.AccessID,
		GatewayAccessPass: notification.AccessPass,
		GatewayForward:    notification.Forward,
		GatewayApprove:    notification.Approve,
		GatewayTranID:     notification.TranID,
		GatewayTranDate:   notification.TranDate,
		GatewayPayType:    notification.PayType,
	}

	if !isSuccess {
		update.Status = StatusFailed
		update.ErrorCode = notification.ErrCode
		update.ErrorMessage = notification.ErrInfo
		err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			return txStore.UpdateOrderStatus(ctx, order.ID, StatusPending, update)
		})
		if isOrderClosed(err) {
			// Another delivery already finished this order.
			return AckOK, nil
		}
		if err != nil {
			return AckNG, WrapError(operationNotification, "order", "fail_transition", err)
		}
		// A domain-level payment failure is still a well-received notification.
		return AckOK, nil
	}

	completedAt := service.nowFn()
	update.Status = StatusCompleted
	update.CompletedAt = &completedAt

	// The terminal transition and its effects commit atomically; if any write
	// fails the order stays pending and the gateway retries.
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.UpdateOrderStatus(ctx, order.ID, StatusPending, update); err != nil {
			return err
		}
		switch order.Kind {
		case KindPointCharge:
			return service.applyPointCharge(ctx, txStore, order)
		case KindTicketPurchase:
			return service.applyTicketPurchase(ctx, txStore, order)
		default:
			return fmt.Errorf("unknown order kind %q", order.Kind)
		}
	})
	if isOrderClosed(err) {
		return AckOK, nil
	}
	if err != nil {
		return AckNG, WrapError(operationNotification, "order", "complete_transition", err)
	}
	return AckOK, nil
}

// applyPointCharge credits the purchased points and appends the ledger entry.
func (service *Service) applyPointCharge(ctx context.Context, txStore Store, order Order) error {
	currentBalance, err := txStore.GetBalance(ctx, order.UserID)
	if err != nil {
		return err
	}
	newBalance := currentBalance + order.PointsAmount
	if err := txStore.UpdateBalance(ctx, order.UserID, newBalance); err != nil {
		return err
	}
	return txStore.InsertLedgerEntry(ctx, LedgerEntry{
		UserID:       order.UserID,
		Amount:       order.PointsAmount,
		BalanceAfter: newBalance,
		EntryType:    LedgerCharge,
		ReferenceID:  order.GatewayOrderID,
		Description:  fmt.Sprintf("Point charge (gateway payment: %d yen)", order.AmountYen),
	})
}

// applyTicketPurchase issues one ticket per purchased unit and bumps the
// product's sold counter.
func (service *Service) applyTicketPurchase(ctx context.Context, txStore Store, order Order) error {
	quantity := order.TicketQuantity
	if quantity < 1 {
		quantity = 1
	}
	batch := make([]Ticket, 0, quantity)
	for i := int64(0); i < quantity; i++ {
		batch = append(batch, Ticket{
			UserID:    order.UserID,
			ProductID: order.TicketProductID,
			Status:    TicketValid,
		})
	}
	if err := txStore.InsertTickets(ctx, batch); err != nil {
		return err
	}
	return txStore.IncrementSoldCount(ctx, order.TicketProductID, quantity)
}

// recordNotification persists the audit row for a received callback.
// Best-effort: a failed audit write is reported through the operation logger
// but never changes the acknowledgement.
func (service *Service) recordNotification(ctx context.Context, notification gmo.Notification, ack Ack, processingError error) {
	outcome := NotificationHandled
	if ack == AckNG {
		outcome = NotificationRejected
		if processingError != nil && !errors.Is(processingError, gmo.ErrVerificationFailed) && !errors.Is(processingError, ErrOrderNotFound) {
			outcome = NotificationHandleFailed
		}
	}
	detail := ""
	if processingError != nil {
		detail = processingError.Error()
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		payload = []byte("{}")
	}
	logErr := service.store.InsertNotificationLog(ctx, NotificationLog{
		GatewayOrderID: notification.OrderID,
		PayloadJSON:    string(payload),
		Outcome:        outcome,
		Detail:         detail,
	})
	if logErr != nil {
		service.logOperation(ctx, OperationLog{
			Operation:      operationNotification,
			GatewayOrderID: notification.OrderID,
			Status:         operationStatusError,
			Error:          WrapError(operationNotification, "audit", "insert", logErr),
		})
	}
}

func isOrderClosed(err error) bool {
	return err != nil && errors.Is(err, ErrOrderClosed)
}
