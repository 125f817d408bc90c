package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/mirai-gpro/ANDCORE/internal/gmo"
)

func signedNotification(orderID string, amount string) gmo.Notification {
	digest := sha256.Sum256([]byte("tshop00000001" + orderID + amount + "resultkey"))
	return gmo.Notification{
		ShopID:    "tshop00000001",
		OrderID:   orderID,
		Amount:    amount,
		Status:     "CAPTURE",
		JobCd:      "CAPTURE",
		AccessID:   "access-1",
		AccessPass: "pass-1",
		Forward:    "2a99662",
		Approve:    "0123456",
		TranID:     "tran-1",
		TranDate:   "20260301120000",
		PayType:    "0",
		HashValue:  hex.EncodeToString(digest[:]),
	}
}

func pendingTopUp(test *testing.T, service *Service, store *memoryStore, userID string) CheckoutResult {
	test.Helper()
	result, err := service.CreateTopUpCheckout(context.Background(), userID, 500, 500)
	if err != nil {
		test.Fatalf("checkout: %v", err)
	}
	return result
}

func TestProcessNotificationCompletesTopUp(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 100
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	ack, err := service.ProcessNotification(context.Background(), signedNotification(result.OrderID, "500"))
	if err != nil {
		test.Fatalf("ProcessNotification: %v", err)
	}
	if ack != AckOK {
		test.Fatalf("ack = %s, expected OK", ack)
	}

	order := store.orderByGatewayID(test, result.OrderID)
	if order.Status != StatusCompleted {
		test.Fatalf("status = %s, expected completed", order.Status)
	}
	if order.CompletedAt == nil || !order.CompletedAt.Equal(fixedClock()) {
		test.Fatalf("completed at = %v", order.CompletedAt)
	}
	if order.GatewayAccessID != "access-1" || order.GatewayAccessPass != "pass-1" ||
		order.GatewayForward != "2a99662" || order.GatewayApprove != "0123456" ||
		order.GatewayTranID != "tran-1" || order.GatewayTranDate != "20260301120000" ||
		order.GatewayPayType != "0" {
		test.Fatalf("gateway correlation fields not recorded: %+v", order)
	}
	if balance := store.balances["user-1"]; balance != 600 {
		test.Fatalf("balance = %d, expected 600", balance)
	}
	if len(store.ledger) != 1 {
		test.Fatalf("ledger entries = %d, expected 1", len(store.ledger))
	}
	entry := store.ledger[0]
	if entry.Amount != 500 || entry.BalanceAfter != 600 || entry.EntryType != LedgerCharge {
		test.Fatalf("unexpected ledger entry %+v", entry)
	}
	if entry.ReferenceID != result.OrderID {
		test.Fatalf("ledger reference = %q, expected gateway order id", entry.ReferenceID)
	}
}

func TestProcessNotificationReplayIsIdempotent(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")
	notification := signedNotification(result.OrderID, "500")

	for delivery := 0; delivery < 3; delivery++ {
		ack, err := service.ProcessNotification(context.Background(), notification)
		if err != nil {
			test.Fatalf("delivery %d: %v", delivery, err)
		}
		if ack != AckOK {
			test.Fatalf("delivery %d ack = %s", delivery, ack)
		}
	}

	if balance := store.balances["user-1"]; balance != 500 {
		test.Fatalf("balance after replays = %d, expected a single credit", balance)
	}
	if len(store.ledger) != 1 {
		test.Fatalf("ledger entries = %d, expected 1", len(store.ledger))
	}
}

func TestProcessNotificationRejectsBadHash(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	tampered := signedNotification(result.OrderID, "500")
	tampered.Amount = "1"

	ack, err := service.ProcessNotification(context.Background(), tampered)
	if ack != AckNG {
		test.Fatalf("ack = %s, expected NG", ack)
	}
	if !errors.Is(err, gmo.ErrVerificationFailed) {
		test.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if order := store.orderByGatewayID(test, result.OrderID); order.Status != StatusPending {
		test.Fatalf("status = %s, order must stay pending", order.Status)
	}
	if balance := store.balances["user-1"]; balance != 0 {
		test.Fatalf("balance = %d, no credit on rejected callback", balance)
	}
}

func TestProcessNotificationUnknownOrder(test *testing.T) {
	service := newTestService(test, newMemoryStore())

	ack, err := service.ProcessNotification(context.Background(), signedNotification("ENC-FFFFFFFFFFFFFFFF", "500"))
	if ack != AckNG {
		test.Fatalf("ack = %s, expected NG", ack)
	}
	if !errors.Is(err, ErrOrderNotFound) {
		test.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestProcessNotificationDomainFailure(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	declined := signedNotification(result.OrderID, "500")
	declined.ErrCode = "E01"
	declined.ErrInfo = "E01040010"

	// A declined payment is a well-formed notification: the order fails, the
	// gateway still gets OK so it stops redelivering.
	ack, err := service.ProcessNotification(context.Background(), declined)
	if err != nil {
		test.Fatalf("ProcessNotification: %v", err)
	}
	if ack != AckOK {
		test.Fatalf("ack = %s, expected OK", ack)
	}
	order := store.orderByGatewayID(test, result.OrderID)
	if order.Status != StatusFailed {
		test.Fatalf("status = %s, expected failed", order.Status)
	}
	if order.ErrorCode != "E01" {
		test.Fatalf("error code = %q", order.ErrorCode)
	}
	if balance := store.balances["user-1"]; balance != 0 {
		test.Fatalf("balance = %d, declined payment must not credit", balance)
	}
}

func TestProcessNotificationUnexpectedStatus(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	odd := signedNotification(result.OrderID, "500")
	odd.Status = "VOID"

	ack, err := service.ProcessNotification(context.Background(), odd)
	if err != nil {
		test.Fatalf("ProcessNotification: %v", err)
	}
	if ack != AckOK {
		test.Fatalf("ack = %s, expected OK", ack)
	}
	if order := store.orderByGatewayID(test, result.OrderID); order.Status != StatusFailed {
		test.Fatalf("status = %s, non-success statuses fail the order", order.Status)
	}
}

func TestProcessNotificationEffectWriteFailure(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	store.failUpdateBalance = errors.New("connection reset")
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	ack, err := service.ProcessNotification(context.Background(), signedNotification(result.OrderID, "500"))
	if ack != AckNG {
		test.Fatalf("ack = %s, failed completing writes must answer NG", ack)
	}
	if err == nil {
		test.Fatal("expected an error")
	}
	if len(store.ledger) != 0 {
		test.Fatalf("ledger entries = %d, expected none", len(store.ledger))
	}
}

func TestProcessNotificationMissingProfile(test *testing.T) {
	store := newMemoryStore()
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-without-profile")

	ack, err := service.ProcessNotification(context.Background(), signedNotification(result.OrderID, "500"))
	if ack != AckNG {
		test.Fatalf("ack = %s, expected NG", ack)
	}
	if !errors.Is(err, ErrProfileNotFound) {
		test.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestProcessNotificationCompletesTicketPurchase(test *testing.T) {
	store := newMemoryStore()
	stockLimit := int64(10)
	store.products["prod-1"] = Product{ID: "prod-1", PricePoints: 1000, StockLimit: &stockLimit}
	service := newTestService(test, store)

	result, err := service.CreateTicketCheckout(context.Background(), "user-1", "prod-1", 3)
	if err != nil {
		test.Fatalf("checkout: %v", err)
	}

	ack, err := service.ProcessNotification(context.Background(), signedNotification(result.OrderID, "3000"))
	if err != nil {
		test.Fatalf("ProcessNotification: %v", err)
	}
	if ack != AckOK {
		test.Fatalf("ack = %s", ack)
	}
	if len(store.tickets) != 3 {
		test.Fatalf("tickets issued = %d, expected 3", len(store.tickets))
	}
	for _, ticket := range store.tickets {
		if ticket.UserID != "user-1" || ticket.ProductID != "prod-1" || ticket.Status != TicketValid {
			test.Fatalf("unexpected ticket %+v", ticket)
		}
	}
	if soldCount := store.products["prod-1"].SoldCount; soldCount != 3 {
		test.Fatalf("sold count = %d, expected 3", soldCount)
	}
}

func TestProcessNotificationAuditTrail(test *testing.T) {
	store := newMemoryStore()
	store.balances["user-1"] = 0
	service := newTestService(test, store)
	result := pendingTopUp(test, service, store, "user-1")

	if _, err := service.ProcessNotification(context.Background(), signedNotification(result.OrderID, "500")); err != nil {
		test.Fatalf("ProcessNotification: %v", err)
	}
	tampered := signedNotification(result.OrderID, "500")
	tampered.HashValue = "deadbeef"
	_, _ = service.ProcessNotification(context.Background(), tampered)

	if len(store.notifications) != 2 {
		test.Fatalf("audit rows = %d, expected one per delivery", len(store.notifications))
	}
	if store.notifications[0].Outcome != NotificationHandled {
		test.Fatalf("first outcome = %s", store.notifications[0].Outcome)
	}
	if store.notifications[1].Outcome != NotificationRejected {
		test.Fatalf("second outcome = %s", store.notifications[1].Outcome)
	}
}
