package payment

import (
	"context"
	"time"
)

// OrderKind is the closed set of purchase types.
type OrderKind string

const (
	KindPointCharge    OrderKind = "point_charge"
	KindTicketPurchase OrderKind = "ticket_purchase"
)

// OrderStatus is the order lifecycle state. pending is the only non-terminal
// state; completed, failed and cancelled are terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is defined out of the status.
func (status OrderStatus) Terminal() bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusCancelled
}

// Order is one purchase attempt, retained forever as an audit trail.
type Order struct {
	ID              string
	UserID          string
	Kind            OrderKind
	Status          OrderStatus
	AmountYen       int64
	PointsAmount    int64
	TicketProductID string
	TicketQuantity  int64

	// Gateway correlation fields, write-once on the terminal transition.
	GatewayOrderID    string
	GatewayJobCd      string
	GatewayAccessID   string
	GatewayAccessPass string
	GatewayForward    string
	GatewayApprove    string
	GatewayTranID     string
	GatewayTranDate   string
	GatewayPayType    string

	ErrorCode    string
	ErrorMessage string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// OrderUpdate is the partial field set applied on a terminal transition.
type OrderUpdate struct {
	Status            OrderStatus
	CompletedAt       *time.Time
	GatewayAccessID   string
	GatewayAccessPass string
	GatewayForward    string
	GatewayApprove    string
	GatewayTranID     string
	GatewayTranDate   string
	GatewayPayType    string
	ErrorCode         string
	ErrorMessage      string
}

// LedgerEntryType enumerates balance-affecting transaction kinds.
type LedgerEntryType string

const (
	LedgerCharge LedgerEntryType = "charge"
)

// LedgerEntry is an immutable record of one point-balance mutation.
type LedgerEntry struct {
	UserID       string
	Amount       int64
	BalanceAfter int64
	EntryType    LedgerEntryType
	ReferenceID  string
	Description  string
}

// TicketStatus is the entitlement lifecycle state.
type TicketStatus string

const (
	TicketValid TicketStatus = "valid"
)

// Ticket is one purchased entitlement unit.
type Ticket struct {
	UserID    string
	ProductID string
	Status    TicketStatus
}

// Product is a catalog item with an optional stock ceiling.
type Product struct {
	ID          string
	Name        string
	PricePoints int64
	StockLimit  *int64
	SoldCount   int64
}

// NotificationOutcome classifies how a received gateway callback was handled.
type NotificationOutcome string

const (
	NotificationHandled      NotificationOutcome = "handled"
	NotificationRejected     NotificationOutcome = "rejected"
	NotificationHandleFailed NotificationOutcome = "handle_failed"
)

// NotificationLog is the audit record of one received gateway callback.
type NotificationLog struct {
	GatewayOrderID string
	PayloadJSON    string
	Outcome        NotificationOutcome
	Detail         string
}

// Store is the persistence contract consumed by the payment service. The
// concrete store provides read-your-writes within one WithTx scope.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertOrder(ctx context.Context, order Order) (Order, error)
	FindOrderByGatewayID(ctx context.Context, gatewayOrderID string) (Order, error)
	// UpdateOrderStatus applies the update only while the order is still in
	// the from status; ErrOrderClosed otherwise.
	UpdateOrderStatus(ctx context.Context, orderID string, from OrderStatus, update OrderUpdate) error
	ListOrdersByUser(ctx context.Context, userID string, limit int, offset int) ([]Order, error)

	GetBalance(ctx context.Context, userID string) (int64, error)
	UpdateBalance(ctx context.Context, userID string, newBalance int64) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) error

	GetProduct(ctx context.Context, productID string) (Product, error)
	InsertTickets(ctx context.Context, batch []Ticket) error
	IncrementSoldCount(ctx context.Context, productID string, by int64) error

	InsertNotificationLog(ctx context.Context, log NotificationLog) error
}
