package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentOrder mirrors the payment_orders table.
type PaymentOrder struct {
	OrderID         string  `gorm:"type:uuid;primaryKey"`
	UserID          string  `gorm:"not null;index:idx_orders_user_created,priority:1"`
	Kind            string  `gorm:"not null"`
	Status          string  `gorm:"not null;index"`
	AmountYen       int64   `gorm:"not null"`
	PointsAmount    int64   `gorm:"not null;default:0"`
	TicketProductID *string `gorm:""`
	TicketQuantity  int64   `gorm:"not null;default:0"`

	GatewayOrderID    string `gorm:"not null;uniqueIndex"`
	GatewayJobCd      string `gorm:""`
	GatewayAccessID   string `gorm:""`
	GatewayAccessPass string `gorm:""`
	GatewayForward    string `gorm:""`
	GatewayApprove    string `gorm:""`
	GatewayTranID     string `gorm:""`
	GatewayTranDate   string `gorm:""`
	GatewayPayType    string `gorm:""`

	ErrorCode    string `gorm:""`
	ErrorMessage string `gorm:""`

	CreatedAt   time.Time  `gorm:"not null;index:idx_orders_user_created,priority:2"`
	CompletedAt *time.Time `gorm:""`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

func (order *PaymentOrder) BeforeCreate(tx *gorm.DB) error {
	if order.OrderID == "" {
		order.OrderID = uuid.NewString()
	}
	return nil
}

// Profile holds the per-user point balance.
type Profile struct {
	UserID        string    `gorm:"primaryKey"`
	PointsBalance int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Profile) TableName() string { return "profiles" }

// PointTransaction mirrors the append-only point_transactions ledger table.
type PointTransaction struct {
	EntryID      string    `gorm:"type:uuid;primaryKey"`
	UserID       string    `gorm:"not null;index:idx_point_tx_user_created,priority:1"`
	Amount       int64     `gorm:"not null"`
	BalanceAfter int64     `gorm:"not null"`
	EntryType    string    `gorm:"not null"`
	ReferenceID  string    `gorm:"not null;index"`
	Description  string    `gorm:""`
	CreatedAt    time.Time `gorm:"not null;index:idx_point_tx_user_created,priority:2"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

func (entry *PointTransaction) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// TicketProduct mirrors the ticket_products catalog table.
type TicketProduct struct {
	ProductID   string    `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"not null"`
	PricePoints int64     `gorm:"not null"`
	StockLimit  *int64    `gorm:""`
	SoldCount   int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (TicketProduct) TableName() string { return "ticket_products" }

// UserTicket mirrors the user_tickets table, one row per purchased unit.
type UserTicket struct {
	TicketID  string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index"`
	ProductID string    `gorm:"not null;index"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UserTicket) TableName() string { return "user_tickets" }

func (ticket *UserTicket) BeforeCreate(tx *gorm.DB) error {
	if ticket.TicketID == "" {
		ticket.TicketID = uuid.NewString()
	}
	return nil
}

// GatewayNotificationLog keeps every received gateway callback with its raw
// payload and handling outcome.
type GatewayNotificationLog struct {
	LogID          string         `gorm:"type:uuid;primaryKey"`
	GatewayOrderID string         `gorm:"index"`
	Payload        datatypes.JSON `gorm:"not null"`
	Outcome        string         `gorm:"not null"`
	Detail         string         `gorm:""`
	CreatedAt      time.Time      `gorm:"not null"`
}

func (GatewayNotificationLog) TableName() string { return "gateway_notification_log" }

func (auditRow *GatewayNotificationLog) BeforeCreate(tx *gorm.DB) error {
	if auditRow.LogID == "" {
		auditRow.LogID = uuid.NewString()
	}
	return nil
}
