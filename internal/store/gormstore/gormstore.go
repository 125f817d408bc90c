// Package gormstore implements payment.Store on top of GORM, targeting
// postgres in production and sqlite in tests and local runs.
package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mirai-gpro/ANDCORE/internal/payment"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore      = "store"
	errorSubjectOrder        = "order"
	errorSubjectProfile      = "profile"
	errorSubjectLedger       = "ledger"
	errorSubjectTicket       = "ticket"
	errorSubjectProduct      = "product"
	errorSubjectNotification = "notification"
	errorCodeInsert          = "insert"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeList            = "list"
	errorCodeUpdate          = "update"
	errorCodeUpdateStatus    = "update_status"
)

// Store implements payment.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used on sqlite; postgres schemas are managed
// externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&PaymentOrder{},
		&Profile{},
		&PointTransaction{},
		&TicketProduct{},
		&UserTicket{},
		&GatewayNotificationLog{},
	)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) InsertOrder(ctx context.Context, order payment.Order) (payment.Order, error) {
	model := orderToModel(order)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return payment.Order{}, wrapStoreError(errorSubjectOrder, errorCodeDuplicate, err)
	}
	if err != nil {
		return payment.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return orderFromModel(model), nil
}

func (store *Store) FindOrderByGatewayID(ctx context.Context, gatewayOrderID string) (payment.Order, error) {
	var model PaymentOrder
	err := store.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payment.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, payment.ErrOrderNotFound)
	}
	if err != nil {
		return payment.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return orderFromModel(model), nil
}

// UpdateOrderStatus is the conditional terminal transition: the update lands
// only while the row still carries the from status, so two concurrent
// notification handlers cannot both commit a terminal state.
func (store *Store) UpdateOrderStatus(ctx context.Context, orderID string, from payment.OrderStatus, update payment.OrderUpdate) error {
	assignments := map[string]interface{}{
		"status": string(update.Status),
	}
	if update.CompletedAt != nil {
		assignments["completed_at"] = *update.CompletedAt
	}
	if update.GatewayAccessID != "" {
		assignments["gateway_access_id"] = update.GatewayAccessID
	}
	if update.GatewayAccessPass != "" {
		assignments["gateway_access_pass"] = update.GatewayAccessPass
	}
	if update.GatewayForward != "" {
		assignments["gateway_forward"] = update.GatewayForward
	}
	if update.GatewayApprove != "" {
		assignments["gateway_approve"] = update.GatewayApprove
	}
	if update.GatewayTranID != "" {
		assignments["gateway_tran_id"] = update.GatewayTranID
	}
	if update.GatewayTranDate != "" {
		assignments["gateway_tran_date"] = update.GatewayTranDate
	}
	if update.GatewayPayType != "" {
		assignments["gateway_pay_type"] = update.GatewayPayType
	}
	if update.ErrorCode != "" {
		assignments["error_code"] = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		assignments["error_message"] = update.ErrorMessage
	}
	result := store.db.WithContext(ctx).
		Model(&PaymentOrder{}).
		Where("order_id = ? AND status = ?", orderID, string(from)).
		Updates(assignments)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, payment.ErrOrderClosed)
	}
	return nil
}

func (store *Store) ListOrdersByUser(ctx context.Context, userID string, limit int, offset int) ([]payment.Order, error) {
	var rows []PaymentOrder
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	orders := make([]payment.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, orderFromModel(row))
	}
	return orders, nil
}

func (store *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	var profile Profile
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, wrapStoreError(errorSubjectProfile, errorCodeGet, payment.ErrProfileNotFound)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectProfile, errorCodeGet, err)
	}
	return profile.PointsBalance, nil
}

func (store *Store) UpdateBalance(ctx context.Context, userID string, newBalance int64) error {
	result := store.db.WithContext(ctx).
		Model(&Profile{}).
		Where("user_id = ?", userID).
		Update("points_balance", newBalance)
	if result.Error != nil {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectProfile, errorCodeUpdate, payment.ErrProfileNotFound)
	}
	return nil
}

func (store *Store) InsertLedgerEntry(ctx context.Context, entry payment.LedgerEntry) error {
	model := PointTransaction{
		UserID:       entry.UserID,
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		EntryType:    string(entry.EntryType),
		ReferenceID:  entry.ReferenceID,
		Description:  entry.Description,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectLedger, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetProduct(ctx context.Context, productID string) (payment.Product, error) {
	var model TicketProduct
	err := store.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return payment.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, payment.ErrProductNotFound)
	}
	if err != nil {
		return payment.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	return payment.Product{
		ID:          model.ProductID,
		Name:        model.Name,
		PricePoints: model.PricePoints,
		StockLimit:  model.StockLimit,
		SoldCount:   model.SoldCount,
	}, nil
}

func (store *Store) InsertTickets(ctx context.Context, batch []payment.Ticket) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]UserTicket, 0, len(batch))
	for _, ticket := range batch {
		rows = append(rows, UserTicket{
			UserID:    ticket.UserID,
			ProductID: ticket.ProductID,
			Status:    string(ticket.Status),
			CreatedAt: now,
		})
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return wrapStoreError(errorSubjectTicket, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) IncrementSoldCount(ctx context.Context, productID string, by int64) error {
	result := store.db.WithContext(ctx).
		Model(&TicketProduct{}).
		Where("product_id = ?", productID).
		Update("sold_count", gorm.Expr("sold_count + ?", by))
	if result.Error != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, payment.ErrProductNotFound)
	}
	return nil
}

func (store *Store) InsertNotificationLog(ctx context.Context, auditRow payment.NotificationLog) error {
	payload := auditRow.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	model := GatewayNotificationLog{
		GatewayOrderID: auditRow.GatewayOrderID,
		Payload:        datatypes.JSON([]byte(payload)),
		Outcome:        string(auditRow.Outcome),
		Detail:         auditRow.Detail,
		CreatedAt:      time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

func orderToModel(order payment.Order) PaymentOrder {
	var productID *string
	if order.TicketProductID != "" {
		value := order.TicketProductID
		productID = &value
	}
	return PaymentOrder{
		OrderID:           order.ID,
		UserID:            order.UserID,
		Kind:              string(order.Kind),
		Status:            string(order.Status),
		AmountYen:         order.AmountYen,
		PointsAmount:      order.PointsAmount,
		TicketProductID:   productID,
		TicketQuantity:    order.TicketQuantity,
		GatewayOrderID:    order.GatewayOrderID,
		GatewayJobCd:      order.GatewayJobCd,
		GatewayAccessID:   order.GatewayAccessID,
		GatewayAccessPass: order.GatewayAccessPass,
		GatewayForward:    order.GatewayForward,
		GatewayApprove:    order.GatewayApprove,
		GatewayTranID:     order.GatewayTranID,
		GatewayTranDate:   order.GatewayTranDate,
		GatewayPayType:    order.GatewayPayType,
		ErrorCode:         order.ErrorCode,
		ErrorMessage:      order.ErrorMessage,
		CreatedAt:         order.CreatedAt,
		CompletedAt:       order.CompletedAt,
	}
}

func orderFromModel(model PaymentOrder) payment.Order {
	productID := ""
	if model.TicketProductID != nil {
		productID = *model.TicketProductID
	}
	return payment.Order{
		ID:                model.OrderID,
		UserID:            model.UserID,
		Kind:              payment.OrderKind(model.Kind),
		Status:            payment.OrderStatus(model.Status),
		AmountYen:         model.AmountYen,
		PointsAmount:      model.PointsAmount,
		TicketProductID:   productID,
		TicketQuantity:    model.TicketQuantity,
		GatewayOrderID:    model.GatewayOrderID,
		GatewayJobCd:      model.GatewayJobCd,
		GatewayAccessID:   model.GatewayAccessID,
		GatewayAccessPass: model.GatewayAccessPass,
		GatewayForward:    model.GatewayForward,
		GatewayApprove:    model.GatewayApprove,
		GatewayTranID:     model.GatewayTranID,
		GatewayTranDate:   model.GatewayTranDate,
		GatewayPayType:    model.GatewayPayType,
		ErrorCode:         model.ErrorCode,
		ErrorMessage:      model.ErrorMessage,
		CreatedAt:         model.CreatedAt,
		CompletedAt:       model.CompletedAt,
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return payment.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
