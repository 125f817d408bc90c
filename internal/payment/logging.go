package payment

import (
	"context"

	"go.uber.org/zap"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing payment operation.
type OperationLog struct {
	Operation      string
	OrderID        string
	GatewayOrderID string
	UserID         string
	Kind           OrderKind
	AmountYen      int64
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// ZapOperationLogger forwards operation logs to a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps a zap logger as an OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one structured record per operation.
func (zl *ZapOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("order_id", entry.OrderID),
		zap.String("gateway_order_id", entry.GatewayOrderID),
		zap.String("user_id", entry.UserID),
		zap.String("kind", string(entry.Kind)),
		zap.Int64("amount_yen", entry.AmountYen),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		zl.logger.Error("payment operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	zl.logger.Info("payment operation", fields...)
}
