package payment

const (
	operationTopUpCheckout  = "topup_checkout"
	operationTicketCheckout = "ticket_checkout"
	operationNotification   = "notification"
	operationCancel         = "cancel"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	gatewayStatusCapture = "CAPTURE"
	gatewayStatusSales   = "SALES"
	gatewayJobCdCapture  = "CAPTURE"

	maxTicketQuantity = 10
)

// Ack is the binary acknowledgement returned to the gateway. Anything other
// than OK makes the gateway redeliver the notification.
type Ack string

const (
	AckOK Ack = "OK"
	AckNG Ack = "NG"
)
