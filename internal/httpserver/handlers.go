package httpserver

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirai-gpro/ANDCORE/internal/config"
	"github.com/mirai-gpro/ANDCORE/internal/gmo"
	"github.com/mirai-gpro/ANDCORE/internal/media"
	"github.com/mirai-gpro/ANDCORE/internal/objectstore"
	"github.com/mirai-gpro/ANDCORE/internal/payment"
)

const (
	defaultCompositeQuality = 92
	maxCompositePartBytes   = 10 << 20
)

type httpHandler struct {
	logger     *zap.Logger
	payments   *payment.Service
	compositor media.Compositor
	issuer     objectstore.Issuer
	cfg        config.Config
}

type chargeRequest struct {
	PointsAmount int64 `json:"points_amount"`
	Amount       int64 `json:"amount"`
}

type ticketRequest struct {
	TicketProductID string `json:"ticket_product_id"`
	Quantity        int64  `json:"quantity"`
}

type checkoutResponse struct {
	PaymentURL string `json:"payment_url"`
	OrderID    string `json:"order_id"`
}

func (handler *httpHandler) handleCharge(requestContext *gin.Context) {
	var request chargeRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "malformed request body"))
		return
	}

	result, err := handler.payments.CreateTopUpCheckout(requestContext.Request.Context(),
		authenticatedUserID(requestContext), request.PointsAmount, request.Amount)
	if err != nil {
		handler.respondCheckoutError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, checkoutResponse{PaymentURL: result.CheckoutURL, OrderID: result.OrderID})
}

func (handler *httpHandler) handleTicket(requestContext *gin.Context) {
	var request ticketRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "malformed request body"))
		return
	}

	result, err := handler.payments.CreateTicketCheckout(requestContext.Request.Context(),
		authenticatedUserID(requestContext), request.TicketProductID, request.Quantity)
	if err != nil {
		handler.respondCheckoutError(requestContext, err)
		return
	}
	requestContext.JSON(http.StatusOK, checkoutResponse{PaymentURL: result.CheckoutURL, OrderID: result.OrderID})
}

func (handler *httpHandler) respondCheckoutError(requestContext *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount) || errors.Is(err, payment.ErrInvalidQuantity) ||
		errors.Is(err, payment.ErrInvalidUserID):
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, payment.ErrProductNotFound):
		requestContext.JSON(http.StatusNotFound, errorResponse("product_not_found", "ticket product not found"))
	case errors.Is(err, payment.ErrInsufficientStock):
		requestContext.JSON(http.StatusConflict, errorResponse("insufficient_stock", "not enough tickets remaining"))
	default:
		handler.logger.Error("checkout failed", zap.Error(err))
		requestContext.JSON(http.StatusInternalServerError, errorResponse("internal_error", "checkout could not be created"))
	}
}

// handleNotify receives the gateway's result callback. The response body is
// the {"result":"OK"|"NG"} ack the gateway contract demands; internal failure
// detail only goes to the log.
func (handler *httpHandler) handleNotify(requestContext *gin.Context) {
	if err := requestContext.Request.ParseForm(); err != nil {
		handler.logger.Warn("unparseable notification", zap.Error(err))
		requestContext.JSON(http.StatusOK, gin.H{"result": string(payment.AckNG)})
		return
	}
	notification := gmo.ParseNotification(requestContext.Request.PostForm)

	ack, err := handler.payments.ProcessNotification(requestContext.Request.Context(), notification)
	if err != nil {
		handler.logger.Warn("notification not applied",
			zap.String("gateway_order_id", notification.OrderID),
			zap.String("ack", string(ack)),
			zap.Error(err))
	}
	requestContext.JSON(http.StatusOK, gin.H{"result": string(ack)})
}

func (handler *httpHandler) handleComplete(requestContext *gin.Context) {
	handler.redirectToFrontend(requestContext, "/payment/complete")
}

func (handler *httpHandler) handleCancel(requestContext *gin.Context) {
	orderID := requestContext.Query("OrderID")
	if orderID != "" {
		if err := handler.payments.CancelOrder(requestContext.Request.Context(), orderID); err != nil {
			// The user is mid-redirect; cancellation failure only gets logged.
			handler.logger.Warn("cancel on return failed",
				zap.String("gateway_order_id", orderID), zap.Error(err))
		}
	}
	handler.redirectToFrontend(requestContext, "/payment/cancel")
}

func (handler *httpHandler) redirectToFrontend(requestContext *gin.Context, path string) {
	target := handler.cfg.FrontendBaseURL + path
	if orderID := requestContext.Query("OrderID"); orderID != "" {
		target += "?order_id=" + url.QueryEscape(orderID)
	}
	requestContext.Redirect(http.StatusFound, target)
}

type orderResponse struct {
	OrderID      string     `json:"order_id"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	AmountYen    int64      `json:"amount_yen"`
	PointsAmount int64      `json:"points_amount,omitempty"`
	ProductID    string     `json:"ticket_product_id,omitempty"`
	Quantity     int64      `json:"ticket_quantity,omitempty"`
	ErrorCode    string     `json:"error_code,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (handler *httpHandler) handleOrders(requestContext *gin.Context) {
	limit, err := strconv.Atoi(requestContext.DefaultQuery("limit", "20"))
	if err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "limit must be an integer"))
		return
	}
	offset, err := strconv.Atoi(requestContext.DefaultQuery("offset", "0"))
	if err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "offset must be an integer"))
		return
	}

	orders, err := handler.payments.ListOrders(requestContext.Request.Context(),
		authenticatedUserID(requestContext), limit, offset)
	if err != nil {
		handler.logger.Error("order listing failed", zap.Error(err))
		requestContext.JSON(http.StatusInternalServerError, errorResponse("internal_error", "orders could not be listed"))
		return
	}

	payloads := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, orderResponse{
			OrderID:      order.GatewayOrderID,
			Kind:         string(order.Kind),
			Status:       string(order.Status),
			AmountYen:    order.AmountYen,
			PointsAmount: order.PointsAmount,
			ProductID:    order.TicketProductID,
			Quantity:     order.TicketQuantity,
			ErrorCode:    order.ErrorCode,
			CreatedAt:    order.CreatedAt,
			CompletedAt:  order.CompletedAt,
		})
	}
	requestContext.JSON(http.StatusOK, gin.H{"orders": payloads, "count": len(payloads)})
}

func (handler *httpHandler) handleComposite(requestContext *gin.Context) {
	baseBytes, err := readMultipartImage(requestContext, "base_image")
	if err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "base_image part is required"))
		return
	}
	overlayBytes, err := readMultipartImage(requestContext, "overlay_image")
	if err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "overlay_image part is required"))
		return
	}
	quality := defaultCompositeQuality
	if raw := requestContext.PostForm("quality"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "quality must be an integer"))
			return
		}
		quality = parsed
	}

	composited, err := handler.compositor.Composite(baseBytes, overlayBytes, quality)
	if err != nil {
		if errors.Is(err, media.ErrInvalidImage) || errors.Is(err, media.ErrInvalidQuality) {
			requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
			return
		}
		handler.logger.Error("composite failed", zap.Error(err))
		requestContext.JSON(http.StatusInternalServerError, errorResponse("internal_error", "composite failed"))
		return
	}

	requestContext.Header("Content-Disposition", `inline; filename="composite.jpg"`)
	requestContext.Data(http.StatusOK, "image/jpeg", composited)
}

func readMultipartImage(requestContext *gin.Context, field string) ([]byte, error) {
	fileHeader, err := requestContext.FormFile(field)
	if err != nil {
		return nil, err
	}
	var file multipart.File
	file, err = fileHeader.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(io.LimitReader(file, maxCompositePartBytes))
}

type signedURLRequest struct {
	ContentType   string `json:"content_type"`
	FileExtension string `json:"file_extension"`
}

func (handler *httpHandler) handleSignedURL(requestContext *gin.Context) {
	if handler.issuer == nil {
		requestContext.JSON(http.StatusServiceUnavailable, errorResponse("storage_unconfigured", "object storage is not configured"))
		return
	}
	var request signedURLRequest
	if err := requestContext.ShouldBindJSON(&request); err != nil {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "malformed request body"))
		return
	}
	if request.ContentType == "" {
		requestContext.JSON(http.StatusBadRequest, errorResponse("invalid_request", "content_type is required"))
		return
	}

	signed, err := handler.issuer.SignedUploadURL(requestContext.Request.Context(), request.ContentType, request.FileExtension)
	if err != nil {
		handler.logger.Error("signed url issuance failed", zap.Error(err))
		requestContext.JSON(http.StatusInternalServerError, errorResponse("internal_error", "signed url could not be issued"))
		return
	}
	requestContext.JSON(http.StatusOK, gin.H{
		"upload_url":  signed.UploadURL,
		"object_path": signed.ObjectPath,
	})
}
