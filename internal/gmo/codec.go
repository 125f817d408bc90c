// Package gmo implements the hash-type link integration with the GMO
// Payment Gateway (Link Type Plus): checkout URL construction and result
// notification verification.
package gmo

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	orderIDPrefix      = "ENC-"
	orderIDSuffixChars = 16
	checkoutPathFormat = "%s/v1/plus/%s/checkout/%s.%s"
)

// Config carries the shop credentials shared with the gateway.
type Config struct {
	// LinkBaseURL is the gateway-hosted checkout origin, e.g. https://pt01.mul-pay.jp.
	LinkBaseURL string
	ShopID      string
	// ShopPass signs outbound checkout payloads.
	ShopPass string
	// ConfigID selects the merchant page configuration registered with the gateway.
	ConfigID string
	// ResultHashKey verifies inbound result notifications.
	ResultHashKey string
	// StrictVerification refuses notifications when ResultHashKey is unset.
	// Leaving it false is an escape hatch for pre-production shops that have
	// no result key issued yet and is unsafe anywhere else.
	StrictVerification bool
}

// Codec builds signed checkout URLs and verifies notification hashes.
type Codec struct {
	cfg    Config
	logger *zap.Logger
}

// NewCodec validates the shop configuration and returns a Codec.
func NewCodec(cfg Config, logger *zap.Logger) (*Codec, error) {
	if strings.TrimSpace(cfg.LinkBaseURL) == "" {
		return nil, fmt.Errorf("%w: link base url is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ShopID) == "" {
		return nil, fmt.Errorf("%w: shop id is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ShopPass) == "" {
		return nil, fmt.Errorf("%w: shop pass is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.ConfigID) == "" {
		return nil, fmt.Errorf("%w: config id is required", ErrInvalidConfig)
	}
	if cfg.StrictVerification && strings.TrimSpace(cfg.ResultHashKey) == "" {
		return nil, fmt.Errorf("%w: strict verification requires a result hash key", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codec{cfg: cfg, logger: logger}, nil
}

// GenerateOrderID returns a fresh gateway-safe order identifier. The gateway
// accepts alphanumerics and hyphens only.
func GenerateOrderID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return orderIDPrefix + strings.ToUpper(raw[:orderIDSuffixChars])
}

// checkoutPayload is the transaction document embedded in the checkout URL.
// Field order is fixed; the gateway hashes the serialized form verbatim.
type checkoutPayload struct {
	ConfigID    string              `json:"configid"`
	Transaction checkoutTransaction `json:"transaction"`
}

type checkoutTransaction struct {
	OrderID  string `json:"OrderID"`
	Amount   string `json:"Amount"`
	Overview string `json:"Overview"`
}

// BuildCheckoutURL serializes the transaction, base64-encodes it, appends a
// SHA-256 proof keyed on the shop pass, and returns the hosted checkout URL.
func (codec *Codec) BuildCheckoutURL(orderID string, amountYen int64, overview string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("%w: empty order id", ErrInvalidPayload)
	}
	if amountYen <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
	}
	payload := checkoutPayload{
		ConfigID: codec.cfg.ConfigID,
		Transaction: checkoutTransaction{
			OrderID:  orderID,
			Amount:   fmt.Sprintf("%d", amountYen),
			Overview: overview,
		},
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	alpha := base64.StdEncoding.EncodeToString(serialized)
	gamma := sha256Hex(alpha + codec.cfg.ShopPass)
	checkoutURL := fmt.Sprintf(checkoutPathFormat, strings.TrimRight(codec.cfg.LinkBaseURL, "/"), codec.cfg.ShopID, alpha, gamma)
	codec.logger.Info("checkout url built",
		zap.String("order_id", orderID),
		zap.Int64("amount", amountYen))
	return checkoutURL, nil
}

// VerifyResultHash checks the integrity proof carried by a result
// notification: SHA-256 over ShopID + OrderID + Amount + result hash key.
// With no result key configured and strict verification off, the check
// passes trivially and a warning is logged.
func (codec *Codec) VerifyResultHash(shopID string, orderID string, amount string, hashValue string) error {
	if codec.cfg.ResultHashKey == "" {
		if codec.cfg.StrictVerification {
			return fmt.Errorf("%w: result hash key is not configured", ErrVerificationFailed)
		}
		codec.logger.Warn("result hash key not configured, skipping notification verification",
			zap.String("order_id", orderID))
		return nil
	}
	expected := sha256Hex(shopID + orderID + amount + codec.cfg.ResultHashKey)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(hashValue)) != 1 {
		codec.logger.Error("notification hash mismatch",
			zap.String("order_id", orderID),
			zap.String("expected", expected),
			zap.String("received", hashValue))
		return fmt.Errorf("%w: order %s expected %s received %s", ErrVerificationFailed, orderID, expected, hashValue)
	}
	return nil
}

func sha256Hex(input string) string {
	digest := sha256.Sum256([]byte(input))
	return hex.EncodeToString(digest[:])
}
