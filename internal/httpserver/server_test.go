package httpserver

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mirai-gpro/ANDCORE/internal/config"
	"github.com/mirai-gpro/ANDCORE/internal/gmo"
	"github.com/mirai-gpro/ANDCORE/internal/media"
	"github.com/mirai-gpro/ANDCORE/internal/payment"
	"github.com/mirai-gpro/ANDCORE/internal/store/gormstore"
)

const (
	testSigningKey = "test-signing-key"
	testIssuer     = "encore"
	testShopID     = "tshop00000001"
	testResultKey  = "resultkey"
)

type testBackend struct {
	router http.Handler
	store  *gormstore.Store
	db     *gorm.DB
}

func newTestBackend(test *testing.T) *testBackend {
	test.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	store := gormstore.New(db)

	codec, err := gmo.NewCodec(gmo.Config{
		LinkBaseURL:   "https://stg.link.mul-pay.jp",
		ShopID:        testShopID,
		ShopPass:      "shoppass",
		ConfigID:      "checkout-main",
		ResultHashKey: testResultKey,
	}, zap.NewNop())
	if err != nil {
		test.Fatalf("NewCodec: %v", err)
	}

	paymentService, err := payment.NewService(store, codec, func() time.Time { return time.Now().UTC() })
	if err != nil {
		test.Fatalf("NewService: %v", err)
	}

	cfg := config.Config{
		ListenAddr:      ":0",
		FrontendBaseURL: "http://localhost:4321",
		AllowedOrigins:  []string{"http://localhost:4321"},
		JWTSigningKey:   testSigningKey,
		JWTIssuer:       testIssuer,
	}
	handler := &httpHandler{
		logger:     zap.NewNop(),
		payments:   paymentService,
		compositor: media.NewDrawCompositor(),
		cfg:        cfg,
	}
	return &testBackend{router: setupRouter(cfg, handler), store: store, db: db}
}

func (backend *testBackend) seedProfile(test *testing.T, userID string, balance int64) {
	test.Helper()
	now := time.Now().UTC()
	err := backend.db.Exec(
		"INSERT INTO profiles (user_id, points_balance, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, balance, now, now).Error
	if err != nil {
		test.Fatalf("seed profile: %v", err)
	}
}

func bearerToken(test *testing.T, subject string) string {
	test.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	return signed
}

func (backend *testBackend) do(test *testing.T, request *http.Request) *httptest.ResponseRecorder {
	test.Helper()
	recorder := httptest.NewRecorder()
	backend.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSON(test *testing.T, body *bytes.Buffer, target interface{}) {
	test.Helper()
	if err := json.Unmarshal(body.Bytes(), target); err != nil {
		test.Fatalf("decode response %q: %v", body.String(), err)
	}
}

func TestHealthz(test *testing.T) {
	backend := newTestBackend(test)
	response := backend.do(test, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if response.Code != http.StatusOK {
		test.Fatalf("status = %d", response.Code)
	}
}

func TestChargeRequiresAuth(test *testing.T) {
	backend := newTestBackend(test)

	request := httptest.NewRequest(http.MethodPost, "/api/payment/charge", strings.NewReader(`{"points_amount":500,"amount":500}`))
	request.Header.Set("Content-Type", "application/json")
	if response := backend.do(test, request); response.Code != http.StatusUnauthorized {
		test.Fatalf("no token: status = %d", response.Code)
	}

	request = httptest.NewRequest(http.MethodPost, "/api/payment/charge", strings.NewReader(`{"points_amount":500,"amount":500}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer not-a-token")
	if response := backend.do(test, request); response.Code != http.StatusUnauthorized {
		test.Fatalf("garbage token: status = %d", response.Code)
	}
}

func TestChargeCheckoutFlow(test *testing.T) {
	backend := newTestBackend(test)
	backend.seedProfile(test, "user-1", 0)
	token := bearerToken(test, "user-1")

	request := httptest.NewRequest(http.MethodPost, "/api/payment/charge", strings.NewReader(`{"points_amount":500,"amount":500}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	response := backend.do(test, request)
	if response.Code != http.StatusOK {
		test.Fatalf("status = %d body = %s", response.Code, response.Body.String())
	}

	var checkout struct {
		PaymentURL string `json:"payment_url"`
		OrderID    string `json:"order_id"`
	}
	decodeJSON(test, response.Body, &checkout)
	if !strings.HasPrefix(checkout.OrderID, "ENC-") {
		test.Fatalf("order id = %q", checkout.OrderID)
	}
	if !strings.Contains(checkout.PaymentURL, "/v1/plus/"+testShopID+"/checkout/") {
		test.Fatalf("payment url = %q", checkout.PaymentURL)
	}

	// Deliver the gateway success callback and confirm the credit landed.
	form := url.Values{}
	form.Set("ShopID", testShopID)
	form.Set("OrderID", checkout.OrderID)
	form.Set("Amount", "500")
	form.Set("Status", "CAPTURE")
	digest := sha256.Sum256([]byte(testShopID + checkout.OrderID + "500" + testResultKey))
	form.Set("HashValue", hex.EncodeToString(digest[:]))

	notifyRequest := httptest.NewRequest(http.MethodPost, "/api/payment/notify", strings.NewReader(form.Encode()))
	notifyRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	notifyResponse := backend.do(test, notifyRequest)
	if notifyResponse.Code != http.StatusOK {
		test.Fatalf("notify status = %d", notifyResponse.Code)
	}
	// The gateway parses exactly this JSON shape; anything else is a
	// delivery failure and triggers redelivery.
	if body := notifyResponse.Body.String(); body != `{"result":"OK"}` {
		test.Fatalf("notify body = %q, expected {\"result\":\"OK\"}", body)
	}

	balance, err := backend.store.GetBalance(request.Context(), "user-1")
	if err != nil {
		test.Fatalf("GetBalance: %v", err)
	}
	if balance != 500 {
		test.Fatalf("balance = %d, expected 500", balance)
	}

	// The order shows up completed in the history listing.
	listRequest := httptest.NewRequest(http.MethodGet, "/api/payment/orders", nil)
	listRequest.Header.Set("Authorization", "Bearer "+token)
	listResponse := backend.do(test, listRequest)
	if listResponse.Code != http.StatusOK {
		test.Fatalf("orders status = %d", listResponse.Code)
	}
	var listing struct {
		Orders []struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"orders"`
		Count int `json:"count"`
	}
	decodeJSON(test, listResponse.Body, &listing)
	if listing.Count != 1 || listing.Orders[0].OrderID != checkout.OrderID || listing.Orders[0].Status != "completed" {
		test.Fatalf("unexpected listing %+v", listing)
	}
}

func TestOrdersRejectsNonNumericPaging(test *testing.T) {
	backend := newTestBackend(test)
	token := bearerToken(test, "user-1")

	for _, target := range []string{
		"/api/payment/orders?limit=abc",
		"/api/payment/orders?offset=abc",
	} {
		request := httptest.NewRequest(http.MethodGet, target, nil)
		request.Header.Set("Authorization", "Bearer "+token)
		if response := backend.do(test, request); response.Code != http.StatusBadRequest {
			test.Fatalf("%s: status = %d, expected 400", target, response.Code)
		}
	}
}

func TestNotifyRejectsTamperedHash(test *testing.T) {
	backend := newTestBackend(test)
	backend.seedProfile(test, "user-1", 0)
	token := bearerToken(test, "user-1")

	request := httptest.NewRequest(http.MethodPost, "/api/payment/charge", strings.NewReader(`{"points_amount":500,"amount":500}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	response := backend.do(test, request)
	var checkout struct {
		OrderID string `json:"order_id"`
	}
	decodeJSON(test, response.Body, &checkout)

	form := url.Values{}
	form.Set("ShopID", testShopID)
	form.Set("OrderID", checkout.OrderID)
	form.Set("Amount", "500")
	form.Set("Status", "CAPTURE")
	form.Set("HashValue", "deadbeef")

	notifyRequest := httptest.NewRequest(http.MethodPost, "/api/payment/notify", strings.NewReader(form.Encode()))
	notifyRequest.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	notifyResponse := backend.do(test, notifyRequest)
	if notifyResponse.Code != http.StatusOK {
		test.Fatalf("notify status = %d", notifyResponse.Code)
	}
	if body := notifyResponse.Body.String(); body != `{"result":"NG"}` {
		test.Fatalf("notify body = %q, expected {\"result\":\"NG\"}", body)
	}

	balance, err := backend.store.GetBalance(request.Context(), "user-1")
	if err != nil {
		test.Fatalf("GetBalance: %v", err)
	}
	if balance != 0 {
		test.Fatalf("balance = %d, tampered callback must not credit", balance)
	}
}

func TestCancelRedirect(test *testing.T) {
	backend := newTestBackend(test)
	backend.seedProfile(test, "user-1", 0)
	token := bearerToken(test, "user-1")

	request := httptest.NewRequest(http.MethodPost, "/api/payment/charge", strings.NewReader(`{"points_amount":500,"amount":500}`))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	response := backend.do(test, request)
	var checkout struct {
		OrderID string `json:"order_id"`
	}
	decodeJSON(test, response.Body, &checkout)

	cancelRequest := httptest.NewRequest(http.MethodGet, "/api/payment/cancel?OrderID="+checkout.OrderID, nil)
	cancelResponse := backend.do(test, cancelRequest)
	if cancelResponse.Code != http.StatusFound {
		test.Fatalf("cancel status = %d", cancelResponse.Code)
	}
	location := cancelResponse.Header().Get("Location")
	if !strings.HasPrefix(location, "http://localhost:4321/payment/cancel?order_id=") {
		test.Fatalf("cancel redirect = %q", location)
	}

	order, err := backend.store.FindOrderByGatewayID(cancelRequest.Context(), checkout.OrderID)
	if err != nil {
		test.Fatalf("reload order: %v", err)
	}
	if order.Status != payment.StatusCancelled {
		test.Fatalf("status = %s, expected cancelled", order.Status)
	}
}

func TestCompleteRedirect(test *testing.T) {
	backend := newTestBackend(test)
	response := backend.do(test, httptest.NewRequest(http.MethodGet, "/api/payment/complete?OrderID=ENC-0000000000000001", nil))
	if response.Code != http.StatusFound {
		test.Fatalf("status = %d", response.Code)
	}
	if location := response.Header().Get("Location"); location != "http://localhost:4321/payment/complete?order_id=ENC-0000000000000001" {
		test.Fatalf("redirect = %q", location)
	}
}

func TestSignedURLWithoutIssuer(test *testing.T) {
	backend := newTestBackend(test)
	request := httptest.NewRequest(http.MethodPost, "/api/upload/signed-url", strings.NewReader(`{"content_type":"image/jpeg"}`))
	request.Header.Set("Content-Type", "application/json")
	if response := backend.do(test, request); response.Code != http.StatusServiceUnavailable {
		test.Fatalf("status = %d, expected 503 without object storage", response.Code)
	}
}

func TestCompositeEndpoint(test *testing.T) {
	backend := newTestBackend(test)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writePNGPart(test, writer, "base_image", color.RGBA{R: 255, A: 255})
	writePNGPart(test, writer, "overlay_image", color.RGBA{B: 255, A: 128})
	if err := writer.WriteField("quality", "80"); err != nil {
		test.Fatalf("write quality: %v", err)
	}
	if err := writer.Close(); err != nil {
		test.Fatalf("close writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/media/composite", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	response := backend.do(test, request)
	if response.Code != http.StatusOK {
		test.Fatalf("status = %d body = %s", response.Code, response.Body.String())
	}
	if contentType := response.Header().Get("Content-Type"); contentType != "image/jpeg" {
		test.Fatalf("content type = %q", contentType)
	}
	if response.Body.Len() == 0 {
		test.Fatal("empty composite body")
	}
}

func TestCompositeRejectsMissingPart(test *testing.T) {
	backend := newTestBackend(test)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writePNGPart(test, writer, "base_image", color.RGBA{R: 255, A: 255})
	if err := writer.Close(); err != nil {
		test.Fatalf("close writer: %v", err)
	}

	request := httptest.NewRequest(http.MethodPost, "/api/media/composite", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if response := backend.do(test, request); response.Code != http.StatusBadRequest {
		test.Fatalf("status = %d, expected 400", response.Code)
	}
}

func writePNGPart(test *testing.T, writer *multipart.Writer, field string, fill color.RGBA) {
	test.Helper()
	canvas := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			canvas.SetRGBA(x, y, fill)
		}
	}
	part, err := writer.CreateFormFile(field, field+".png")
	if err != nil {
		test.Fatalf("create part: %v", err)
	}
	if err := png.Encode(part, canvas); err != nil {
		test.Fatalf("encode png: %v", err)
	}
}
