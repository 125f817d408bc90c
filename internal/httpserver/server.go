// Package httpserver exposes the REST surface and the gateway webhook.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirai-gpro/ANDCORE/internal/config"
	"github.com/mirai-gpro/ANDCORE/internal/media"
	"github.com/mirai-gpro/ANDCORE/internal/objectstore"
	"github.com/mirai-gpro/ANDCORE/internal/payment"
)

// Dependencies carries the constructed collaborators the server needs.
type Dependencies struct {
	Payments   *payment.Service
	Compositor media.Compositor
	Issuer     objectstore.Issuer
}

// Run boots the HTTP server using the supplied configuration and blocks
// until ctx is cancelled or the listener fails.
func Run(ctx context.Context, cfg config.Config, deps Dependencies, logger *zap.Logger) error {
	handler := &httpHandler{
		logger:     logger,
		payments:   deps.Payments,
		compositor: deps.Compositor,
		issuer:     deps.Issuer,
		cfg:        cfg,
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("encore api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg config.Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	// The gateway posts here unauthenticated; the hash is the auth.
	api.POST("/payment/notify", handler.handleNotify)
	api.GET("/payment/complete", handler.handleComplete)
	api.GET("/payment/cancel", handler.handleCancel)

	api.POST("/media/composite", handler.handleComposite)
	api.POST("/upload/signed-url", handler.handleSignedURL)

	authed := api.Group("")
	authed.Use(bearerAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	authed.POST("/payment/charge", handler.handleCharge)
	authed.POST("/payment/ticket", handler.handleTicket)
	authed.GET("/payment/orders", handler.handleOrders)

	return router
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
