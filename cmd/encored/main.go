package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mirai-gpro/ANDCORE/internal/config"
	"github.com/mirai-gpro/ANDCORE/internal/gmo"
	"github.com/mirai-gpro/ANDCORE/internal/httpserver"
	"github.com/mirai-gpro/ANDCORE/internal/media"
	"github.com/mirai-gpro/ANDCORE/internal/objectstore"
	"github.com/mirai-gpro/ANDCORE/internal/payment"
	"github.com/mirai-gpro/ANDCORE/internal/store/gormstore"
)

const (
	flagListenAddr      = "listen-addr"
	flagDatabaseURL     = "database-url"
	flagFrontendBaseURL = "frontend-base-url"
	flagAllowedOrigins  = "allowed-origins"
	flagEnvironment     = "environment"

	configKeyListenAddr      = "listen_addr"
	configKeyDatabaseURL     = "database_url"
	configKeyFrontendBaseURL = "frontend_base_url"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyEnvironment     = "environment"
	configKeyJWTSigningKey   = "jwt_signing_key"
	configKeyJWTIssuer       = "jwt_issuer"
	configKeyGCSBucket       = "gcs_bucket"
	configKeyGMOLinkBaseURL  = "gmo_link_base_url"
	configKeyGMOShopID       = "gmo_shop_id"
	configKeyGMOShopPass     = "gmo_shop_pass"
	configKeyGMOConfigID     = "gmo_config_id"
	configKeyGMOResultKey    = "gmo_result_hash_key"
	configKeyGMOStrictVerify = "gmo_strict_verification"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "encored: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "encored",
		Short:         "Encore commerce backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, *cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, "", "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagFrontendBaseURL, "", "Frontend origin for payment redirects")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-delimited CORS origins")
	cmd.Flags().String(flagEnvironment, "", "Deployment environment (development or production)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyListenAddr:      "LISTEN_ADDR",
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyFrontendBaseURL: "FRONTEND_BASE_URL",
		configKeyAllowedOrigins:  "ALLOWED_ORIGINS",
		configKeyEnvironment:     "ENVIRONMENT",
		configKeyJWTSigningKey:   "JWT_SIGNING_KEY",
		configKeyJWTIssuer:       "JWT_ISSUER",
		configKeyGCSBucket:       "GCS_BUCKET",
		configKeyGMOLinkBaseURL:  "GMO_LINK_BASE_URL",
		configKeyGMOShopID:       "GMO_SHOP_ID",
		configKeyGMOShopPass:     "GMO_SHOP_PASS",
		configKeyGMOConfigID:     "GMO_CONFIG_ID",
		configKeyGMOResultKey:    "GMO_RESULT_HASH_KEY",
		configKeyGMOStrictVerify: "GMO_STRICT_VERIFICATION",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyListenAddr:      flagListenAddr,
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyFrontendBaseURL: flagFrontendBaseURL,
		configKeyAllowedOrigins:  flagAllowedOrigins,
		configKeyEnvironment:     flagEnvironment,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.FrontendBaseURL = viper.GetString(configKeyFrontendBaseURL)
	cfg.AllowedOrigins = config.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins))
	cfg.Environment = viper.GetString(configKeyEnvironment)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.JWTIssuer = viper.GetString(configKeyJWTIssuer)
	cfg.GCSBucket = viper.GetString(configKeyGCSBucket)
	cfg.GMOLinkBaseURL = viper.GetString(configKeyGMOLinkBaseURL)
	cfg.GMOShopID = viper.GetString(configKeyGMOShopID)
	cfg.GMOShopPass = viper.GetString(configKeyGMOShopPass)
	cfg.GMOConfigID = viper.GetString(configKeyGMOConfigID)
	cfg.GMOResultHashKey = viper.GetString(configKeyGMOResultKey)
	cfg.GMOStrictVerification = viper.GetBool(configKeyGMOStrictVerify)

	return cfg.Validate()
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.GMOStrictVerification {
		logger.Warn("strict notification verification is disabled; unverified gateway callbacks will be accepted")
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	codec, err := gmo.NewCodec(gmo.Config{
		LinkBaseURL:        cfg.GMOLinkBaseURL,
		ShopID:             cfg.GMOShopID,
		ShopPass:           cfg.GMOShopPass,
		ConfigID:           cfg.GMOConfigID,
		ResultHashKey:      cfg.GMOResultHashKey,
		StrictVerification: cfg.GMOStrictVerification,
	}, logger)
	if err != nil {
		return fmt.Errorf("gateway codec init: %w", err)
	}

	store := gormstore.New(gormDB)
	clock := func() time.Time { return time.Now().UTC() }
	paymentService, err := payment.NewService(store, codec, clock,
		payment.WithOperationLogger(payment.NewZapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("payment service init: %w", err)
	}

	deps := httpserver.Dependencies{
		Payments:   paymentService,
		Compositor: media.NewDrawCompositor(),
	}

	if cfg.GCSBucket != "" {
		storageClient, storageErr := storage.NewClient(ctx)
		if storageErr != nil {
			return fmt.Errorf("storage client init: %w", storageErr)
		}
		defer storageClient.Close()
		issuer, issuerErr := objectstore.NewGCSIssuer(storageClient, cfg.GCSBucket)
		if issuerErr != nil {
			return fmt.Errorf("object store init: %w", issuerErr)
		}
		deps.Issuer = issuer
	} else {
		logger.Warn("gcs bucket not configured; signed upload urls are disabled")
	}

	return httpserver.Run(ctx, cfg, deps, logger)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "encore.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := gormstore.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
