package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/contractlane/go-webhooks/core"
	"github.com/contractlane/go-webhooks/dispatch"
	"github.com/contractlane/go-webhooks/httpapi"
	"github.com/contractlane/go-webhooks/messaging"
	"github.com/contractlane/go-webhooks/migrations"
	sqlstore "github.com/contractlane/go-webhooks/store/sql"
	"github.com/contractlane/go-webhooks/webhooks"
	"github.com/go-chi/chi/v5"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	_, logger := glog.Resolve("webhookd", nil, nil)

	if err := run(logger); err != nil {
		logger.Error("webhookd exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(logger core.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := core.ResolveConfig(ctx, core.NewCfgxConfigProvider(envConfigLoader{}), nil, core.Config{})
	if err != nil {
		return err
	}

	client, err := openPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		return err
	}

	registry := webhooks.NewRegistry()

	dispatcher := dispatch.NewDispatcher(
		registry,
		factory.DispatchLog(),
		factory.TrackingLog(),
		dispatch.ConfigEndpoints{Config: cfg.Dispatch},
	)
	dispatcher.MaxAttempts = cfg.Dispatch.MaxAttempts
	dispatcher.Timeout = cfg.Dispatch.Timeout
	dispatcher.Policy.Initial = cfg.Dispatch.InitialBackoff
	dispatcher.Policy.Max = cfg.Dispatch.MaxBackoff
	dispatcher.Logger = logger

	processor := webhooks.NewProcessor(
		webhooks.SignatureVerifier{
			SignatureHeader: cfg.Signing.SignatureHeader,
			TimestampHeader: cfg.Signing.TimestampHeader,
			Secret:          cfg.Signing.Secret,
			ReplayWindow:    cfg.Signing.ReplayWindow,
		},
		registry,
		factory.IdempotencyStore(),
		dispatch.NewInboundHandler(dispatcher, cfg.Dispatch.FailOpen),
	)
	processor.IdempotencyHeader = cfg.Signing.IdempotencyHeader
	processor.ClaimTTL = cfg.Idempotency.TTL
	processor.Logger = logger

	statusHandler := messaging.NewStatusHandler(factory.MessageStatusStore())
	statusHandler.Logger = logger

	app := httpapi.NewApp(
		processor,
		statusHandler,
		webhooks.SecretVerifier{
			Header: cfg.Lifecycle.Header,
			Secret: cfg.Lifecycle.Secret,
		},
		factory.TrackingLog(),
	)
	app.DB = factory.DB()
	app.Logger = logger

	router := chi.NewRouter()
	httpapi.RegisterRoutes(router, app)

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhookd listening",
			"address", cfg.Server.Address,
			"driver", cfg.Database.Driver,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openPersistence(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	sqlDB, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	dialect := persistenceDialect(cfg.Database.Driver)
	client, err := persistence.New(persistenceConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	target := migrations.DialectSQLite
	if strings.HasPrefix(cfg.Database.Driver, "postgres") {
		target = migrations.DialectPostgres
	}
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(target))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func persistenceDialect(driver string) schema.Dialect {
	if strings.HasPrefix(driver, "postgres") {
		return pgdialect.New()
	}
	return sqlitedialect.New()
}

type persistenceConfig struct {
	cfg core.Config
}

func (c persistenceConfig) GetDebug() bool {
	return c.cfg.Database.Debug
}

func (c persistenceConfig) GetDriver() string {
	return c.cfg.Database.Driver
}

func (c persistenceConfig) GetServer() string {
	return c.cfg.Database.DSN
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	if c.cfg.Database.PingTimeout > 0 {
		return c.cfg.Database.PingTimeout
	}
	return time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return c.cfg.ServiceName
}

// envConfigLoader maps a small set of environment variables onto the nested
// config layout. Anything unset falls back to the defaults layer.
type envConfigLoader struct{}

func (envConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}

	if value := os.Getenv("WEBHOOKS_SERVER_ADDRESS"); value != "" {
		raw["server"] = map[string]any{"address": value}
	}

	signing := map[string]any{}
	if value := os.Getenv("WEBHOOKS_SIGNING_SECRET"); value != "" {
		signing["secret"] = value
	}
	if value := os.Getenv("WEBHOOKS_REPLAY_WINDOW"); value != "" {
		if window, err := time.ParseDuration(value); err == nil {
			signing["replay_window"] = window
		}
	}
	if len(signing) > 0 {
		raw["signing"] = signing
	}

	if value := os.Getenv("WEBHOOKS_LIFECYCLE_SECRET"); value != "" {
		raw["lifecycle"] = map[string]any{"secret": value}
	}

	dispatchCfg := map[string]any{}
	if value := os.Getenv("WEBHOOKS_DISPATCH_ENDPOINT"); value != "" {
		dispatchCfg["endpoint_url"] = value
	}
	if len(dispatchCfg) > 0 {
		raw["dispatch"] = dispatchCfg
	}

	database := map[string]any{}
	if value := os.Getenv("WEBHOOKS_DB_DRIVER"); value != "" {
		database["driver"] = value
	}
	if value := os.Getenv("WEBHOOKS_DB_DSN"); value != "" {
		database["dsn"] = value
	}
	if len(database) > 0 {
		raw["database"] = database
	}

	return raw, nil
}
