// Package runtime turns a Config into a running server: stores, Redis
// coordination, the HTTP router chain and the application services.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/impnet/service_layer/internal/app"
	"github.com/impnet/service_layer/internal/app/authz"
	"github.com/impnet/service_layer/internal/app/httpapi"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/app/realtime"
	"github.com/impnet/service_layer/internal/app/services/ledger"
	"github.com/impnet/service_layer/internal/app/storage/postgres"
	redisstore "github.com/impnet/service_layer/internal/app/storage/redis"
	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/internal/config"
	"github.com/impnet/service_layer/internal/logging"
	"github.com/impnet/service_layer/internal/middleware"
	"github.com/impnet/service_layer/internal/platform/migrations"
	"github.com/impnet/service_layer/pkg/logger"
)

const lockPrefix = "service_layer:lock:"

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	httpLog *logging.Logger
	app     *app.Application
	handler http.Handler
	server  *http.Server
	limiter *middleware.RateLimiter
	db      *sql.DB
	redis   *goredis.Client
	audit   *httpapi.FileAuditSink
}

// NewApplication constructs the application described by cfg. A nil cfg is
// loaded from the environment.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	httpLog := logging.New("service_layer", cfg.Logging.Level, cfg.Logging.Format)

	a := &Application{cfg: cfg, log: log, httpLog: httpLog}
	if err := a.build(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *Application) build() error {
	cfg := a.cfg

	codec := money.NewCodec(cfg.Ledger.Scale, cfg.Ledger.Currency)
	grant, err := codec.Parse(cfg.Ledger.StartingGrant)
	if err != nil {
		return fmt.Errorf("ledger starting grant: %w", err)
	}

	stores, err := a.buildStores()
	if err != nil {
		return fmt.Errorf("configure stores: %w", err)
	}

	opts := app.Options{
		Ledger: ledger.Config{
			StartingGrant: grant,
			MaxRetries:    cfg.Ledger.MaxRetries,
			PageLimit:     cfg.Ledger.PageLimit,
		},
		Codec:           codec,
		PayrollSchedule: cfg.Payroll.Schedule,
	}
	if cfg.Redis.Enabled() {
		client, err := openRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("configure redis: %w", err)
		}
		a.redis = client
		opts.PayrollLocker = app.PayrollLocker(redisstore.NewLocker(client, lockPrefix, redisstore.LockOptions{
			Expiry: cfg.Payroll.LockTTL,
			Tries:  1,
		}))
		opts.Relay = redisstore.NewRelay(client, cfg.Redis.Channel, a.log)
	} else {
		a.log.Warn("REDIS_ADDR not set; payroll lock and realtime events are local to this instance")
	}

	application, err := app.New(stores, opts, a.log)
	if err != nil {
		return err
	}
	a.app = application

	key, err := authKey(cfg.Auth)
	if err != nil {
		return err
	}

	if cfg.Audit.File != "" {
		sink, err := httpapi.NewFileAuditSink(cfg.Audit.File)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		a.audit = sink
	}
	var auditSink httpapi.AuditSink
	if a.audit != nil {
		auditSink = a.audit
	}

	cors := middleware.NewCORSMiddleware(cfg.CORS.Origins())
	ws := realtime.NewHandler(application.Registry, application.Chat, realtime.ConnConfig{
		SendBuffer:   cfg.Realtime.SendBuffer,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		PingInterval: cfg.Realtime.PingInterval,
	}, cors.CheckOrigin, a.log)

	api := httpapi.NewHandler(application, httpapi.Options{
		Policy:   authz.NewRolePolicy(cfg.Roles),
		Audit:    httpapi.NewAuditLog(0, auditSink),
		Realtime: ws,
		Logger:   a.httpLog,
	})

	a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, a.httpLog)
	if err := application.Attach(a.limiterCleanup()); err != nil {
		return err
	}
	auth := middleware.NewAuthMiddleware(key, a.httpLog, cfg.Auth.SkipPaths)
	tracing := middleware.NewTracingMiddleware(a.httpLog)

	// outermost first
	chain := []func(http.Handler) http.Handler{
		chimw.RealIP,
		chimw.Recoverer,
		tracing.Handler,
		middleware.MetricsMiddleware,
		cors.Handler,
		auth.Handler,
		a.limiter.Handler,
	}
	var handler http.Handler = api
	for i := len(chain) - 1; i >= 0; i-- {
		handler = chain[i](handler)
	}
	a.handler = handler

	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return nil
}

// limiterCleanup evicts idle rate limiter buckets while the services run.
func (a *Application) limiterCleanup() system.Service {
	var cancel context.CancelFunc
	return system.Hooks{
		ServiceName: "ratelimit-cleanup",
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			a.limiter.StartCleanup(ctx, time.Minute)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	}
}

// App returns the composed services.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the full middleware chain and router.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts the services and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops accepting requests, then stops the services and releases
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if a.app != nil {
		if err := a.app.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeResources()
	_ = a.httpLog.Sync()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit log")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

// buildStores returns Postgres-backed stores when a DSN is configured and
// in-memory stores otherwise.
func (a *Application) buildStores() (app.Stores, error) {
	if strings.TrimSpace(a.cfg.Database.DSN) == "" {
		a.log.Warn("DATABASE_URL not set; using in-memory stores")
		return app.Stores{}, nil
	}

	db, err := openDatabase(a.cfg.Database)
	if err != nil {
		return app.Stores{}, err
	}
	a.db = db

	if a.cfg.Database.Migrate {
		if err := migrations.Up(db); err != nil {
			return app.Stores{}, fmt.Errorf("migrate database: %w", err)
		}
	}

	store := postgres.New(db)
	return app.Stores{Ledger: store, Payroll: store, Chat: store}, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openRedis(cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// authKey returns the RSA public key when a key file is configured and the
// HMAC secret otherwise.
func authKey(cfg config.AuthConfig) (interface{}, error) {
	if path := strings.TrimSpace(cfg.JWTPublicKeyFile); path != "" {
		key, err := middleware.LoadRSAPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		return key, nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET or JWT_PUBLIC_KEY_FILE is required")
	}
	return []byte(cfg.JWTSecret), nil
}
