package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-blog-auth"
	"github.com/goliatone/go-blog-auth/config"
	"github.com/goliatone/go-blog-auth/logging"
	"github.com/goliatone/go-blog-auth/mail"
	"github.com/goliatone/go-blog-auth/metrics"
	"github.com/goliatone/go-blog-auth/middleware/jwtware"
	"github.com/goliatone/go-blog-auth/ratelimit"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"
)

type limiters struct {
	resetByEmail  ratelimit.Admitter
	resetByIP     ratelimit.Admitter
	resendByEmail ratelimit.Admitter
	resendByIP    ratelimit.Admitter
	pruners       []auth.Pruner
}

type App struct {
	config   *config.Config
	zap      *zap.Logger
	logger   *logging.Adapter
	db       *bun.DB
	repo     auth.RepositoryManager
	redis    *redis.Client
	sender   *mail.AsyncSender
	limiters limiters
	metrics  *metrics.Collector
	activity auth.ActivitySink

	tokens   *auth.TokenServiceImpl
	verifier *auth.EmailVerificationService
	resetter *auth.PasswordResetService
	auther   *auth.Auther
	register *auth.RegisterUserHandler
	provider *auth.UserProvider

	cleanup *auth.CleanupScheduler
	srv     *fiber.App
}

func (a *App) GetLogger(name string) *logging.Adapter {
	return a.logger.Named(name)
}

func WithConfig(_ context.Context, app *App) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.config = cfg
	return nil
}

func WithLogger(_ context.Context, app *App) error {
	lgr, err := logging.New(logging.Config{
		Level: app.config.Logging.Level,
		Dev:   app.config.Logging.Dev,
	})
	if err != nil {
		return err
	}
	app.zap = lgr
	app.logger = logging.NewAdapter(lgr)
	app.metrics = metrics.New()
	app.activity = auth.MultiActivitySink(app.metrics, auth.LoggerActivitySink(app.GetLogger("activity")))
	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.Database

	var (
		sqldb   *sql.DB
		err     error
		bunDB   *bun.DB
		dialect = cfg.Driver
	)

	switch cfg.Driver {
	case "postgres":
		sqldb, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return fmt.Errorf("db open error: %w", err)
		}
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return fmt.Errorf("db open error: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping error: %w", err)
	}

	if cfg.Migrate {
		if err := auth.Migrate(ctx, sqldb, dialect); err != nil {
			return err
		}
	}

	app.db = bunDB
	app.repo = auth.NewRepositoryManager(bunDB)
	return app.repo.Validate()
}

func WithMailer(_ context.Context, app *App) error {
	cfg := app.config.SMTP

	var next mail.Sender
	if cfg.Enabled {
		next = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
			StartTLS: cfg.StartTLS,
		}, app.GetLogger("smtp"))
	} else {
		next = mail.NewLogSender(app.GetLogger("mail"))
	}

	app.sender = mail.NewAsyncSender(next, cfg.Timeout, app.GetLogger("mail"))
	return nil
}

func WithRateLimiters(ctx context.Context, app *App) error {
	cfg := app.config.RateLimit
	lgr := app.GetLogger("ratelimit")

	if cfg.Backend == "redis" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping error: %w", err)
		}

		build := func(prefix string, p ratelimit.Policy) (ratelimit.Admitter, error) {
			return ratelimit.NewRedisAdmitter(app.redis, "blogauth:rl:"+prefix, p, ratelimit.WithRedisLogger(lgr))
		}

		var err error
		if app.limiters.resetByEmail, err = build("reset-email:", cfg.PasswordResetByEmail); err != nil {
			return err
		}
		if app.limiters.resetByIP, err = build("reset-ip:", cfg.PasswordResetByIP); err != nil {
			return err
		}
		if app.limiters.resendByEmail, err = build("resend-email:", cfg.ResendByEmail); err != nil {
			return err
		}
		if app.limiters.resendByIP, err = build("resend-ip:", cfg.ResendByIP); err != nil {
			return err
		}
		return nil
	}

	resetByEmail := ratelimit.New(cfg.PasswordResetByEmail)
	resetByIP := ratelimit.New(cfg.PasswordResetByIP)
	resendByEmail := ratelimit.New(cfg.ResendByEmail)
	resendByIP := ratelimit.New(cfg.ResendByIP)

	app.limiters = limiters{
		resetByEmail:  resetByEmail,
		resetByIP:     resetByIP,
		resendByEmail: resendByEmail,
		resendByIP:    resendByIP,
		pruners:       []auth.Pruner{resetByEmail, resetByIP, resendByEmail, resendByIP},
	}
	return nil
}

func WithServices(_ context.Context, app *App) error {
	cfg := app.config

	app.tokens = auth.NewTokenServiceFromConfig(cfg, auth.WithTokenLogger(app.GetLogger("tokens")))

	app.verifier = auth.NewEmailVerificationService(app.repo, app.tokens, cfg).
		WithSender(app.sender).
		WithLimiter(app.limiters.resendByEmail).
		WithLogger(app.GetLogger("verification")).
		WithActivitySink(app.activity)

	app.resetter = auth.NewPasswordResetService(app.repo, cfg).
		WithSender(app.sender).
		WithLimiter(app.limiters.resetByEmail).
		WithLogger(app.GetLogger("password-reset")).
		WithActivitySink(app.activity)

	app.provider = auth.NewUserProvider(app.repo.Users()).
		WithLogger(app.GetLogger("provider"))

	app.auther = auth.NewAuthenticator(app.provider, app.tokens, cfg).
		WithLogger(app.GetLogger("auth")).
		WithActivitySink(app.activity)

	app.register = auth.NewRegisterUserHandler(app.repo, app.verifier).
		WithLogger(app.GetLogger("register")).
		WithActivitySink(app.activity)

	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	srv := fiber.New(fiber.Config{
		AppName:                 "blog-auth",
		DisableStartupMessage:   !app.config.Server.Debug,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          app.config.Server.TrustedProxies,
		EnableIPValidation:      true,
	})
	srv.Use(recover.New())

	gate := jwtware.New(jwtware.Config{
		Tokens: auth.NewRotatingTokenValidator(app.config, app.config.Auth.PreviousSigningKeys,
			auth.WithTokenLogger(app.GetLogger("tokens"))),
		Identities: app.provider,
		Logger:     app.GetLogger("jwt"),
	})

	auth.RegisterAuthRoutes(srv,
		auth.WithControllerDebug(app.config.Server.Debug),
		auth.WithControllerLogger(app.GetLogger("http")),
		auth.WithControllerServices(app.auther, app.register, app.verifier, app.resetter),
		auth.WithControllerWebBaseURL(app.config.GetWebBaseURL()),
		auth.WithControllerAuthGuard(gate, jwtware.RequireAuth()),
		auth.WithControllerIPLimiters(app.limiters.resendByIP, app.limiters.resetByIP),
		auth.WithControllerActivitySink(app.activity),
	)

	srv.Get("/metrics", app.metrics.Handler())

	app.srv = srv
	return nil
}

func WithCleanup(_ context.Context, app *App) error {
	app.cleanup = auth.NewCleanupScheduler(app.config.Auth.CleanupSchedule, app.GetLogger("cleanup")).
		WithCleaners(app.verifier, app.resetter).
		WithPruners(app.limiters.pruners...)
	return app.cleanup.Start()
}

func (a *App) Shutdown(ctx context.Context) {
	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	if a.srv != nil {
		if err := a.srv.ShutdownWithContext(ctx); err != nil {
			a.logger.Error("HTTP shutdown failed", "error", err)
		}
	}
	if a.sender != nil {
		a.sender.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &App{}

	steps := []func(context.Context, *App) error{
		WithConfig,
		WithLogger,
		WithPersistence,
		WithMailer,
		WithRateLimiters,
		WithServices,
		WithHTTPServer,
		WithCleanup,
	}
	for _, step := range steps {
		if err := step(ctx, app); err != nil {
			if app.logger != nil {
				app.logger.Error("startup failed", "error", err)
				app.Shutdown(context.Background())
				os.Exit(1)
			}
			log.Fatal(err)
		}
	}

	go func() {
		app.logger.Info("HTTP server listening", "address", app.config.Server.Address)
		if err := app.srv.Listen(app.config.Server.Address); err != nil {
			app.logger.Error("HTTP server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	app.Shutdown(shutdownCtx)
}
