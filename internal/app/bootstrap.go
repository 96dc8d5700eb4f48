package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"web-gateway/internal/auth"
	"web-gateway/internal/config"
	"web-gateway/internal/db"
	"web-gateway/internal/maintenance"
	"web-gateway/internal/observability"
	"web-gateway/internal/store"
)

type Options struct {
	LoadDotEnv bool
	ConfigPath string
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Logger  *observability.Logger
	// Sweep drops expired in-process state: brute-force records, rate-limit
	// buckets and memory store entries.
	Sweep func() map[string]int
	Close func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(config.LoadOptions{LoadDotEnv: options.LoadDotEnv, ConfigPath: options.ConfigPath})
	if err != nil {
		return nil, err
	}
	return BuildWithConfig(cfg)
}

func BuildWithConfig(cfg config.Config) (*Runtime, error) {
	logger := observability.NewLogger(observability.LoggerOptions{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	closers := make([]func() error, 0, 2)
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeStore)
	logger.Info("store_ready", map[string]any{"backend": cfg.Store.Backend})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	identity, database, err := openIdentity(ctx, cfg, logger)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	if database != nil {
		closers = append(closers, database.Close)
	}

	guard := auth.NewBruteForceGuard(logger, metrics)
	refreshTTL := time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour
	accessTTL := time.Duration(cfg.TTL) * time.Second
	tokens := auth.NewTokenService(st).WithLifetimes(accessTTL, refreshTTL)
	sessions := auth.NewSessionManager(st, accessTTL, refreshTTL)
	service := auth.NewService(auth.NewCredentialValidator(identity), guard, tokens, sessions, logger, metrics)

	var whitelist *auth.WhitelistMatcher
	if cfg.WhitelistEnabled {
		whitelist = auth.NewWhitelistMatcher(whitelistEntries(cfg.Whitelist), logger)
	}

	settings := auth.Settings{
		AuthEnabled:   cfg.Auth,
		BasicAuth:     cfg.BasicAuth,
		DefaultUser:   cfg.DefaultUser,
		Secure:        cfg.Secure,
		SessionCookie: cfg.SessionCookie,
		LoginPath:     cfg.LoginPath,
		Realm:         cfg.Realm,
		TrustProxy:    cfg.TrustProxy,
	}
	chain := auth.NewChain(service, whitelist, settings, logger, metrics)
	authHandler := auth.NewHandler(service, settings, logger, metrics)
	loginLimiter := auth.NewLoginRateLimiter(
		cfg.LoginRateLimit.Max,
		time.Duration(cfg.LoginRateLimit.WindowSeconds)*time.Second,
		cfg.TrustProxy,
	)

	cleanup := maintenance.NewCleanupHandler(logger, cfg.CronSecret).
		Register("bruteforce", guard).
		Register("login_rate_limit", loginLimiter)
	if sweeper, ok := st.(store.Sweeper); ok {
		cleanup.Register("store", maintenance.SweepFunc(sweeper.DeleteExpired))
	}

	downstream, err := newDownstream(cfg, logger)
	if err != nil {
		_ = closeAll()
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(
		observability.RequestIDMiddleware,
		func(next http.Handler) http.Handler { return observability.RecoverMiddleware(logger, next) },
		func(next http.Handler) http.Handler {
			return observability.RequestLoggingMiddleware(logger, metrics, next)
		},
		observability.SecurityHeadersMiddleware,
		observability.CleanPathMiddleware,
	)

	r.Get("/health", healthHandler(st, database))
	r.Get("/auth", authHandler.AuthRequired)
	r.Get("/getUser", authHandler.GetUser)
	r.Get("/prolongSession", authHandler.ProlongSession)
	r.Method(http.MethodGet, "/logout", authHandler.Logout(http.HandlerFunc(authHandler.RedirectToLogin)))
	r.Group(func(r chi.Router) {
		r.Use(loginLimiter.Middleware)
		r.Post("/login", authHandler.Login)
		r.Post("/loginApp", authHandler.LoginApp)
		r.Post("/oauth/token", authHandler.Token)
	})
	r.Get("/internal/maintenance/cleanup", cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", cleanup.Handle)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	// The login page and its assets must load before anyone is signed in.
	if dir := path.Dir(cfg.LoginPath); dir != "/" {
		r.Handle(dir+"/*", downstream)
	}
	r.With(chain.Middleware).Handle("/*", downstream)

	return &Runtime{
		Config:  cfg,
		Handler: r,
		Logger:  logger,
		Sweep:   cleanup.Run,
		Close: func() error {
			observability.FlushSentry()
			return closeAll()
		},
	}, nil
}

// openIdentity picks the user database: Postgres when database_url is set,
// otherwise the bcrypt map from configuration. The admin user is upserted in
// either case.
func openIdentity(ctx context.Context, cfg config.Config, logger *observability.Logger) (auth.IdentityChecker, *sql.DB, error) {
	if cfg.DatabaseURL == "" {
		users, err := auth.NewStaticUsers(cfg.Users)
		if err != nil {
			return nil, nil, fmt.Errorf("load users: %w", err)
		}
		if err := auth.BootstrapAdmin(ctx, users, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		if users.Len() == 0 && cfg.Auth {
			logger.Warn("no_users_configured", nil)
		}
		return users, nil, nil
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(30 * time.Minute)
	database.SetConnMaxIdleTime(10 * time.Minute)

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations_applied", map[string]any{"count": applied})
	}

	repo := auth.NewRepository(database)
	if err := auth.BootstrapAdmin(ctx, repo, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	return repo, database, nil
}

func whitelistEntries(settings []config.WhitelistSetting) []auth.WhitelistEntry {
	entries := make([]auth.WhitelistEntry, 0, len(settings))
	for _, s := range settings {
		entries = append(entries, auth.WhitelistEntry{
			Pattern: s.Pattern,
			User:    s.User,
			Permissions: auth.Permissions{
				Object: accessRights(s.Object),
				State:  accessRights(s.State),
				File:   accessRights(s.File),
			},
		})
	}
	return entries
}

func accessRights(a config.AccessSetting) auth.AccessRights {
	return auth.AccessRights{Read: a.Read, List: a.List, Write: a.Write, Create: a.Create, Delete: a.Delete}
}

func healthHandler(st store.Store, database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"store": "ok"}
		if err := st.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks["store"] = "down"
		}
		if database != nil {
			checks["database"] = "ok"
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				checks["database"] = "down"
			}
		}

		body := map[string]any{"status": "ok", "checks": checks, "time": time.Now().UTC().Format(time.RFC3339)}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		writeJSON(w, status, body)
	}
}
