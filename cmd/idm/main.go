package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veridian-id/trustcore/pkg/audit"
	"github.com/veridian-id/trustcore/pkg/config"
	"github.com/veridian-id/trustcore/pkg/device"
	"github.com/veridian-id/trustcore/pkg/login/api"
	"github.com/veridian-id/trustcore/pkg/loginflow"
	"github.com/veridian-id/trustcore/pkg/notification"
	"github.com/veridian-id/trustcore/pkg/otp"
	"github.com/veridian-id/trustcore/pkg/ratelimit"
	"github.com/veridian-id/trustcore/pkg/risk"
	"github.com/veridian-id/trustcore/pkg/sessions"
	"github.com/veridian-id/trustcore/pkg/tokengenerator"
	"github.com/veridian-id/trustcore/pkg/user"
)

type DbConfig struct {
	Host     string `env:"IDM_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDM_PG_PORT" env-default:"5432"`
	Database string `env:"IDM_PG_DATABASE" env-default:"trustcore_db"`
	User     string `env:"IDM_PG_USER" env-default:"trustcore"`
	Password string `env:"IDM_PG_PASSWORD" env-default:"pwd"`
}

func (d DbConfig) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Database)
}

type JwtConfig struct {
	Secret        string        `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer        string        `env:"JWT_ISSUER" env-default:"trustcore"`
	Audience      string        `env:"JWT_AUDIENCE" env-default:"trustcore"`
	AccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" env-default:"15m"`
	RefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" env-default:"720h"`
}

type ServerConfig struct {
	Addr string `env:"SERVER_ADDR" env-default:":4000"`
}

type Config struct {
	DbConfig     DbConfig
	JwtConfig    JwtConfig
	ServerConfig ServerConfig
	EmailConfig  notification.EmailConfig
}

func main() {
	cfg := Config{}
	cleanenv.ReadEnv(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DbConfig.dsn())
	if err != nil {
		slog.Error("failed creating dbpool", "db", cfg.DbConfig.Database, "host", cfg.DbConfig.Host, "error", err)
		os.Exit(-1)
	}
	defer pool.Close()

	auditSink := audit.NewSlogSink(slog.Default())

	userService := user.NewUserService(user.NewPostgresUserRepository(pool))
	otpService := otp.NewOtpService(otp.NewPostgresSecretRepository(pool), notification.NewEmailNotifier(cfg.EmailConfig))
	rateLimitService := ratelimit.NewRateLimitService(ratelimit.NewPostgresCounterRepository(pool), config.NewRateLimitConfigFromEnv())

	deviceRepo := device.NewPostgresDeviceRepository(pool)
	trustEngine := device.NewTrustEngine(deviceRepo, auditSink, config.NewDeviceTrustConfigFromEnv())
	deviceService := device.NewDeviceService(deviceRepo)

	sessionRepo := sessions.NewPostgresSessionRepository(pool)
	sessionService := sessions.NewSessionService(sessionRepo, auditSink, config.NewSessionConfigFromEnv())
	archiver := sessions.NewArchiver(sessionRepo, sessions.NewPostgresArchiveRepository(pool), config.NewArchiveConfigFromEnv())

	tokenService := tokengenerator.NewTokenService(
		cfg.JwtConfig.Secret,
		cfg.JwtConfig.Issuer,
		cfg.JwtConfig.Audience,
		cfg.JwtConfig.AccessExpiry,
		cfg.JwtConfig.RefreshExpiry,
	)

	flow := loginflow.NewLoginFlowService(loginflow.Dependencies{
		Users:     userService,
		Otp:       otpService,
		RateLimit: rateLimitService,
		Trust:     trustEngine,
		Devices:   deviceService,
		Sessions:  sessionService,
		Tokens:    tokenService,
		Risk:      risk.NewAnalyzer(nil, nil),
		Audit:     auditSink,
		Tx:        loginflow.NewPgxTxRunner(pool),
	})

	go runArchiveSweeps(ctx, archiver)

	tokenAuth := jwtauth.New("HS256", []byte(cfg.JwtConfig.Secret), nil)
	handle := api.NewHandle(flow, sessionService, tokenAuth)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	r.Mount("/auth", handle.Routes())

	server := &http.Server{Addr: cfg.ServerConfig.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down server", "error", err)
		}
	}()

	slog.Info("starting server", "addr", cfg.ServerConfig.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server stopped", "error", err)
		os.Exit(-1)
	}
}

// runArchiveSweeps drives the daily archival sweep and the monthly purge of
// archives past their retention window.
func runArchiveSweeps(ctx context.Context, archiver *sessions.Archiver) {
	daily := time.NewTicker(24 * time.Hour)
	defer daily.Stop()
	monthly := time.NewTicker(30 * 24 * time.Hour)
	defer monthly.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-daily.C:
			archived, err := archiver.RunDailyArchive(ctx)
			if err != nil {
				slog.Error("daily archive sweep failed", "error", err)
				continue
			}
			slog.Info("daily archive sweep finished", "archived", archived)
		case <-monthly.C:
			purged, err := archiver.RunMonthlyArchiveCleanup(ctx)
			if err != nil {
				slog.Error("monthly archive cleanup failed", "error", err)
				continue
			}
			slog.Info("monthly archive cleanup finished", "purged", purged)
		}
	}
}
