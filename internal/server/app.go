package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/revtrack/internal/auth"
	"github.com/sakif/revtrack/internal/config"
	"github.com/sakif/revtrack/internal/events"
	"github.com/sakif/revtrack/internal/mail"
	"github.com/sakif/revtrack/internal/mail/gmail"
	"github.com/sakif/revtrack/internal/mail/outlook"
	sqliteRepo "github.com/sakif/revtrack/internal/repository/sqlite"
	"github.com/sakif/revtrack/internal/service"
)

// App is the composition root: every long-lived dependency, wired once.
// The HTTP server and the CLI sync command both build one.
//
//	config → sqlite.DB → repositories
//	       → mail.Registry (Gmail, Outlook)
//	       → events publisher (JetStream or Nop)
//	       → services
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB        *sqliteRepo.DB
	Tokens    *auth.TokenService
	Verifier  auth.Verifier
	Providers *mail.Registry

	Auth        *service.AuthService
	Deals       *service.DealService
	Activities  *service.ActivityService
	Goals       *service.GoalService
	MailConnect *service.MailConnectService
	MailSync    *service.MailSyncService

	closers []func()
}

// NewApp opens the database and wires the services. Optional integrations
// (JWKS, NATS) are only contacted when configured; a configured one that
// cannot be reached fails startup.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("server: creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	app := &App{Config: cfg, Logger: logger, DB: db}
	app.closers = append(app.closers, func() { db.Close() })

	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	a.Tokens = tokens

	verifiers := auth.Verifiers{tokens}
	if cfg.JWKSURL != "" {
		var opts []auth.JWKSOption
		if cfg.JWKSIssuer != "" {
			opts = append(opts, auth.WithIssuer(cfg.JWKSIssuer))
		}
		if cfg.JWKSAudience != "" {
			opts = append(opts, auth.WithAudience(cfg.JWKSAudience))
		}
		jwks, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, opts...)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		verifiers = append(verifiers, jwks)
		logger.Info("external auth enabled", slog.String("jwks_url", cfg.JWKSURL))
	}
	a.Verifier = verifiers

	a.Providers = newRegistry(cfg)
	for _, name := range a.Providers.Names() {
		logger.Info("mail provider enabled", slog.String("provider", string(name)))
	}

	publisher, err := a.newPublisher(ctx)
	if err != nil {
		return err
	}

	a.Auth = service.NewAuthService(a.DB.Users(), tokens, auth.NewPasswordService(), logger)
	a.Deals = service.NewDealService(a.DB.Deals(), a.DB.Activities(), logger)
	a.Activities = service.NewActivityService(a.DB.Deals(), a.DB.Activities(), logger)
	a.Goals = service.NewGoalService(a.DB.Goals(), logger)
	a.MailConnect = service.NewMailConnectService(a.Providers, a.DB.MailTokens(), logger)
	a.MailSync = service.NewMailSyncService(
		service.NewTokenManager(a.DB.MailTokens(), a.Providers, logger),
		a.Providers,
		a.DB.Deals(),
		a.DB.Activities(),
		publisher,
		logger,
	)
	return nil
}

func (a *App) newPublisher(ctx context.Context) (service.ActivityPublisher, error) {
	if a.Config.NATSURL == "" {
		return events.Nop{}, nil
	}
	js, err := events.NewJetStream(ctx, a.Config.NATSURL, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	a.closers = append(a.closers, js.Close)
	return js, nil
}

// newRegistry registers the providers that have client credentials.
func newRegistry(cfg *config.Config) *mail.Registry {
	var clients []mail.Client
	if cfg.GmailEnabled() {
		clients = append(clients, gmail.New(gmail.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.CallbackURL(string(mail.Gmail)),
		}))
	}
	if cfg.OutlookEnabled() {
		clients = append(clients, outlook.New(outlook.Config{
			ClientID:     cfg.OutlookClientID,
			ClientSecret: cfg.OutlookClientSecret,
			RedirectURL:  cfg.CallbackURL(string(mail.Outlook)),
			Tenant:       cfg.OutlookTenant,
		}))
	}
	return mail.NewRegistry(clients...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
