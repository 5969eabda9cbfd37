package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"crmcli/internal/api"
	"crmcli/internal/config"
	"crmcli/internal/identity"
	"crmcli/internal/session"
)

var (
	logger *slog.Logger

	flagEmail    string
	flagPassword string
	flagOAuth    bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using system environment only")
	}

	root := &cobra.Command{
		Use:           "crmcli",
		Short:         "Terminal client for the CRM backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagEmail, "email", "", "account email (default: CRM_EMAIL)")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "account password (default: CRM_PASSWORD)")
	root.PersistentFlags().BoolVar(&flagOAuth, "oauth", false, "sign in through the identity provider's browser flow")

	root.AddCommand(chatCmd())
	root.AddCommand(whoamiCmd())
	root.AddCommand(conversationsCmd())
	root.AddCommand(contactsCmd())
	root.AddCommand(tagsCmd())
	root.AddCommand(activitiesCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// app bundles the wired client stack for one command invocation.
type app struct {
	cfg      *config.Config
	provider identity.Provider
	tokens   *identity.TokenSource
	backend  *api.Client
	store    *session.Store
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if !cfg.Identity.Enabled() {
		return nil, errors.New("identity service is not configured (set CRM_IDENTITY_URL and CRM_IDENTITY_API_KEY)")
	}

	provider := identity.NewRESTProvider(identity.RESTConfig{
		BaseURL: cfg.Identity.BaseURL,
		APIKey:  cfg.Identity.APIKey,
		OAuth: identity.OAuthConfig{
			ClientID:     cfg.Identity.OAuthClientID,
			ClientSecret: cfg.Identity.OAuthClientSecret,
			RedirectURL:  cfg.Identity.OAuthRedirectURL,
			AuthURL:      "https://accounts.google.com/o/oauth2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
		},
		Logger: logger,
	})

	tokens := identity.NewTokenSource(provider)
	backend := api.NewClient(api.ClientConfig{
		BaseURL: cfg.Backend.BaseURL,
		Tokens:  tokens,
		Logger:  logger,
	})
	store := session.NewStore(provider, backend, logger)

	return &app{cfg: cfg, provider: provider, tokens: tokens, backend: backend, store: store}, nil
}

// signIn resolves credentials from flags or environment and authenticates.
func (a *app) signIn(ctx context.Context) error {
	a.store.Init(ctx)

	if flagOAuth {
		user, err := a.store.LoginWithOAuth(ctx)
		if err != nil {
			return err
		}
		logger.Info("signed in", "user", user.Email)
		return nil
	}

	email := strings.TrimSpace(flagEmail)
	if email == "" {
		email = strings.TrimSpace(os.Getenv("CRM_EMAIL"))
	}
	password := flagPassword
	if password == "" {
		password = os.Getenv("CRM_PASSWORD")
	}
	if email == "" || password == "" {
		return errors.New("credentials required: pass --email/--password, set CRM_EMAIL/CRM_PASSWORD, or use --oauth")
	}

	user, err := a.store.Login(ctx, email, password)
	if err != nil {
		return err
	}
	logger.Info("signed in", "user", user.Email)
	return nil
}

func (a *app) teardown() {
	a.store.Teardown()
}

// commandContext is canceled on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runAuthenticated wires the stack, signs in, runs fn and tears down.
func runAuthenticated(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := commandContext()
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.teardown()

	if err := a.signIn(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user's backend profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticated(func(ctx context.Context, a *app) error {
				snapshot := a.store.Snapshot()
				if snapshot.State != session.StateAuthenticated || snapshot.User == nil {
					return errors.New("not authenticated")
				}
				fmt.Printf("%s <%s> (uid %s)\n", snapshot.User.DisplayName, snapshot.User.Email, snapshot.User.UID)
				return nil
			})
		},
	}
}
