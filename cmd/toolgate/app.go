// ABOUTME: Assembles provider packs, registry, router, and session store from config.
// ABOUTME: Shared by the serve, chat, and tools subcommands.

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"github.com/halcyard/toolgate/internal/agent"
	"github.com/halcyard/toolgate/internal/config"
	"github.com/halcyard/toolgate/internal/gateway"
	"github.com/halcyard/toolgate/internal/provider"
	"github.com/halcyard/toolgate/internal/provider/files"
	"github.com/halcyard/toolgate/internal/provider/identity"
	"github.com/halcyard/toolgate/internal/provider/mail"
	"github.com/halcyard/toolgate/internal/provider/storage"
	"github.com/halcyard/toolgate/internal/registry"
	"github.com/halcyard/toolgate/internal/session"
)

// app holds everything assembled from config.
type app struct {
	Registry *registry.Registry
	Router   *gateway.Router
	Handler  http.Handler
	Store    *session.SQLiteStore

	dbs []*sql.DB
}

// buildApp mounts the configured provider packs and wires the router and
// session store. Registration failures are fatal: a gateway with a broken
// mount table must not start.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{Registry: registry.New(logger)}

	if p := cfg.Providers.Storage; p.Prefix != "" {
		db, err := storage.Open(p.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("storage pack: %w", err)
		}
		a.dbs = append(a.dbs, db)
		if err := a.mount(p.Prefix, storage.NewPack(db, logger)); err != nil {
			a.Close()
			return nil, err
		}
	}

	if p := cfg.Providers.Files; p.Prefix != "" {
		pack, err := files.NewPack(p.AllowedDir, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("files pack: %w", err)
		}
		if err := a.mount(p.Prefix, pack); err != nil {
			a.Close()
			return nil, err
		}
	}

	if p := cfg.Providers.Identity; p.Prefix != "" {
		db, err := identity.Open(p.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("identity pack: %w", err)
		}
		a.dbs = append(a.dbs, db)
		if err := a.mount(p.Prefix, identity.NewPack(db, logger)); err != nil {
			a.Close()
			return nil, err
		}
	}

	if p := cfg.Providers.Mail; p.Prefix != "" {
		db, err := mail.Open(p.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("mail pack: %w", err)
		}
		a.dbs = append(a.dbs, db)
		if err := a.mount(p.Prefix, mail.NewPack(db, newSender(p), logger)); err != nil {
			a.Close()
			return nil, err
		}
	}

	store, err := session.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.Store = store

	a.Router = gateway.NewRouter(gateway.RouterConfig{
		Registry: a.Registry,
		Logger:   logger,
		Timeout:  cfg.Loop.CallTimeout,
	})
	a.Handler = gateway.NewHTTPHandler(a.Router, logger)
	return a, nil
}

func (a *app) mount(prefix string, pack *provider.Pack) error {
	if err := a.Registry.Register(prefix, pack); err != nil {
		return fmt.Errorf("mounting %q: %w", prefix, err)
	}
	return nil
}

func (a *app) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
	for _, db := range a.dbs {
		db.Close()
	}
}

// newSender builds the outbound mail sender. Without an SMTP address the
// pack still mounts, but send_email reports the missing configuration.
func newSender(cfg config.MailConfig) mail.Sender {
	if cfg.SMTPAddr == "" {
		return unconfiguredSender{}
	}
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		host := cfg.SMTPAddr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, host)
	}
	return &mail.SMTPSender{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom, Auth: auth}
}

type unconfiguredSender struct{}

func (unconfiguredSender) Send(ctx context.Context, to, subject, body string) error {
	return fmt.Errorf("smtp is not configured (set providers.mail.smtp_addr)")
}

// newAdapter selects the model adapter from config.
func newAdapter(cfg config.ModelConfig) (agent.ModelAdapter, error) {
	switch cfg.Provider {
	case "anthropic", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model.api_key is required for the anthropic provider")
		}
		return agent.NewAnthropicAdapter(cfg.APIKey, cfg.Model, cfg.SystemPrompt), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("model.api_key is required for the openai provider")
		}
		return agent.NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.SystemPrompt), nil
	case "scripted":
		return agent.NewScriptedAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
