package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/useraudit/internal/app"
)

func main() {
	if err := loadDotEnv(); err != nil {
		log.Fatal(err)
	}

	cmd := &cli.Command{
		Name:  "useraudit",
		Usage: "User management API with an event-driven audit trail",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("USERAUDIT_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./useraudit.sqlite",
				Sources: cli.EnvVars("USERAUDIT_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "dispatch-mode",
				Value:   string(app.DispatchSync),
				Sources: cli.EnvVars("USERAUDIT_DISPATCH_MODE"),
				Usage:   "sync: run event handlers after each write; outbox: store events and relay them",
			},
			&cli.StringFlag{
				Name:    "audit-failure-policy",
				Value:   "propagate",
				Sources: cli.EnvVars("USERAUDIT_AUDIT_FAILURE_POLICY"),
				Usage:   "propagate: a failed audit write fails the request; log-and-continue: log it and carry on",
			},
			&cli.DurationFlag{
				Name:    "outbox-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("USERAUDIT_OUTBOX_INTERVAL"),
				Usage:   "Outbox poll interval",
			},
			&cli.IntFlag{
				Name:    "outbox-batch-size",
				Value:   50,
				Sources: cli.EnvVars("USERAUDIT_OUTBOX_BATCH_SIZE"),
				Usage:   "Outbox rows relayed per poll",
			},
			&cli.IntFlag{
				Name:    "outbox-max-attempts",
				Value:   5,
				Sources: cli.EnvVars("USERAUDIT_OUTBOX_MAX_ATTEMPTS"),
				Usage:   "Attempts before an outbox row is marked dead",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("USERAUDIT_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-tenant",
				Value:   "default",
				Sources: cli.EnvVars("USERAUDIT_BOOTSTRAP_TENANT"),
				Usage:   "Tenant for bootstrap API key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("USERAUDIT_BOOTSTRAP_KEY_NAME"),
				Usage:   "Name for bootstrap API key, shown as the actor of client-made changes",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("USERAUDIT_WEBHOOK_URL"),
				Usage:   "Forward every domain event to this URL",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("USERAUDIT_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("USERAUDIT_WEBHOOK_TIMEOUT"),
				Usage:   "Timeout of one webhook request",
			},
			&cli.StringSliceFlag{
				Name:    "cors-origin",
				Sources: cli.EnvVars("USERAUDIT_CORS_ORIGINS"),
				Usage:   "Allowed CORS origin, repeatable; none disables CORS",
			},
			&cli.IntFlag{
				Name:    "bcrypt-cost",
				Value:   12,
				Sources: cli.EnvVars("USERAUDIT_BCRYPT_COST"),
				Usage:   "bcrypt cost for password hashes",
			},
			&cli.DurationFlag{
				Name:    "reset-token-ttl",
				Value:   time.Hour,
				Sources: cli.EnvVars("USERAUDIT_RESET_TOKEN_TTL"),
				Usage:   "Lifetime of password reset tokens",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("USERAUDIT_LOG_LEVEL"),
				Usage:   "debug, info, warn or error",
			},
			&cli.BoolFlag{
				Name:    "dev-log",
				Sources: cli.EnvVars("USERAUDIT_DEV_LOG"),
				Usage:   "Human readable console logs",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			logger, err := newLogger(c.String("log-level"), c.Bool("dev-log"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, configFrom(c), logger)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					logger.Error("close resources", zap.Error(closeErr))
				}
			}()

			return a.Run(ctx)
		},
		Commands: []*cli.Command{
			{
				Name:  "replay-audit",
				Usage: "Write audit logs missing for a tenant's relayed outbox events",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tenant",
						Required: true,
						Usage:    "Tenant whose events are replayed",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					logger, err := newLogger(c.String("log-level"), c.Bool("dev-log"))
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()

					a, err := app.New(ctx, configFrom(c), logger)
					if err != nil {
						return fmt.Errorf("create app: %w", err)
					}
					defer func() { _ = a.Close() }()

					_, err = a.ReplayAudit(ctx, c.String("tenant"))
					return err
				},
			},
			{
				Name:  "revoke-api-key",
				Usage: "Deactivate a tenant's API keys by name",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tenant", Required: true, Usage: "Tenant owning the key"},
					&cli.StringFlag{Name: "name", Required: true, Usage: "Key name"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					logger, err := newLogger(c.String("log-level"), c.Bool("dev-log"))
					if err != nil {
						return err
					}
					defer func() { _ = logger.Sync() }()

					a, err := app.New(ctx, configFrom(c), logger)
					if err != nil {
						return fmt.Errorf("create app: %w", err)
					}
					defer func() { _ = a.Close() }()

					n, err := a.RevokeAPIKey(ctx, c.String("tenant"), c.String("name"))
					if err != nil {
						return err
					}
					if n == 0 {
						return fmt.Errorf("no active key named %q in tenant %q", c.String("name"), c.String("tenant"))
					}
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func configFrom(c *cli.Command) app.Config {
	return app.Config{
		Addr:               c.String("addr"),
		DBPath:             c.String("db-path"),
		DispatchMode:       c.String("dispatch-mode"),
		AuditFailurePolicy: c.String("audit-failure-policy"),
		OutboxInterval:     c.Duration("outbox-interval"),
		OutboxBatchSize:    int(c.Int("outbox-batch-size")),
		OutboxMaxAttempts:  int(c.Int("outbox-max-attempts")),
		BootstrapAPIKey:    c.String("bootstrap-api-key"),
		BootstrapTenant:    c.String("bootstrap-tenant"),
		BootstrapKeyName:   c.String("bootstrap-key-name"),
		WebhookURL:         c.String("webhook-url"),
		WebhookSecret:      c.String("webhook-secret"),
		WebhookTimeout:     c.Duration("webhook-timeout"),
		CORSOrigins:        c.StringSlice("cors-origin"),
		BcryptCost:         int(c.Int("bcrypt-cost")),
		ResetTokenTTL:      c.Duration("reset-token-ttl"),
	}
}

// loadDotEnv reads USERAUDIT_ENV_FILE, or ./.env, into the environment before
// flags are parsed. A missing file is fine.
func loadDotEnv() error {
	path := os.Getenv("USERAUDIT_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	cfg.Level = lvl
	return cfg.Build()
}
