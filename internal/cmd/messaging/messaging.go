// Package messaging parses messaging service flags and launches the service.
package messaging

import (
	"context"
	"flag"

	entrypoint "github.com/harborchat/harborchat/internal/platform/cmd"
	server "github.com/harborchat/harborchat/internal/services/messaging/app"
)

// Config holds messaging command configuration.
type Config struct {
	HTTPAddr     string `env:"HARBORCHAT_MESSAGING_HTTP_ADDR" envDefault:":8084"`
	DatabasePath string `env:"HARBORCHAT_MESSAGING_DB_PATH" envDefault:"messaging.db"`

	AuthBaseURL          string `env:"HARBORCHAT_AUTH_BASE_URL"`
	OAuthResourceSecret  string `env:"HARBORCHAT_OAUTH_RESOURCE_SECRET"`
	AccessTokenIssuer    string `env:"HARBORCHAT_ACCESS_TOKEN_ISSUER"`
	AccessTokenAudience  string `env:"HARBORCHAT_ACCESS_TOKEN_AUDIENCE" envDefault:"messaging"`
	AccessTokenPublicKey string `env:"HARBORCHAT_ACCESS_TOKEN_PUBLIC_KEY"`

	NotifyWebhookURL    string `env:"HARBORCHAT_NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string `env:"HARBORCHAT_NOTIFY_WEBHOOK_SECRET"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The messaging HTTP listen address")
	fs.StringVar(&cfg.DatabasePath, "db-path", cfg.DatabasePath, "Path to the messaging SQLite database")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the messaging HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMessaging, func(context.Context) error {
		return server.Run(ctx, server.Config{
			HTTPAddr:             cfg.HTTPAddr,
			DatabasePath:         cfg.DatabasePath,
			AuthBaseURL:          cfg.AuthBaseURL,
			OAuthResourceSecret:  cfg.OAuthResourceSecret,
			AccessTokenIssuer:    cfg.AccessTokenIssuer,
			AccessTokenAudience:  cfg.AccessTokenAudience,
			AccessTokenPublicKey: cfg.AccessTokenPublicKey,
			NotifyWebhookURL:     cfg.NotifyWebhookURL,
			NotifyWebhookSecret:  cfg.NotifyWebhookSecret,
		})
	})
}
