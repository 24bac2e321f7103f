// Package server hosts the messaging HTTP process: the JSON transport, the
// bearer-token identity gate, and the wiring between the domain service, the
// SQLite store, and the fan-out sink.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/harborchat/harborchat/internal/platform/timeouts"
	"github.com/harborchat/harborchat/internal/services/messaging/domain"
	"github.com/harborchat/harborchat/internal/services/messaging/fanout"
	"github.com/harborchat/harborchat/internal/services/messaging/storage"
	"github.com/harborchat/harborchat/internal/services/messaging/storage/sqlite"
)

// Config defines the inputs for the messaging service boundary.
type Config struct {
	HTTPAddr     string
	DatabasePath string

	// Identity gate: local Ed25519 token verification and/or remote
	// introspection. At least one mode must be configured.
	AuthBaseURL          string
	OAuthResourceSecret  string
	AccessTokenIssuer    string
	AccessTokenAudience  string
	AccessTokenPublicKey string

	// Fan-out sink. Empty URL falls back to the logging notifier.
	NotifyWebhookURL    string
	NotifyWebhookSecret string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the messaging HTTP process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer builds a configured messaging server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	databasePath := strings.TrimSpace(config.DatabasePath)
	if databasePath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	store, err := sqlite.Open(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open messaging storage: %w", err)
	}

	notifier, err := newNotifier(config)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	authorizer, err := newAccessTokenAuthorizer(config, nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure authorizer: %w", err)
	}

	service := domain.NewService(newDomainStoreAdapter(store, store, store), notifier, storage.PairKey, nil, nil)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(service, authorizer),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

func newNotifier(config Config) (fanout.Notifier, error) {
	webhookURL := strings.TrimSpace(config.NotifyWebhookURL)
	if webhookURL == "" {
		return fanout.NewLogNotifier(nil), nil
	}
	notifier, err := fanout.NewWebhookNotifier(webhookURL, config.NotifyWebhookSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("configure webhook notifier: %w", err)
	}
	return notifier, nil
}

// Run creates and serves a messaging server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init messaging server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve messaging: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("messaging server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("messaging server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close messaging storage: %v", err)
		}
	}
}
