package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/vovakirdan/quizwire/internal/auth"
	"github.com/vovakirdan/quizwire/internal/config"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/quizwire/internal/transport/http"
	"github.com/vovakirdan/quizwire/internal/transport/tcp"
)

const tokenTTL = 24 * time.Hour

// App wires the hosting node to its listeners and ban storage.
type App struct {
	host            *core.PrimaryNode
	listener        *tcp.Listener
	server          *stdhttp.Server
	bans            *sqlite.SQLiteStore
	shutdownTimeout time.Duration
	log             *zerolog.Logger
}

// New constructs the hosting application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	bans, err := sqlite.New(cfg.BanDBPath)
	if err != nil {
		return nil, fmt.Errorf("init ban store: %w", err)
	}
	logger.Info().Str("db_path", cfg.BanDBPath).Msg("ban store initialized")

	host, err := core.NewPrimaryNode(ctx, nodeOptions(cfg, bans, logger))
	if err != nil {
		_ = bans.Close()
		return nil, fmt.Errorf("init host: %w", err)
	}
	if err := host.AddClient(NewGatekeeper(host, logger)); err != nil {
		_ = host.Dispose()
		_ = bans.Close()
		return nil, fmt.Errorf("register gatekeeper: %w", err)
	}

	a := &App{
		host:            host,
		listener:        tcp.NewListener(cfg.ListenAddr, host, connOptions(cfg, logger)),
		bans:            bans,
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             logger,
	}

	if cfg.AdminAddr != "" {
		secret := cfg.JWTSecret
		if secret == "" {
			secret = uuid.NewString()
			logger.Warn().Msg("jwt_secret not set, tokens will not survive a restart")
		}
		authService := auth.NewService(cfg.AdminPasswordHash, &auth.JWTConfig{
			Secret: []byte(secret),
			Issuer: cfg.JWTIssuer,
			TTL:    tokenTTL,
		})
		if !authService.Enabled() {
			logger.Warn().Msg("admin_password_hash not set, control API login disabled")
		}
		a.server = transporthttp.NewServer(host, authService, cfg, wsOptions(cfg, logger), logger)
	}
	return a, nil
}

// Host returns the hosting node.
func (a *App) Host() *core.PrimaryNode {
	return a.host
}

// Listen binds the peer listener. Run calls it when needed.
func (a *App) Listen() error {
	return a.listener.Listen()
}

// Addr returns the bound peer address, or nil before Listen.
func (a *App) Addr() net.Addr {
	return a.listener.Addr()
}

// Run serves peers and the control API until ctx is cancelled or a
// listener fails, then disposes the node.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		a.cleanup()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenerErr := make(chan error, 1)
	go func() {
		listenerErr <- a.listener.Serve(ctx)
	}()

	serverErr := make(chan error, 1)
	if a.server != nil {
		go func() {
			a.log.Info().Str("addr", a.server.Addr).Msg("control API listening")
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
	}

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case err := <-listenerErr:
		runErr = err
	case <-ctx.Done():
	}
	cancel()

	if a.server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer stop()
		a.log.Info().Msg("shutting down control API")
		runErr = multierr.Append(runErr, a.server.Shutdown(shutdownCtx))
	}

	return multierr.Append(runErr, a.cleanup())
}

// cleanup disposes the node and closes the ban store.
func (a *App) cleanup() error {
	err := a.host.Dispose()
	if closeErr := a.bans.Close(); closeErr != nil {
		a.log.Warn().Err(closeErr).Msg("failed to close ban store")
		err = multierr.Append(err, closeErr)
	} else {
		a.log.Info().Msg("ban store closed")
	}
	return err
}
