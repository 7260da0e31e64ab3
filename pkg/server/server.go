package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"northstar-hq/polaris/internal/clock"
	"northstar-hq/polaris/pkg/config"
	"northstar-hq/polaris/pkg/cost"
	"northstar-hq/polaris/pkg/keys"
	"northstar-hq/polaris/pkg/orchestrator"
	"northstar-hq/polaris/pkg/policy"
	"northstar-hq/polaris/pkg/quota"
	"northstar-hq/polaris/pkg/state"
	"northstar-hq/polaris/pkg/telemetry/logging"
	"northstar-hq/polaris/pkg/telemetry/metrics"
)

// Options wires the management server to the domain engines.
type Options struct {
	// Config supplies the server, security, and telemetry sections.
	// Required.
	Config *config.Config

	// Orchestrator serves route submissions. Required.
	Orchestrator *orchestrator.Orchestrator

	// Keys serves key administration. Required.
	Keys *keys.Manager

	// Store serves decision audit queries. Required.
	Store state.StateStore

	// Policies, Budgets, and Quota serve their endpoints; a nil engine
	// turns its endpoints into 404s.
	Policies *policy.Engine
	Budgets  *cost.Controller
	Quota    *quota.Engine

	// Metrics mounts the Prometheus exposition endpoint when set.
	Metrics *metrics.Collector

	// Watcher and History enable the configuration reload and rollback
	// endpoints when set.
	Watcher *config.Watcher
	History *config.History

	// AuthToken is the expected bearer token, resolved by the caller
	// from the configured environment variable. Empty disables
	// authentication.
	AuthToken string

	Logger *logging.Logger
	Clock  clock.Clock
}

// Server is the management HTTP server.
type Server struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger
	clk    clock.Clock

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	mu        sync.RWMutex
	isRunning bool
}

// New validates the wiring and builds a server. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Orchestrator == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	if opts.Keys == nil {
		return nil, errors.New("server: key manager is required")
	}
	if opts.Store == nil {
		return nil, errors.New("server: state store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	return &Server{
		cfg:          opts.Config,
		opts:         opts,
		logger:       opts.Logger,
		clk:          opts.Clock,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start listens and blocks until the context is cancelled, a shutdown
// signal arrives, or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	srvCfg := s.cfg.Server
	s.httpServer = &http.Server{
		Addr:           srvCfg.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    srvCfg.ReadTimeout,
		WriteTimeout:   srvCfg.WriteTimeout,
		IdleTimeout:    srvCfg.IdleTimeout,
		MaxHeaderBytes: srvCfg.MaxHeaderBytes,
	}

	tlsCfg := s.cfg.Security.TLS
	if tlsCfg.Enabled {
		conf, err := s.configureTLS()
		if err != nil {
			return fmt.Errorf("configuring TLS: %w", err)
		}
		s.httpServer.TLSConfig = conf
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("management server starting",
			"address", srvCfg.ListenAddress,
			"tls_enabled", tlsCfg.Enabled,
		)

		var err error
		if tlsCfg.Enabled {
			err = s.httpServer.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests, bounded by the configured
// shutdown timeout. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		s.mu.Unlock()
		if !running {
			return
		}

		s.logger.Info("draining connections", "timeout", s.cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("server shutdown: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("management server stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is accepting requests.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// configureTLS builds the TLS 1.3 listener configuration.
func (s *Server) configureTLS() (*tls.Config, error) {
	tlsCfg := s.cfg.Security.TLS
	if tlsCfg.CertFile == "" {
		return nil, errors.New("TLS cert file not specified")
	}
	if tlsCfg.KeyFile == "" {
		return nil, errors.New("TLS key file not specified")
	}
	if _, err := os.Stat(tlsCfg.CertFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("TLS cert file not found: %s", tlsCfg.CertFile)
	}
	if _, err := os.Stat(tlsCfg.KeyFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("TLS key file not found: %s", tlsCfg.KeyFile)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
		},
	}, nil
}
