// Package server orchestrates all components: Channel Access client, COMMS,
// audit journal, dispatcher and the selected transport.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/epics-mcp-bridge/internal/config"
	"github.com/morezero/epics-mcp-bridge/pkg/ca"
	"github.com/morezero/epics-mcp-bridge/pkg/commsutil"
	"github.com/morezero/epics-mcp-bridge/pkg/db"
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
	"github.com/morezero/epics-mcp-bridge/pkg/events"
	"github.com/morezero/epics-mcp-bridge/pkg/mcpserver"
	"github.com/morezero/epics-mcp-bridge/pkg/pvaccess"
	"github.com/morezero/epics-mcp-bridge/pkg/registry"
	"github.com/morezero/epics-mcp-bridge/pkg/semver"
)

const logPrefix = "server:server"

const shutdownTimeout = 5 * time.Second

// invocationStore is the read side of the audit journal used by the HTTP pages.
type invocationStore interface {
	ListInvocations(ctx context.Context, params db.ListInvocationsParams) ([]db.Invocation, error)
	GetInvocation(ctx context.Context, id string) (*db.Invocation, error)
}

// Server is the epics-mcp-bridge orchestrator.
type Server struct {
	cfg    *config.Config
	disp   *dispatcher.Dispatcher
	client ca.Client
	nc     *comms.Conn
	pool   *pgxpool.Pool
	store  invocationStore
}

// Run sets up logging, builds the server and serves cfg.Transport until ctx is
// cancelled, a shutdown signal arrives or the stdio session ends.
func Run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	if err := SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting epics-mcp-bridge %s (transport=%s, backend=%s)",
		logPrefix, cfg.Version, cfg.Transport, cfg.CABackend))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.Serve(ctx, stdin, stdout)
}

// New connects the optional COMMS and database dependencies and builds the
// dispatcher. Callers must Close the returned Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	client, err := NewCAClient(cfg)
	if err != nil {
		return nil, err
	}
	s.client = client

	var publisher events.EventPublisher = &events.NoOpPublisher{}
	if cfg.COMMSEnabled {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		publisher = events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalSubject: cfg.EventSubject})
	}

	var journal dispatcher.Journal
	if cfg.JournalEnabled() {
		repo, err := s.openJournal(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		journal = repo
		s.store = repo
	}

	adapter := pvaccess.NewAdapter(pvaccess.Params{
		Client:    client,
		Timeout:   cfg.CATimeout,
		Publisher: publisher,
	})
	s.disp = dispatcher.NewDispatcher(dispatcher.Params{
		Registry:     registry.Default(),
		Access:       adapter,
		Journal:      journal,
		Version:      cfg.Version,
		HealthChecks: s.healthChecks(),
	})
	return s, nil
}

// NewCAClient builds the Channel Access backend selected by EPICS_CA_BACKEND.
func NewCAClient(cfg *config.Config) (ca.Client, error) {
	switch cfg.CABackend {
	case config.BackendSim:
		pvs, err := ca.LoadSeed(cfg.SimSeedFile)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load simulated PVs: %w", logPrefix, err)
		}
		return ca.NewSimClient(pvs), nil
	case config.BackendCLI, "":
		return ca.NewCLIClient(cfg.CABinDir), nil
	default:
		return nil, fmt.Errorf("%s - unknown Channel Access backend %q", logPrefix, cfg.CABackend)
	}
}

func (s *Server) openJournal(ctx context.Context) (*db.Repository, error) {
	pool, err := db.NewPool(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	s.pool = pool

	if s.cfg.RunMigrations {
		files, err := db.LoadMigrationFiles(db.ResolveMigrationPath(s.cfg.MigrationPath))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if err := db.RunMigrations(ctx, pool, files); err != nil {
			return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}
	return db.NewRepository(pool), nil
}

func (s *Server) healthChecks() []dispatcher.HealthCheck {
	timeout := s.cfg.HealthCheckTimeout
	bounded := func(check func(ctx context.Context) error) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if timeout <= 0 {
				return check(ctx)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return check(ctx)
		}
	}

	checks := []dispatcher.HealthCheck{{Name: "channel_access", Check: bounded(s.client.Check)}}
	if s.nc != nil {
		nc := s.nc
		checks = append(checks, dispatcher.HealthCheck{Name: "comms", Check: func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("COMMS %s", nc.Status())
			}
			return nil
		}})
	}
	if s.pool != nil {
		checks = append(checks, dispatcher.HealthCheck{Name: "database", Check: bounded(s.pool.Ping)})
	}
	return checks
}

// Dispatcher returns the shared dispatcher.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.disp
}

// MCP builds an MCP server labelled with transport.
func (s *Server) MCP(transport string) *mcpsrv.MCPServer {
	return mcpserver.New(s.disp, mcpserver.Options{
		Name:      s.cfg.ServerName,
		Version:   s.cfg.Version,
		Transport: transport,
	})
}

// ToolSubject is the COMMS subject tool calls are served on.
func (s *Server) ToolSubject() string {
	if s.cfg.ToolSubject != "" {
		return s.cfg.ToolSubject
	}
	major, err := semver.MajorOf(s.cfg.Version)
	if err != nil {
		major = 0
	}
	return commsutil.ToolCallSubject(major)
}

// Serve runs the configured transport until ctx is done.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	switch s.cfg.Transport {
	case config.TransportStdio:
		return mcpserver.ServeStdio(ctx, s.MCP(dispatcher.TransportStdio), stdin, stdout)

	case config.TransportSSE:
		sse := mcpserver.NewSSE(s.MCP(dispatcher.TransportSSE), mcpserver.SSEOptions{
			BaseURL:     s.cfg.BaseURL(),
			SSEPath:     s.cfg.SSEPath,
			MessagePath: s.cfg.MessagePath,
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sse.Shutdown(shutdownCtx); err != nil {
				slog.Warn(fmt.Sprintf("%s - SSE shutdown: %v", logPrefix, err))
			}
		}()
		return s.serveHTTP(ctx, s.Router(sse))

	case config.TransportNATS:
		sub, err := s.SubscribeTools(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
		return s.serveHTTP(ctx, s.Router(nil))

	default:
		return fmt.Errorf("%s - unknown transport %q", logPrefix, s.cfg.Transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, handler http.Handler) error {
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, s.cfg.HTTPAddr, err)
	}

	// Request contexts derive from ctx so open SSE streams end on shutdown.
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, ln.Addr()))
		errCh <- httpServer.Serve(ln)
	}()

	slog.Info(fmt.Sprintf("%s - epics-mcp-bridge is ready", logPrefix))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s - HTTP server error: %w", logPrefix, err)
	case <-ctx.Done():
	}

	slog.Info(fmt.Sprintf("%s - Shutting down HTTP server", logPrefix))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close releases COMMS and database resources.
func (s *Server) Close() {
	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.nc.Close()
		}
		s.nc = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
}
