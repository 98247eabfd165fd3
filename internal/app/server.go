// Package server hosts the passkey HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chartfold/passkey/internal/api/web"
	"github.com/chartfold/passkey/internal/ceremony"
	"github.com/chartfold/passkey/internal/session"
	"github.com/chartfold/passkey/internal/storage/sqlite"
)

const sweepInterval = 5 * time.Minute

// Server hosts the passkey service.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
}

// New creates a configured passkey server listening on the provided address.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	sessionConfig, err := session.LoadConfigFromEnv()
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	sessions := session.NewManager(sessionConfig, store)
	ceremonies := ceremony.NewService(ceremony.LoadConfigFromEnv(), store, store, store, sessions)

	mux := http.NewServeMux()
	web.NewServer(ceremonies).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
	}, nil
}

// Addr returns the listener address for the passkey server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a passkey server until the context ends.
func Run(ctx context.Context, addr string) error {
	passkeyServer, err := New(addr)
	if err != nil {
		return err
	}
	return passkeyServer.Serve(ctx)
}

// Serve starts the passkey server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSweep(serverCtx, sweepInterval)

	log.Printf("passkey server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-serverCtx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// startSweep periodically removes expired challenges and web sessions.
func (s *Server) startSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = sweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if removed, err := s.store.SweepExpiredChallenges(ctx, now); err != nil {
					log.Printf("sweep expired challenges: %v", err)
				} else if removed > 0 {
					log.Printf("swept %d expired challenges", removed)
				}
				if removed, err := s.store.DeleteExpiredWebSessions(ctx, now); err != nil {
					log.Printf("sweep expired web sessions: %v", err)
				} else if removed > 0 {
					log.Printf("swept %d expired web sessions", removed)
				}
			}
		}
	}()
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

func openStore() (*sqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("CHARTFOLD_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "passkey.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open passkey store: %w", err)
	}
	return store, nil
}
