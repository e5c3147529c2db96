package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manthysbr/censord/internal/core/domain"
	"github.com/manthysbr/censord/internal/core/ports"
	"github.com/manthysbr/censord/internal/core/services"
)

// Config holds the server configuration
type Config struct {
	Listen    string // host:port; port 0 picks a free one
	Advertise string // address registered with the dispatcher; derived from the listener when empty
}

type ProcessRequest struct {
	Text    string   `json:"text"`
	Insults []string `json:"insults,omitempty"`
}

type ProcessResponse struct {
	Filtered string `json:"filtered"`
	Worker   string `json:"worker"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Worker    string `json:"worker"`
	Processed int64  `json:"processed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is a worker agent: it filters texts on request and keeps itself
// registered with the dispatcher for as long as it runs.
type Server struct {
	server    *http.Server
	logger    *slog.Logger
	cfg       Config
	registrar ports.Registrar
	insults   domain.InsultSet

	listener net.Listener
	address  domain.WorkerAddress
	serveErr chan error

	// One job at a time, like a single-threaded worker process.
	jobMu     sync.Mutex
	processed atomic.Int64
	draining  atomic.Bool
}

func NewServer(logger *slog.Logger, cfg Config, registrar ports.Registrar, insults domain.InsultSet) *Server {
	s := &Server{
		logger:    logger,
		cfg:       cfg,
		registrar: registrar,
		insults:   insults,
		serveErr:  make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start binds the listener, begins serving and registers with the dispatcher.
// A failed registration stops the server and is returned.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = listener

	addr, err := s.resolveAddress()
	if err != nil {
		listener.Close()
		return err
	}
	s.address = addr

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- fmt.Errorf("worker server error: %w", err)
		}
		close(s.serveErr)
	}()
	s.logger.Info("worker listening", "listen", listener.Addr().String(), "address", s.address)

	status, err := s.registrar.Register(ctx, s.address)
	if err != nil {
		s.server.Close()
		listener.Close()
		return fmt.Errorf("failed to register %s: %w", s.address, err)
	}
	s.logger.Info("worker registered with dispatcher", "address", s.address, "status", status)
	return nil
}

// Run starts the agent and blocks until ctx is done or the server fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-s.serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown unregisters best effort, then stops the HTTP server gracefully.
// Jobs arriving after this point are refused with 503.
func (s *Server) Shutdown(ctx context.Context) error {
	s.draining.Store(true)

	if s.address != "" {
		if _, err := s.registrar.Unregister(ctx, s.address); err != nil {
			// The dispatcher evicts us on its next failed dispatch anyway.
			s.logger.Warn("failed to unregister from dispatcher", "address", s.address, "error", err)
		} else {
			s.logger.Info("worker unregistered", "address", s.address)
		}
	}

	return s.server.Shutdown(ctx)
}

// Address is the address registered with the dispatcher. Empty before Start.
func (s *Server) Address() domain.WorkerAddress {
	return s.address
}

func (s *Server) resolveAddress() (domain.WorkerAddress, error) {
	if s.cfg.Advertise != "" {
		return domain.ParseWorkerAddress(s.cfg.Advertise)
	}

	host, port, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return "", fmt.Errorf("failed to parse listener address: %w", err)
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return domain.ParseWorkerAddress("http://" + net.JoinHostPort(host, port))
}

// POST /process
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "worker is shutting down"})
		return
	}

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	insults := s.insults
	if len(req.Insults) > 0 {
		insults = domain.NewInsultSet(req.Insults...)
	}

	s.jobMu.Lock()
	filtered := services.FilterText(req.Text, insults)
	s.jobMu.Unlock()

	n := s.processed.Add(1)
	s.logger.Debug("job processed", "processed", n, "bytes", len(req.Text))

	writeJSON(w, http.StatusOK, ProcessResponse{Filtered: filtered, Worker: string(s.address)})
}

// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "alive"
	if s.draining.Load() {
		status = "draining"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Worker:    string(s.address),
		Processed: s.processed.Load(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
