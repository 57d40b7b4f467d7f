package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/internal/metrics"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
)

type APIServer struct {
	cfg        *config.Config
	server     *http.Server
	validator  *certValidator
	taskStore  *taskstore.Store
	listenAddr string
	useTLS     bool
	jobCtx     context.Context
	jobCancel  context.CancelFunc
	wg         sync.WaitGroup

	// newTask builds the task for each API request.
	newTask func() *core.ValidationTask
}

func New(cfg *config.Config) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is not loaded")
	}
	srvCfg := cfg.Server
	if srvCfg.ListenAddress == "" {
		srvCfg.ListenAddress = "0.0.0.0"
	}
	if srvCfg.ListenPort == 0 {
		return nil, fmt.Errorf("server.listen_port must be configured")
	}
	hasCert := strings.TrimSpace(srvCfg.TLSCertFile) != ""
	hasKey := strings.TrimSpace(srvCfg.TLSKeyFile) != ""
	if hasCert != hasKey {
		return nil, fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if srvCfg.ClientCAFile != "" && !hasCert {
		return nil, fmt.Errorf("server.client_ca_file requires a TLS certificate and key")
	}

	validator, err := newCertValidator(srvCfg)
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if hasCert {
		tlsCert, err := tls.LoadX509KeyPair(srvCfg.TLSCertFile, srvCfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load server TLS keypair: %w", err)
		}
		tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{tlsCert},
		}
		if validator != nil {
			tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			tlsConfig.ClientCAs = validator.clientCAPool
		}
	}

	taskStore, err := taskstore.New(srvCfg.TaskStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise task store: %w", err)
	}

	apiServer := &APIServer{
		cfg:        cfg,
		validator:  validator,
		taskStore:  taskStore,
		listenAddr: fmt.Sprintf("%s:%d", srvCfg.ListenAddress, srvCfg.ListenPort),
		useTLS:     tlsConfig != nil,
		jobCtx:     context.Background(),
		newTask:    core.NewValidationTask,
	}

	apiServer.server = &http.Server{
		Addr:              apiServer.listenAddr,
		Handler:           loggingMiddleware(apiServer.routes()),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return apiServer, nil
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/validate", s.authenticated(http.HandlerFunc(s.handleValidate)))
	mux.Handle("GET /api/v1/runs", s.authenticated(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", s.authenticated(http.HandlerFunc(s.handleRunStatus)))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Run(ctx context.Context) error {
	if s == nil || s.server == nil {
		return fmt.Errorf("api server is not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.jobCtx = runCtx
	s.jobCancel = cancel
	defer func() {
		cancel()
		s.wg.Wait()
		if err := s.Close(); err != nil {
			logger.Warn("failed to close task store: %v", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.useTLS {
			logger.Info("API server listening on https://%s", s.listenAddr)
			err = s.server.ListenAndServeTLS("", "")
		} else {
			logger.Info("API server listening on http://%s", s.listenAddr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *APIServer) Close() error {
	if s.taskStore == nil {
		return nil
	}
	err := s.taskStore.Close()
	s.taskStore = nil
	return err
}

func (s *APIServer) enqueueTask(runID string, run func(context.Context) error) error {
	if s == nil {
		return fmt.Errorf("api server unavailable")
	}
	if s.taskStore == nil {
		return fmt.Errorf("task store unavailable")
	}
	if s.jobCtx == nil {
		return fmt.Errorf("api server is not running")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithCancel(s.jobCtx)
		defer cancel()
		if err := run(ctx); err != nil {
			logger.Error("run %s failed: %v", runID, err)
		}
	}()
	return nil
}

type clientInfo struct {
	cert *x509.Certificate
	role string
}

type clientContextKey struct{}

// authenticated checks the client certificate when mutual TLS is on and
// passes requests straight through otherwise.
func (s *APIServer) authenticated(next http.Handler) http.Handler {
	if s.validator == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			writeError(w, http.StatusUnauthorized, "client certificate required")
			return
		}
		clientCert := r.TLS.PeerCertificates[0]
		role, err := s.validator.Validate(clientCert)
		if err != nil {
			logger.Warn("client certificate validation failed: %v", err)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		info := clientInfo{cert: clientCert, role: role}
		ctx := context.WithValue(r.Context(), clientContextKey{}, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getClientInfo(ctx context.Context) (clientInfo, bool) {
	if ctx == nil {
		return clientInfo{}, false
	}
	info, ok := ctx.Value(clientContextKey{}).(clientInfo)
	return info, ok
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to write JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("%s %s completed in %s", r.Method, r.URL.Path, time.Since(start))
	})
}
