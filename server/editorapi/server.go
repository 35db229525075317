// Package editorapi exposes a Workspace over HTTP.
//
// All routes live under /api/v1 and require "Authorization: Bearer <key>".
// Request bodies are JSON and are checked against a JSON schema before they
// reach a handler.
package editorapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/migadu/sieveedit/config"
	"github.com/migadu/sieveedit/consts"
	"github.com/migadu/sieveedit/editor"
	"github.com/migadu/sieveedit/logger"
	"github.com/migadu/sieveedit/pkg/metrics"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/crypto/bcrypt"
)

const defaultMaxBodySize = 1 << 20

// Server is the HTTP editing API.
type Server struct {
	name         string
	addr         string
	apiKey       string
	allowedHosts []string
	ws           *editor.Workspace
	extensions   []string
	maxBodySize  int64
	schemas      map[string]*jsonschema.Schema
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// ServerOptions holds configuration options for the API server.
type ServerOptions struct {
	Name         string
	Addr         string
	APIKey       string // plain key, or a bcrypt hash when it starts with "$2"
	AllowedHosts []string
	Extensions   []string // enabled for simulation; empty enables all supported
	MaxBodySize  int64
	TLS          bool
	TLSCertFile  string
	TLSKeyFile   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OptionsFromConfig builds ServerOptions from the [api] and [sieve] sections.
func OptionsFromConfig(cfg config.Config) (ServerOptions, error) {
	readTimeout, err := cfg.API.GetReadTimeout()
	if err != nil {
		return ServerOptions{}, fmt.Errorf("invalid api.read_timeout: %w", err)
	}
	writeTimeout, err := cfg.API.GetWriteTimeout()
	if err != nil {
		return ServerOptions{}, fmt.Errorf("invalid api.write_timeout: %w", err)
	}
	maxScript, err := cfg.Sieve.GetMaxScriptSize()
	if err != nil {
		return ServerOptions{}, fmt.Errorf("invalid sieve.max_script_size: %w", err)
	}
	maxBody := int64(defaultMaxBodySize)
	if 2*maxScript+4096 > maxBody {
		maxBody = 2*maxScript + 4096
	}
	return ServerOptions{
		Name:         "editorapi",
		Addr:         cfg.API.Addr,
		APIKey:       cfg.API.APIKey,
		AllowedHosts: cfg.API.AllowedHosts,
		Extensions:   cfg.Sieve.SupportedExtensions,
		MaxBodySize:  maxBody,
		TLS:          cfg.API.TLS,
		TLSCertFile:  cfg.API.TLSCertFile,
		TLSKeyFile:   cfg.API.TLSKeyFile,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}, nil
}

// New creates a new API server for ws.
func New(ws *editor.Workspace, options ServerOptions) (*Server, error) {
	if ws == nil {
		return nil, fmt.Errorf("workspace is required for the editor API server")
	}
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the editor API server")
	}
	if options.TLS && (options.TLSCertFile == "" || options.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
	}
	for _, host := range options.AllowedHosts {
		if strings.Contains(host, "/") {
			if _, _, err := net.ParseCIDR(host); err != nil {
				return nil, fmt.Errorf("invalid allowed host %q: %w", host, err)
			}
		}
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schemas: %w", err)
	}

	name := options.Name
	if name == "" {
		name = "editorapi"
	}
	maxBody := options.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	return &Server{
		name:         name,
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		ws:           ws,
		extensions:   options.Extensions,
		maxBodySize:  maxBody,
		schemas:      schemas,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
		readTimeout:  options.ReadTimeout,
		writeTimeout: options.WriteTimeout,
	}, nil
}

// Start runs the API server until ctx is cancelled. Failures are reported
// on errChan.
func Start(ctx context.Context, ws *editor.Workspace, options ServerOptions, errChan chan error) {
	server, err := New(ws, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create editor API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("Editor API: Starting server", "name", server.name, "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("editor API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Editor API: Shutting down server", "name", s.name)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Editor API: Error shutting down server", "name", s.name, "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.UseEncodedPath()

	router.Use(s.loggingMiddleware)
	router.Use(s.metricsMiddleware)
	router.Use(s.allowedHostsMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")

	v1.HandleFunc("/scripts", s.handleListScripts).Methods("GET")
	v1.HandleFunc("/scripts", s.handleCreateScript).Methods("POST")
	v1.HandleFunc("/scripts/{name}", s.handleGetScript).Methods("GET")
	v1.HandleFunc("/scripts/{name}", s.handlePutScript).Methods("PUT")
	v1.HandleFunc("/scripts/{name}", s.handleDeleteScript).Methods("DELETE")
	v1.HandleFunc("/scripts/{name}/save", s.handleSaveScript).Methods("POST")
	v1.HandleFunc("/scripts/{name}/close", s.handleCloseScript).Methods("POST")
	v1.HandleFunc("/scripts/{name}/activate", s.handleActivateScript).Methods("POST")
	v1.HandleFunc("/scripts/{name}/rename", s.handleRenameScript).Methods("POST")
	v1.HandleFunc("/active", s.handleDeactivate).Methods("DELETE")

	// Test editing
	v1.HandleFunc("/scripts/{name}/conditions", s.handleConditions).Methods("GET")
	v1.HandleFunc("/scripts/{name}/negate", s.handleNegate).Methods("POST")
	v1.HandleFunc("/scripts/{name}/simplify", s.handleSimplify).Methods("POST")
	v1.HandleFunc("/scripts/{name}/group", s.handleGroup).Methods("POST")
	v1.HandleFunc("/scripts/{name}/ungroup", s.handleUngroup).Methods("POST")
	v1.HandleFunc("/scripts/{name}/simulate", s.handleSimulateScript).Methods("POST")

	// Stateless tools
	v1.HandleFunc("/format", s.handleFormat).Methods("POST")
	v1.HandleFunc("/invert", s.handleInvert).Methods("POST")
	v1.HandleFunc("/simulate", s.handleSimulate).Methods("POST")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), consts.RequestIDKey, requestID)
		r = r.WithContext(ctx)

		logger.DebugContext(ctx, "Editor API: Request", "name", s.name, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
		logger.DebugContext(ctx, "Editor API: Request completed", "name", s.name, "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)
		ip := net.ParseIP(clientIP)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			if strings.Contains(allowedHost, "/") && ip != nil {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil && cidr.Contains(ip) {
					allowed = true
					break
				}
			}
		}

		if !allowed {
			logger.WarnContext(r.Context(), "Editor API: Host not allowed", "name", s.name, "client_ip", clientIP)
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if !s.checkKey(parts[1]) {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkKey(token string) bool {
	if strings.HasPrefix(s.apiKey, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(s.apiKey), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Editor API: Error encoding JSON response", "name", s.name, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
