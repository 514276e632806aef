package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/middleware"
	"github.com/maxr0ssi/llm-router/internal/routing"
	"github.com/maxr0ssi/llm-router/internal/types"
)

// Config holds server configuration.
type Config struct {
	Port           string                     `yaml:"port"`
	ReadTimeout    time.Duration              `yaml:"read_timeout"`
	WriteTimeout   time.Duration              `yaml:"write_timeout"`
	MaxHeaderBytes int                        `yaml:"max_header_bytes"`
	Security       *middleware.SecurityConfig `yaml:"security"`
}

// Server exposes the router over HTTP.
type Server struct {
	router     *routing.Router
	httpServer *http.Server
	logger     *logrus.Logger
	config     *Config
	security   *middleware.SecurityStack
}

// New creates a server instance.
func New(router *routing.Router, config *Config, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		router: router,
		logger: logger,
		config: config,
	}

	if config.Security != nil {
		stack, err := middleware.NewSecurityStack(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.security = stack
	}
	return server, nil
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting LLM router server")
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping LLM router server")
	if s.security != nil {
		s.security.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.security != nil {
		r.Use(s.security.Handler())
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/generate/stream", s.handleGenerateStream).Methods("POST")
	api.HandleFunc("/models", s.handleListModels).Methods("GET")
	api.HandleFunc("/models/{id}", s.handleGetModel).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/metrics/retry", s.handleRetryMetrics).Methods("GET")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.setupDocsRoutes(r)

	return r
}

// generateRequest is the request body shared by both generate endpoints.
type generateRequest struct {
	Model     string                  `json:"model"`
	Messages  []types.Message         `json:"messages"`
	Params    *types.RequestParams    `json:"params,omitempty"`
	Streaming *types.StreamingOptions `json:"streaming,omitempty"`
	RequestID string                  `json:"request_id,omitempty"`
}

func (req *generateRequest) validate() error {
	if req.Model == "" {
		return &types.ValidationError{Field: "model", Message: "model is required"}
	}
	if len(req.Messages) == 0 {
		return &types.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	for i, msg := range req.Messages {
		if msg.Content == "" {
			return &types.ValidationError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: "message content cannot be empty",
			}
		}
	}
	return nil
}

func (req *generateRequest) options() *routing.Options {
	return &routing.Options{
		Params:    req.Params,
		Streaming: req.Streaming,
		RequestID: req.RequestID,
	}
}

// handleGenerate serves synchronous generation.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.router.Generate(r.Context(), req.Model, req.Messages, req.options())
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGenerateStream serves generation as server-sent events. Each text
// chunk is one data event; the stream ends with [DONE].
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	chunks, err := s.router.GenerateStream(r.Context(), req.Model, req.Messages, req.options())
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if chunk.Err != nil {
			event := map[string]interface{}{
				"error": map[string]interface{}{
					"message": chunk.Err.Error(),
					"type":    "stream_error",
				},
			}
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			break
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			s.logger.WithError(err).Error("Failed to marshal chunk")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleListModels lists all configured models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.router.Models()
	response := map[string]interface{}{
		"models": models,
		"count":  len(models),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleGetModel returns one model's configuration.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	cfg, err := s.router.ModelConfig(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Model %s not found", id))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// handleStatus reports provider availability and breaker state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"providers": s.router.Status(),
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRetryMetrics reports aggregate retry counters.
func (s *Server) handleRetryMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.router.RetryMetrics())
}

// handleHealth returns process liveness plus per-provider availability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.router.Status()

	healthy := false
	for _, status := range statuses {
		if status.Available {
			healthy = true
			break
		}
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"providers": statuses,
		"timestamp": time.Now().Unix(),
	}
	code := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			contentType := r.Header.Get("Content-Type")
			if contentType != "" && contentType != "application/json" {
				s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeRoutingError maps the typed error taxonomy onto HTTP statuses.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	var (
		notFound    *types.ConfigNotFoundError
		validation  *types.ValidationError
		unavailable *types.AvailabilityError
		circuitOpen *types.CircuitOpenError
		exhausted   *types.RetryExhaustedError
		provider    *types.ProviderError
	)

	switch {
	case errors.As(err, &notFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &unavailable), errors.As(err, &circuitOpen):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &exhausted):
		s.writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &provider):
		code := provider.StatusCode
		if code == 0 {
			code = http.StatusBadGateway
		}
		s.writeError(w, code, err.Error())
	default:
		// Unclassified failures get the generic internal shape.
		s.writeError(w, http.StatusInternalServerError, (&types.InternalError{Err: err}).Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter captures the status code for request logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
