package security

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AuditEventType classifies security events.
type AuditEventType string

const (
	AuthenticationSuccess AuditEventType = "authentication_success"
	AuthenticationFailure AuditEventType = "authentication_failure"
	RateLimitExceeded     AuditEventType = "rate_limit_exceeded"
	ValidationFailure     AuditEventType = "validation_failure"
	RequestCompleted      AuditEventType = "request_completed"
)

// AuditEvent is one recorded security event.
type AuditEvent struct {
	Timestamp  time.Time      `json:"timestamp"`
	EventType  AuditEventType `json:"event_type"`
	UserID     string         `json:"user_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	Method     string         `json:"method,omitempty"`
	Path       string         `json:"path,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Message    string         `json:"message"`
}

// AuditConfig holds audit logging configuration.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
}

// AuditLogger records security events asynchronously so the request path
// never blocks on audit output. Events also go to the structured log.
type AuditLogger struct {
	config *AuditConfig
	logger *logrus.Logger

	buffer   chan AuditEvent
	done     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	eventCount int64
}

// NewAuditLogger creates an audit logger and starts its drain loop when
// enabled.
func NewAuditLogger(config *AuditConfig, logger *logrus.Logger) *AuditLogger {
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}

	a := &AuditLogger{
		config: config,
		logger: logger,
		buffer: make(chan AuditEvent, config.BufferSize),
		done:   make(chan struct{}),
	}
	if config.Enabled {
		go a.drain()
	}
	return a
}

// Log records one event. Drops with a warning when the buffer is full.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if !a.config.Enabled {
		return
	}
	event.Timestamp = time.Now().UTC()
	if info, ok := GetAuthInfo(ctx); ok {
		event.UserID = info.UserID
	}

	select {
	case a.buffer <- event:
		a.mu.Lock()
		a.eventCount++
		a.mu.Unlock()
	default:
		a.logger.Warn("Audit buffer full, dropping event")
	}
}

// EventCount returns the number of events accepted so far.
func (a *AuditLogger) EventCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eventCount
}

// Middleware records one completion event per request.
func (a *AuditLogger) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			a.Log(r.Context(), AuditEvent{
				EventType:  RequestCompleted,
				IPAddress:  ClientIP(r),
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rec.status,
				Message:    "request completed",
			})
		})
	}
}

func (a *AuditLogger) drain() {
	for {
		select {
		case event := <-a.buffer:
			a.logger.WithFields(logrus.Fields{
				"event_type":  event.EventType,
				"user_id":     event.UserID,
				"ip_address":  event.IPAddress,
				"method":      event.Method,
				"path":        event.Path,
				"status_code": event.StatusCode,
			}).Info(event.Message)
		case <-a.done:
			// Flush whatever is buffered before exiting.
			for {
				select {
				case event := <-a.buffer:
					a.logger.WithField("event_type", event.EventType).Info(event.Message)
				default:
					return
				}
			}
		}
	}
}

// Stop flushes and halts the drain loop.
func (a *AuditLogger) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
