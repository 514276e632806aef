package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maxr0ssi/llm-router/internal/security"
)

// SecurityConfig bundles the protection layers applied to the HTTP surface.
type SecurityConfig struct {
	Auth       *security.Config          `yaml:"auth"`
	RateLimit  *security.RateLimitConfig `yaml:"rate_limit"`
	Audit      *security.AuditConfig     `yaml:"audit"`
	Validation *ValidationConfig         `yaml:"validation"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SecurityStack composes authentication, rate limiting, audit logging and
// schema validation into one middleware chain.
type SecurityStack struct {
	auth      *security.Authenticator
	limiter   *security.RateLimiter
	auditor   *security.AuditLogger
	validator *ValidationMiddleware
	origins   []string
	logger    *logrus.Logger
}

// NewSecurityStack builds the stack. Nil config sections disable the
// corresponding layer.
func NewSecurityStack(config *SecurityConfig, logger *logrus.Logger) (*SecurityStack, error) {
	s := &SecurityStack{
		origins: config.AllowedOrigins,
		logger:  logger,
	}

	if config.Auth != nil {
		s.auth = security.NewAuthenticator(config.Auth, logger)
	}
	if config.RateLimit != nil && config.RateLimit.Enabled {
		s.limiter = security.NewRateLimiter(config.RateLimit, logger)
	}
	if config.Audit != nil {
		s.auditor = security.NewAuditLogger(config.Audit, logger)
	}
	if config.Validation != nil {
		validator, err := NewValidationMiddleware(config.Validation, logger)
		if err != nil {
			return nil, err
		}
		s.validator = validator
	}
	return s, nil
}

// Handler wraps a handler with the full chain, outermost first: audit,
// CORS, auth, rate limit, schema validation.
func (s *SecurityStack) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if s.validator != nil {
			handler = s.validator.Middleware(handler)
		}
		if s.limiter != nil {
			handler = s.limiter.Middleware()(handler)
		}
		if s.auth != nil {
			handler = s.auth.Middleware()(handler)
		}
		handler = s.corsMiddleware()(handler)
		if s.auditor != nil {
			handler = s.auditor.Middleware()(handler)
		}
		handler = securityHeaders()(handler)

		return handler
	}
}

// Authenticator exposes the auth provider for token issuance endpoints.
func (s *SecurityStack) Authenticator() *security.Authenticator {
	return s.auth
}

// Stop shuts down background goroutines.
func (s *SecurityStack) Stop() {
	if s.auditor != nil {
		s.auditor.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *SecurityStack) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range s.origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			next.ServeHTTP(w, r)
		})
	}
}
