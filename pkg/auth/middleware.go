package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	public      map[string]bool
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware. Requests whose path is in
// publicPaths skip authentication.
func NewMiddleware(authService AuthService, publicPaths []string, logger *zap.Logger) *Middleware {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Middleware{
		authService: authService,
		public:      public,
		logger:      logger,
	}
}

// Handler requires a valid token on every non-public request and stores its
// claims in the request context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.authService.ValidateRequest(r)
		if err != nil {
			if errors.Is(err, apperrors.ErrForbiddenEmail) {
				m.writeError(w, http.StatusForbidden, "forbidden", "Email is not allowed to access this dashboard")
				return
			}
			m.writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"type":  kind,
	})
}
