package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/dashboard-gateway/pkg/apperrors"
)

// Common authentication errors. Both wrap the apperrors sentinels so the
// HTTP layer maps them to 401 and 403.
var (
	ErrMissingAuthorization = fmt.Errorf("missing authorization: %w", apperrors.ErrUnauthenticated)
	ErrInvalidAuthFormat    = fmt.Errorf("invalid authorization header format: %w", apperrors.ErrUnauthenticated)
	ErrInvalidToken         = fmt.Errorf("invalid token: %w", apperrors.ErrUnauthenticated)
	ErrEmailNotAllowed      = apperrors.ErrForbiddenEmail
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts the bearer token from the Authorization
	// header, validates it and checks the email allow-list.
	ValidateRequest(r *http.Request) (*Claims, error)
}

type authService struct {
	validator TokenValidator
	allowed   map[string]bool
	logger    *zap.Logger
}

// NewAuthService creates an AuthService. An empty allowedEmails list admits
// every verified token.
func NewAuthService(validator TokenValidator, allowedEmails []string, logger *zap.Logger) AuthService {
	allowed := make(map[string]bool, len(allowedEmails))
	for _, e := range allowedEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[e] = true
		}
	}
	return &authService{
		validator: validator,
		allowed:   allowed,
		logger:    logger,
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No token found in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, ErrInvalidAuthFormat
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		s.logger.Warn("Token validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		return nil, errors.Join(ErrInvalidToken, err)
	}

	email := strings.ToLower(claims.Email)
	if len(s.allowed) > 0 && !s.allowed[email] {
		s.logger.Warn("Email not on the allow-list",
			zap.String("email", email),
			zap.String("path", r.URL.Path))
		return nil, ErrEmailNotAllowed
	}
	return claims, nil
}
