// Package access issues and verifies administrator tokens.
package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RoleAdmin is the only role allowed on admin endpoints.
const RoleAdmin = "admin"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims are the JWT claims of an administrator token.
type Claims struct {
	Role string `json:"role"`
	jwtv5.RegisteredClaims
}

// Service signs and checks HS256 tokens for a fixed list of administrators.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	admins map[string]struct{}
	now    func() time.Time
	logger zerolog.Logger
}

// NewService creates a new access control service. An empty admins list
// accepts any subject carrying the admin role.
func NewService(secret, issuer string, ttl time.Duration, admins []string, logger zerolog.Logger) *Service {
	set := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			set[a] = struct{}{}
		}
	}
	return &Service{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		admins: set,
		now:    time.Now,
		logger: logger.With().Str("component", "access").Logger(),
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IsAdmin reports whether subject is a configured administrator.
func (s *Service) IsAdmin(subject string) bool {
	if len(s.admins) == 0 {
		return true
	}
	_, ok := s.admins[subject]
	return ok
}

// IssueToken signs an admin token for subject.
func (s *Service) IssueToken(subject string) (string, error) {
	if !s.IsAdmin(subject) {
		return "", &AccessDeniedError{Reason: fmt.Sprintf("%s is not an administrator", subject)}
	}
	now := s.now()
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	s.logger.Info().
		Str("subject", subject).
		Time("expires_at", claims.ExpiresAt.Time).
		Msg("admin token issued")
	return token, nil
}

// ParseToken verifies the signature, issuer and expiry of a token.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwtv5.ParseWithClaims(tokenString, &Claims{}, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	},
		jwtv5.WithIssuer(s.issuer),
		jwtv5.WithTimeFunc(s.now),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Authorize checks an Authorization header value and returns the admin subject.
func (s *Service) Authorize(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", &AccessDeniedError{Reason: "missing bearer token"}
	}
	claims, err := s.ParseToken(strings.TrimSpace(raw))
	if err != nil {
		return "", &AccessDeniedError{Reason: err.Error()}
	}
	if claims.Role != RoleAdmin || !s.IsAdmin(claims.Subject) {
		s.logger.Warn().Str("subject", claims.Subject).Str("role", claims.Role).Msg("admin access denied")
		return "", &AccessDeniedError{Reason: "administrator role required"}
	}
	return claims.Subject, nil
}

// AccessDeniedError is returned when user access is denied.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return e.Reason
}

// IsAccessDenied checks if error is access denied.
func IsAccessDenied(err error) bool {
	var target *AccessDeniedError
	return errors.As(err, &target)
}
