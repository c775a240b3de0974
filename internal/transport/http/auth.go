package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	bearerPrefix                      = "bearer"
	defaultClockSkew                  = time.Minute
	adminIDContextKey      contextKey = "admin_id"
	defaultAdminTokenTTL              = 12 * time.Hour
)

type AuthConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// AdminAuth validates HS256 bearer tokens on admin routes. The token
// subject is the administrator id.
type AdminAuth struct {
	cfg    AuthConfig
	parser *jwt.Parser
	logger *slog.Logger
}

func NewAdminAuth(cfg AuthConfig, logger *slog.Logger) *AdminAuth {
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &AdminAuth{cfg: cfg, parser: jwt.NewParser(opts...), logger: logger}
}

// Handler rejects requests without a valid token and stores the admin id
// in the request context.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, err := a.authenticate(r)
		if err != nil {
			a.logger.Info("admin_auth_failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), adminIDContextKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AdminAuth) authenticate(r *http.Request) (string, error) {
	raw, err := extractBearerToken(r)
	if err != nil {
		return "", err
	}
	claims := &jwt.RegisteredClaims{}
	token, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing subject claim")
	}
	return claims.Subject, nil
}

// IssueToken signs an admin token for adminID valid for ttl.
func (a *AdminAuth) IssueToken(adminID string, ttl time.Duration, now time.Time) (string, error) {
	if ttl <= 0 {
		ttl = defaultAdminTokenTTL
	}
	claims := jwt.RegisteredClaims{
		Subject:   adminID,
		Issuer:    a.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
}

func extractBearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, bearerPrefix) || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}

// AdminIDFromContext returns the authenticated admin id.
func AdminIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminIDContextKey).(string)
	return id, ok && id != ""
}
