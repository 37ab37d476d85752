package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"aqualedger/observability/logging"
)

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	// MaxTTL rejects tokens whose lifetime exceeds it. Zero disables the check.
	MaxTTL    time.Duration
	ClockSkew time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "ledgerd.caller"

// Claims are the JWT claims ledgerd accepts. The subject is the caller
// identity handed to the authorization registry.
type Claims struct {
	jwt.RegisteredClaims
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject for CallerFromContext. Websocket upgrades may pass the token
// as the access_token query parameter since browsers cannot set headers there.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			tokenString = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if tokenString == "" {
			writeAuthError(w, "missing bearer token")
			return
		}
		claims, err := a.Parse(tokenString)
		if err != nil {
			a.logger.Warn("token validation failed",
				logging.MaskField("token", tokenString),
				slog.String("error", err.Error()))
			writeAuthError(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), claims.Subject)))
	})
}

// Parse validates signature, issuer, audience, expiry and lifetime.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	if a.cfg.MaxTTL > 0 && claims.IssuedAt != nil && claims.ExpiresAt != nil {
		if claims.ExpiresAt.Sub(claims.IssuedAt.Time) > a.cfg.MaxTTL {
			return nil, errors.New("token lifetime exceeds maximum")
		}
	}
	return claims, nil
}

// MintToken signs an HS256 token for subject. ledgerctl uses it to issue
// operator and organiser credentials.
func MintToken(secret, issuer, audience, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("auth secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

// WithCaller attaches an authenticated caller identity to ctx.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// CallerFromContext returns the authenticated caller identity, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(string)
	return caller, ok && caller != ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="ledgerd"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": "unauthenticated", "message": message})
}

func extractBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
