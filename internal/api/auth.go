package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// anonymousOperator is recorded as the sender when auth is disabled.
const anonymousOperator = "admin"

const issuer = "pushcron"

// Claims is the admin token payload. The subject names the operator and
// ends up as SentBy on ad hoc notifications.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	clock  func() time.Time
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty secret")
	}
	return &Authenticator{secret: []byte(secret), clock: time.Now}, nil
}

// Issue signs a token for subject, valid for ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("auth: empty subject")
	}
	now := a.clock()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token and returns its subject.
func (a *Authenticator) Validate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.clock),
	)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject for handlers.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="pushcron"`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := a.Validate(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withOperator(r.Context(), subject)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type operatorKey struct{}

func withOperator(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, operatorKey{}, subject)
}

// operator returns the authenticated subject, or anonymousOperator.
func operator(ctx context.Context) string {
	if s, ok := ctx.Value(operatorKey{}).(string); ok && s != "" {
		return s
	}
	return anonymousOperator
}
