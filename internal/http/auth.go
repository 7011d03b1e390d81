package http

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/movie-ticket-booking/internal/observability"
)

type ctxKey int

const (
	callerKey ctxKey = iota
	loggerKey
)

// Caller returns the authenticated user id, or "" for anonymous requests.
func Caller(ctx context.Context) string {
	id, _ := ctx.Value(callerKey).(string)
	return id
}

func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey, userID)
}

// Verifier checks session tokens signed by the identity provider.
type Verifier struct {
	key *rsa.PublicKey
}

func NewVerifier(pemKey string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, errors.Wrap(err, "parse jwt public key")
	}
	return &Verifier{key: key}, nil
}

// Subject validates raw and returns its sub claim.
func (v *Verifier) Subject(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// JWTMiddleware attaches the caller of a valid bearer token to the request.
// Requests without a token continue anonymously; a bad token is rejected.
func JWTMiddleware(v *Verifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || v == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(auth, "Bearer ") {
				writeFailure(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			sub, err := v.Subject(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				writeFailure(w, http.StatusUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), sub)))
		})
	}
}

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if Caller(r.Context()) == "" {
			writeFailure(w, http.StatusUnauthorized, "User not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type Authorizer interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// AdminGate lets a request through only when the caller's role is admin.
// Every refusal is a JSON body, never a panic.
func AdminGate(authz Authorizer, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Caller(r.Context())
			if caller == "" {
				writeFailure(w, http.StatusUnauthorized, "User not authenticated")
				return
			}
			ok, err := authz.IsAdmin(r.Context(), caller)
			if err != nil {
				logger.WithField("user_id", caller).WithError(err).Error("admin lookup failed")
				writeFailure(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !ok {
				writeFailure(w, http.StatusForbidden, "not authorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
