package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

// Claim names carried by admin tokens
const (
	ClaimUserID       = "user_id"
	ClaimName         = "name"
	ClaimCapabilities = "caps"
)

var errNoCaller = errors.New("no caller identity")

type callerCtxKey struct{}

// WithCaller returns a copy of ctx carrying caller
func WithCaller(ctx context.Context, caller replacefiles.Caller) context.Context {
	return context.WithValue(ctx, callerCtxKey{}, caller)
}

// CallerFromContext returns the caller stored by CallerMiddleware
func CallerFromContext(ctx context.Context) (replacefiles.Caller, bool) {
	caller, ok := ctx.Value(callerCtxKey{}).(replacefiles.Caller)
	return caller, ok
}

// NewJWTAuth creates the HS256 signer used for admin tokens
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// EncodeCaller signs a token for caller. A ttl of zero issues a token without expiry.
func EncodeCaller(ja *jwtauth.JWTAuth, caller replacefiles.Caller, ttl time.Duration) (string, error) {
	caps := make([]string, 0, len(caller.Capabilities))
	for _, c := range caller.Capabilities {
		caps = append(caps, string(c))
	}
	claims := map[string]interface{}{
		"sub":             strconv.FormatInt(caller.UserID, 10),
		ClaimName:         caller.DisplayName,
		ClaimCapabilities: caps,
	}
	jwtauth.SetIssuedNow(claims)
	if ttl != 0 {
		jwtauth.SetExpiryIn(claims, ttl)
	}
	_, token, err := ja.Encode(claims)
	return token, err
}

// UserSaver records the users seen on the admin surface
type UserSaver interface {
	SaveUser(ctx context.Context, user *replacefiles.User) error
}

// CallerMiddleware verifies the JWT from the Authorization header or the
// "jwt" cookie and stores the caller on the request context. Every caller
// coming through here is in the admin context. Requests without a valid
// token are refused with 403.
func CallerMiddleware(ja *jwtauth.JWTAuth, users UserSaver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	verify := jwtauth.Verifier(ja)

	return func(next http.Handler) http.Handler {
		require := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err == nil && token == nil {
				err = errNoCaller
			}
			var caller replacefiles.Caller
			if err == nil {
				caller, err = callerFromClaims(claims)
			}
			if err != nil {
				logger.Debug("rejected admin request", "path", r.URL.Path, "error", err)
				http.Error(w, "Sorry, you are not allowed to access this page.", http.StatusForbidden)
				return
			}

			if users != nil && caller.DisplayName != "" {
				err := users.SaveUser(r.Context(), &replacefiles.User{
					ID:           caller.UserID,
					DisplayName:  caller.DisplayName,
					Capabilities: caller.Capabilities,
				})
				if err != nil {
					logger.Warn("failed to record user", "user_id", caller.UserID, "error", err)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
		return verify(require)
	}
}

func callerFromClaims(claims map[string]interface{}) (replacefiles.Caller, error) {
	caller := replacefiles.Caller{Admin: true}

	raw, ok := claims[ClaimUserID]
	if !ok {
		raw = claims["sub"]
	}
	id, err := claimInt(raw)
	if err != nil || id <= 0 {
		return caller, fmt.Errorf("%w: bad user id %v", errNoCaller, raw)
	}
	caller.UserID = id

	if name, ok := claims[ClaimName].(string); ok {
		caller.DisplayName = name
	}

	switch caps := claims[ClaimCapabilities].(type) {
	case []interface{}:
		for _, c := range caps {
			if s, ok := c.(string); ok {
				caller.Capabilities = append(caller.Capabilities, replacefiles.Capability(s))
			}
		}
	case []string:
		for _, s := range caps {
			caller.Capabilities = append(caller.Capabilities, replacefiles.Capability(s))
		}
	}
	return caller, nil
}

func claimInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported claim type %T", v)
	}
}
