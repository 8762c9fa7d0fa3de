package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/pitabwire/util"
)

const (
	bearerScheme     = "Bearer"
	bearerTokenParts = 2
)

// TokenAuthenticator validates a bearer token and returns a context that
// carries its claims.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (context.Context, error)
}

type TokenAuthenticatorFunc func(ctx context.Context, token string) (context.Context, error)

func (f TokenAuthenticatorFunc) Authenticate(ctx context.Context, token string) (context.Context, error) {
	return f(ctx, token)
}

// AuthenticationMiddleware rejects requests without a valid bearer token.
// Paths in public are served without authentication.
func AuthenticationMiddleware(next http.Handler, authenticator TokenAuthenticator, public ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, path := range public {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
		}

		ctx := r.Context()
		logger := util.Log(ctx).WithField("path", r.URL.Path)

		authorizationHeader := r.Header.Get("Authorization")
		if authorizationHeader == "" || !strings.HasPrefix(authorizationHeader, bearerScheme+" ") {
			logger.Debug("AuthenticationMiddleware -- could not authenticate missing token")
			http.Error(w, "an authorization header is required", http.StatusUnauthorized)
			return
		}

		extractedJwtToken := strings.Split(authorizationHeader, " ")
		if len(extractedJwtToken) != bearerTokenParts {
			logger.Debug("AuthenticationMiddleware -- token format is not valid")
			http.Error(w, "malformed authorization header supplied", http.StatusUnauthorized)
			return
		}

		authCtx, err := authenticator.Authenticate(ctx, strings.TrimSpace(extractedJwtToken[1]))
		if err != nil {
			logger.WithError(err).Info("AuthenticationMiddleware -- could not authenticate token")
			http.Error(w, "authorization header is invalid", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(authCtx))
	})
}
