package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/handlers"
	"github.com/gillverbasiglo/genie-api-sub000/internal"
	"github.com/pitabwire/frame/security"
	"github.com/stretchr/testify/assert"
)

func TestAuthenticationMiddleware(t *testing.T) {
	authenticator := handlers.TokenAuthenticatorFunc(func(ctx context.Context, token string) (context.Context, error) {
		if token != "good-token" {
			return ctx, errors.New("signature invalid")
		}
		claims := &security.AuthenticationClaims{ContactID: "alice"}
		claims.Subject = "alice"
		return claims.ClaimsToContext(ctx), nil
	})

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _, _ = internal.AuthSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := handlers.AuthenticationMiddleware(next, authenticator, "/healthz")

	tests := []struct {
		name        string
		path        string
		header      string
		wantCode    int
		wantSubject string
	}{
		{name: "public path", path: "/healthz", wantCode: http.StatusNoContent},
		{name: "missing header", path: "/ws/alice", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/ws/alice", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "malformed", path: "/ws/alice", header: "Bearer a b", wantCode: http.StatusUnauthorized},
		{name: "invalid token", path: "/ws/alice", header: "Bearer bad-token", wantCode: http.StatusUnauthorized},
		{name: "valid token", path: "/ws/alice", header: "Bearer good-token", wantCode: http.StatusNoContent, wantSubject: "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantSubject, gotSubject)
		})
	}
}
