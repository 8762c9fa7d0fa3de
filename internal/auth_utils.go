package internal

import (
	"context"
	"errors"

	"github.com/pitabwire/frame/security"
)

var ErrInvalidClaims = errors.New("invalid authentication claims")

// AuthSubject extracts the subject from validated authentication claims.
// The boolean is false when the request carries no claims at all.
func AuthSubject(ctx context.Context) (string, bool, error) {
	authClaims := security.ClaimsFromContext(ctx)
	if authClaims == nil {
		return "", false, nil
	}

	subject, err := authClaims.GetSubject()
	if err != nil || subject == "" {
		return "", true, ErrInvalidClaims
	}

	return subject, true, nil
}
