package middleware

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingAuthorization = errors.New("Authorization header is required")
	ErrBearerRequired       = errors.New("Authorization header must start with 'Bearer '")
	ErrEmptyToken           = errors.New("token is required")
)

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>" header.
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", ErrBearerRequired
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

// ExtractBearerTokenFromRequest reads the bearer token from the Authorization header of r.
func ExtractBearerTokenFromRequest(r *http.Request) (string, error) {
	return ExtractBearerToken(r.Header.Get("Authorization"))
}
