package middleware

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name        string
		authHeader  string
		expectedKey string
		expectedErr error
	}{
		{
			name:        "valid bearer token",
			authHeader:  "Bearer eyJhbGciOiJIUzI1NiJ9.e30.sig",
			expectedKey: "eyJhbGciOiJIUzI1NiJ9.e30.sig",
		},
		{
			name:        "empty header",
			authHeader:  "",
			expectedErr: ErrMissingAuthorization,
		},
		{
			name:        "missing Bearer prefix",
			authHeader:  "eyJhbGciOiJIUzI1NiJ9.e30.sig",
			expectedErr: ErrBearerRequired,
		},
		{
			name:        "Bearer with lowercase",
			authHeader:  "bearer token",
			expectedErr: ErrBearerRequired,
		},
		{
			name:        "Bearer without space",
			authHeader:  "Bearertoken",
			expectedErr: ErrBearerRequired,
		},
		{
			name:        "Bearer with empty key",
			authHeader:  "Bearer ",
			expectedErr: ErrEmptyToken,
		},
		{
			name:        "Bearer with only spaces",
			authHeader:  "Bearer    ",
			expectedErr: ErrEmptyToken,
		},
		{
			name:        "surrounding spaces are trimmed",
			authHeader:  "Bearer  token ",
			expectedKey: "token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ExtractBearerToken(tt.authHeader)
			if tt.expectedErr != nil {
				require.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, key)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedKey, key)
		})
	}
}

func TestExtractBearerTokenFromRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)

	_, err = ExtractBearerTokenFromRequest(req)
	require.ErrorIs(t, err, ErrMissingAuthorization)

	req.Header.Set("Authorization", "Bearer abc")
	token, err := ExtractBearerTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}
