package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const testToken = "a-very-long-token-that-meets-minimum-length-requirements"

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		token       string
		expectError bool
		enabled     bool
	}{
		{name: "disabled", token: "", enabled: false},
		{name: "valid token", token: testToken, enabled: true},
		{name: "token too short", token: "short", expectError: true},
		{name: "token exactly minimum length", token: "123456789012345678901234567890123456", enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.token)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.enabled, a.Enabled())
		})
	}
}

func TestCheck(t *testing.T) {
	a, err := New(testToken)
	require.NoError(t, err)

	require.True(t, a.Check(testToken))
	require.False(t, a.Check(testToken+"x"))
	require.False(t, a.Check(""))

	disabled, err := New("")
	require.NoError(t, err)
	require.True(t, disabled.Check("anything"))
}

func TestGenerateToken(t *testing.T) {
	token := GenerateToken()
	require.Len(t, token, 64)
	require.NotEqual(t, token, GenerateToken())

	_, err := New(token)
	require.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	a, err := New(testToken)
	require.NoError(t, err)

	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "bearer header", header: "Bearer " + testToken, status: http.StatusNoContent},
		{name: "wrong bearer", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "query parameter", query: "?token=" + testToken, status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/status"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tt.status, rec.Code)
		})
	}
}
