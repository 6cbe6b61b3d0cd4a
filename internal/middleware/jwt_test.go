package myMiddleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubValidator map[string]int64

func (s stubValidator) ValidateToken(token string) (int64, string, error) {
	id, ok := s[token]
	if !ok {
		return 0, "", errors.New("bad token")
	}
	return id, "user", nil
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, int64) {
	t.Helper()
	var seen int64
	h := NewAuthMiddleware(stubValidator{"good": 7}).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer good")

	rec, id := serve(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), id)
}

func TestQueryTokenFallback(t *testing.T) {
	rec, id := serve(t, httptest.NewRequest(http.MethodGet, "/ws?token=good", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(7), id)
}

func TestRejectsMissingAndInvalidTokens(t *testing.T) {
	rec, _ := serve(t, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(t, httptest.NewRequest(http.MethodGet, "/ws?token=forged", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
