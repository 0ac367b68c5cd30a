package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/fairway/internal/auth"
)

type stubAuthenticator struct {
	tokens map[string]auth.AuthContext
	err    error
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (auth.AuthContext, error) {
	if s.err != nil {
		return auth.AuthContext{}, s.err
	}
	ac, ok := s.tokens[token]
	if !ok {
		return auth.AuthContext{}, auth.ErrUnauthenticated
	}
	return ac, nil
}

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStub() stubAuthenticator {
	return stubAuthenticator{tokens: map[string]auth.AuthContext{
		"player-token": {PlayerID: 1, SessionID: 10, Role: "player"},
		"admin-token":  {PlayerID: 2, SessionID: 20, Role: "admin"},
	}}
}

func TestRequireAuthNoToken(t *testing.T) {
	handler := RequireAuth(newStub(), testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/api/entries", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body["error"] == "" {
		t.Errorf("body = %v, err = %v", body, err)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	handler := RequireAuth(newStub(), testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthWrongScheme(t *testing.T) {
	handler := RequireAuth(newStub(), testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic player-token")
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "player-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthStoreError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("database is locked")
	handler := RequireAuth(stub, testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer player-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthValidBearer(t *testing.T) {
	var gotAC auth.AuthContext
	handler := RequireAuth(newStub(), testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		gotAC = ac
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "bearer player-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotAC.PlayerID != 1 || gotAC.SessionID != 10 {
		t.Errorf("auth context = %+v", gotAC)
	}
}

func TestRequireAuthCookie(t *testing.T) {
	handler := RequireAuth(newStub(), testLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookieName, Value: "player-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRequireAdmin(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAuth(newStub(), testLogger)(RequireAdmin(inner))

	for token, want := range map[string]int{"admin-token": http.StatusOK, "player-token": http.StatusForbidden} {
		req := httptest.NewRequest("GET", "/api/admin/verifications", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%s: status = %d, want %d", token, rec.Code, want)
		}
	}
}
