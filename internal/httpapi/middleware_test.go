package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_Recovery(t *testing.T) {
	m := NewMiddleware(NewTokens("secret"), false)

	handler := m.Logging(m.Recovery(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/panic", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Expected a JSON error body: %v", err)
	}
	if body.Code != http.StatusInternalServerError {
		t.Errorf("Expected code 500 in body, got %+v", body)
	}
}

func TestMiddleware_AuthRequired(t *testing.T) {
	tokens := NewTokens("secret")
	m := NewMiddleware(tokens, false)

	var got Identity
	handler := m.AuthRequired(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	token, _, err := tokens.Issue("raw-client", false)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("missing_token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", rr.Code)
		}
		var body ErrorResponse
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil || body.Code != http.StatusUnauthorized {
			t.Errorf("Expected an ErrorResponse with code 401, got %+v (%v)", body, err)
		}
	})

	t.Run("token_without_bearer_prefix", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", token)

		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusOK || got.ClientID != "raw-client" {
			t.Errorf("Expected raw-client to pass, got %d (%+v)", rr.Code, got)
		}
	})

	t.Run("lowercase_bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "bearer "+token)

		rr := httptest.NewRecorder()
		handler(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", rr.Code)
		}
	})

	t.Run("query_token_on_get", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/v1/stream?access_token="+token, nil))
		if rr.Code != http.StatusOK || got.ClientID != "raw-client" {
			t.Errorf("Expected the query token to pass, got %d (%+v)", rr.Code, got)
		}

		rr = httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodPost, "/api/v1/messages?access_token="+token, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Expected the query token to be ignored on POST, got %d", rr.Code)
		}
	})

	t.Run("no_auth_mode", func(t *testing.T) {
		anonymous := NewMiddleware(tokens, true).AuthRequired(func(w http.ResponseWriter, r *http.Request) {
			got, _ = IdentityFrom(r.Context())
		})
		anonymous(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		if !got.Anonymous || got.Admin || got.ClientID != anonymousClientID {
			t.Errorf("Expected an anonymous non-admin identity, got %+v", got)
		}
	})
}

func TestMiddleware_AdminRequired(t *testing.T) {
	tokens := NewTokens("secret")
	called := false
	handler := NewMiddleware(tokens, true).AdminRequired(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	user, _, _ := tokens.Issue("mixer", false)
	admin, _, _ := tokens.Issue("ops", true)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no_token_even_in_no_auth_mode", "", http.StatusUnauthorized},
		{"not_admin", user, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)
			if rr.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, rr.Code)
			}
			if called != (tt.status == http.StatusOK) {
				t.Errorf("Handler called = %t for status %d", called, tt.status)
			}
		})
	}
}

func TestMiddleware_LoggingRequestID(t *testing.T) {
	m := NewMiddleware(NewTokens("secret"), false)
	handler := m.Logging(func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rr = httptest.NewRecorder()
	handler(rr, req)
	if id := rr.Header().Get(RequestIDHeader); id != "req-42" {
		t.Errorf("Expected the caller's request ID to be kept, got %q", id)
	}
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}

	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)
	rec.Flush()

	if rec.status != http.StatusTeapot {
		t.Errorf("Expected the first status to be kept, got %d", rec.status)
	}
	if !rr.Flushed {
		t.Error("Expected Flush to reach the underlying writer")
	}
	if _, _, err := rec.Hijack(); err == nil {
		t.Error("Expected hijack to fail on a recorder")
	}
}
