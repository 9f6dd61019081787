package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestWSHandler_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list", nil, "https://evil.example", true},
		{"wildcard", []string{"*"}, "https://evil.example", true},
		{"listed", []string{" https://app.example ", "https://m.example"}, "https://m.example", true},
		{"unlisted", []string{"https://app.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://app.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWSHandler(nil, tt.allowed)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(req); got != tt.want {
				t.Fatalf("checkOrigin = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWSHandler_RequiresAuth(t *testing.T) {
	h := NewWSHandler(nil, nil)
	rr := httptest.NewRecorder()
	h.ServeWS(rr, newRequest(http.MethodGet, "/ws", "", uuid.Nil))
	assertErrorResponse(t, rr, http.StatusUnauthorized, "Authentication required")
}

func TestWSHandler_RejectsOrigin(t *testing.T) {
	h := NewWSHandler(nil, []string{"https://app.example"})
	req := newRequest(http.MethodGet, "/ws", "", uuid.New())
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	h.ServeWS(rr, req)
	assertErrorResponse(t, rr, http.StatusForbidden, "Origin not allowed")
}
