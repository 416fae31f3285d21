package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterWindow(t *testing.T) {
	limiter := NewRateLimiter(2, 50*time.Millisecond)

	if !limiter.Allow("ip") || !limiter.Allow("ip") {
		t.Fatal("first two requests should pass")
	}
	if limiter.Allow("ip") {
		t.Error("third request inside the window should be limited")
	}
	if !limiter.Allow("other-ip") {
		t.Error("limits are per key")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("ip") {
		t.Error("request after the window should pass")
	}
}

func testContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func TestSearchPairsRejectsShortQuery(t *testing.T) {
	s := &Server{}
	c, w := testContext(http.MethodGet, "/api/pairs/search?q=a")

	s.handleSearchPairs(c)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["code"] != "INVALID_QUERY" {
		t.Errorf("code = %q", body["code"])
	}
}

func TestPairsUnknownCategoryRejected(t *testing.T) {
	s := &Server{}
	c, w := testContext(http.MethodGet, "/api/pairs/category/bonds")
	c.Params = gin.Params{{Key: "category", Value: "bonds"}}

	s.handlePairsByCategory(c)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	s := &Server{}
	c, w := testContext(http.MethodGet, "/ws")

	s.handleWebSocket(c)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{auth.ErrEmailTaken, http.StatusConflict},
		{auth.ErrWeakPassword, http.StatusBadRequest},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrTokenExpired, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		c, w := testContext(http.MethodPost, "/api/auth/login")
		authError(c, tt.err)
		if w.Code != tt.want {
			t.Errorf("authError(%v) status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestHandlersRejectMissingIdentity(t *testing.T) {
	// Auth middleware always sets the user id; a missing one is a
	// programming error surfaced as 401, not a panic.
	s := &Server{}
	c, w := testContext(http.MethodGet, "/api/strategies")

	s.handleListStrategies(c)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
