package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"trading-platform/internal/logging"
)

func testCapitalClient(baseURL string) *CapitalClient {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	c := NewCapitalClient("key", "id", "pw", true, logger)
	c.baseURL = baseURL
	return c
}

func TestCapitalAuthenticateStoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("CST", "cst-token")
		w.Header().Set("X-SECURITY-TOKEN", "sec-token")
	}))
	defer srv.Close()

	c := testCapitalClient(srv.URL)
	if err := c.authenticate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.ensureSession(context.Background()); err != nil {
		t.Fatal("session should already be established")
	}
}

func TestCapitalAuthenticateMissingTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := testCapitalClient(srv.URL)
	if err := c.authenticate(context.Background()); err == nil {
		t.Fatal("session response without tokens must fail")
	}
}

func TestCapitalConcurrentSessionAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("CST", "cst-token")
		w.Header().Set("X-SECURITY-TOKEN", "sec-token")
	}))
	defer srv.Close()

	c := testCapitalClient(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.ensureSession(context.Background()); err != nil {
				t.Error(err)
			}
			c.clearSession()
		}()
	}
	wg.Wait()
}
