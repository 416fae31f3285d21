package chart

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trading-platform/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func fakeEngine(t *testing.T, png []byte, placeholder bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		if placeholder {
			w.Header().Set("X-Chart-Placeholder", "true")
		}
		w.Write(png)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRendererReturnsPNG(t *testing.T) {
	png := bytes.Repeat([]byte{0x89}, minChartBytes+1)
	srv := fakeEngine(t, png, false)

	r := NewRenderer(srv.URL, "", testLogger())
	got, err := r.Render(context.Background(), RenderRequest{Symbol: "BTCUSD", Timeframe: "M15"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(png) {
		t.Errorf("expected %d bytes, got %d", len(png), len(got))
	}
}

func TestRendererRejectsPlaceholderHeader(t *testing.T) {
	png := bytes.Repeat([]byte{0x89}, minChartBytes+1)
	srv := fakeEngine(t, png, true)

	r := NewRenderer(srv.URL, "", testLogger())
	if _, err := r.Render(context.Background(), RenderRequest{}); !errors.Is(err, ErrPlaceholder) {
		t.Errorf("placeholder header should be rejected, got %v", err)
	}
}

func TestRendererRejectsTinyImage(t *testing.T) {
	srv := fakeEngine(t, []byte("not a chart"), false)

	r := NewRenderer(srv.URL, "", testLogger())
	if _, err := r.Render(context.Background(), RenderRequest{}); !errors.Is(err, ErrPlaceholder) {
		t.Errorf("tiny response should be treated as a placeholder, got %v", err)
	}
}

func TestRendererNoEngineNoSpawn(t *testing.T) {
	r := NewRenderer("http://127.0.0.1:1", "", testLogger())
	if _, err := r.Render(context.Background(), RenderRequest{}); err == nil {
		t.Error("unreachable engine without a spawn command should fail")
	}
}

func TestStoreLocalFallback(t *testing.T) {
	dir := t.TempDir()
	store := NewStore("", dir, testLogger())

	url, err := store.Save(context.Background(), "user-1", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("local save should return a file URL, got %s", url)
	}
	path := strings.TrimPrefix(url, "file://")
	if !strings.Contains(path, filepath.Join("user-1", "charts")) {
		t.Errorf("chart should land under the owner's prefix: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("chart file missing: %v", err)
	}
}

func TestStoreUpload(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	store := NewStore(srv.URL, t.TempDir(), testLogger())
	url, err := store.Save(context.Background(), "user-2", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, srv.URL) {
		t.Errorf("upload should return the object-store URL, got %s", url)
	}
	if !strings.HasPrefix(gotKey, "/user-2/charts/") || !strings.HasSuffix(gotKey, ".png") {
		t.Errorf("unexpected object key %s", gotKey)
	}
}

func TestStoreFallsBackWhenUploadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewStore(srv.URL, t.TempDir(), testLogger())
	url, err := store.Save(context.Background(), "user-3", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("failed upload should fall back to local disk, got %s", url)
	}
}
