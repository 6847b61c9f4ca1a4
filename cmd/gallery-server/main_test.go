package main

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/gallery-pager/internal/testutil"
	"github.com/Sternrassler/gallery-pager/pkg/decode"
	"github.com/Sternrassler/gallery-pager/pkg/logging"
	"github.com/Sternrassler/gallery-pager/pkg/pagination"
	"github.com/Sternrassler/gallery-pager/pkg/store"
)

func testConfig(t *testing.T) config {
	t.Helper()
	return config{
		Port:          "0",
		DBPath:        filepath.Join(t.TempDir(), "gallery.db"),
		CacheTTL:      time.Minute,
		DecodeTimeout: 5 * time.Second,
		LogLevel:      logging.LevelInfo,
	}
}

// newSQLiteServer builds a server over a fresh SQLite store holding n PNGs
// whose width equals their id.
func newSQLiteServer(t *testing.T, n int) *server {
	t.Helper()

	srv, cleanup, err := buildServer(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	t.Cleanup(cleanup)

	for i := 1; i <= n; i++ {
		if _, err := srv.store.Insert(context.Background(), store.GalleryItem{Image: testutil.EncodedPNG(i, 2)}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	return srv
}

func do(t *testing.T, handler http.Handler, method, target string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Result()
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	srv := newSQLiteServer(t, 0)
	handler := srv.routes()

	t.Run("ready", func(t *testing.T) {
		resp := do(t, handler, "GET", "/ready", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("not_ready_store_closed", func(t *testing.T) {
		srv.store.Close()

		resp := do(t, handler, "GET", "/ready", nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestPageEndpoint(t *testing.T) {
	srv := newSQLiteServer(t, 25)
	handler := srv.routes()

	tests := []struct {
		name     string
		target   string
		wantIDs  []int64
		wantPrev *int
		wantNext *int
	}{
		{name: "first page", target: "/gallery/page", wantIDs: idRange(25, 6), wantPrev: nil, wantNext: intPtr(1)},
		{name: "second page", target: "/gallery/page?key=1", wantIDs: idRange(5, 1), wantPrev: intPtr(0), wantNext: intPtr(2)},
		{name: "past the end", target: "/gallery/page?key=2", wantIDs: nil, wantPrev: intPtr(1), wantNext: nil},
		{name: "small size", target: "/gallery/page?key=3&size=5", wantIDs: nil, wantPrev: intPtr(2), wantNext: nil},
		{name: "small size first page", target: "/gallery/page?size=3", wantIDs: idRange(25, 23), wantPrev: nil, wantNext: intPtr(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, handler, "GET", tt.target, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}

			var page pageJSON
			decodeBody(t, resp, &page)

			if len(page.Items) != len(tt.wantIDs) {
				t.Fatalf("len(items) = %d, want %d", len(page.Items), len(tt.wantIDs))
			}
			for i, item := range page.Items {
				if item.ID != tt.wantIDs[i] {
					t.Errorf("items[%d].id = %d, want %d", i, item.ID, tt.wantIDs[i])
				}
				if item.Width != int(item.ID) || item.Height != 2 {
					t.Errorf("items[%d] size = %dx%d, want %dx2", i, item.Width, item.Height, item.ID)
				}
			}
			if !equalKey(page.PrevKey, tt.wantPrev) {
				t.Errorf("prev_key = %v, want %v", fmtKey(page.PrevKey), fmtKey(tt.wantPrev))
			}
			if !equalKey(page.NextKey, tt.wantNext) {
				t.Errorf("next_key = %v, want %v", fmtKey(page.NextKey), fmtKey(tt.wantNext))
			}
		})
	}
}

func TestPageEndpoint_BadRequest(t *testing.T) {
	srv := newSQLiteServer(t, 1)
	handler := srv.routes()

	targets := []string{
		"/gallery/page?key=abc",
		"/gallery/page?size=ten",
		"/gallery/page?key=-1",
		"/gallery/page?key=" + strconv.Itoa(int(pagination.MaxKey)+1),
		"/gallery/page?size=0",
		"/gallery/page?size=-4",
	}

	for _, target := range targets {
		resp := do(t, handler, "GET", target, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", target, resp.StatusCode)
		}
		var body errorJSON
		decodeBody(t, resp, &body)
		if body.Error == "" {
			t.Errorf("GET %s returned empty error", target)
		}
	}
}

func TestPageEndpoint_FailedOutcome(t *testing.T) {
	tests := []struct {
		name    string
		fetcher pagination.Fetcher
		decoder pagination.Decoder
	}{
		{
			name: "fetch failure",
			fetcher: pagination.FetcherFunc(func(ctx context.Context, limit, offset int) ([]pagination.RawRecord, error) {
				return nil, errors.New("backend down")
			}),
			decoder: decode.NewBase64Decoder(),
		},
		{
			name: "decode failure",
			fetcher: pagination.FetcherFunc(func(ctx context.Context, limit, offset int) ([]pagination.RawRecord, error) {
				return []pagination.RawRecord{{ID: 1, Image: testutil.EncodedPNG(1, 1)}, {ID: 2, Image: "garbage"}}, nil
			}),
			decoder: decode.NewBase64Decoder(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := &server{
				loader:  pagination.NewLoader(tt.fetcher, tt.decoder, pagination.DefaultConfig()),
				decoder: decode.NewBase64Decoder(),
				source:  "test",
				logger:  logging.NewLogger("gallery-server"),
			}

			resp := do(t, srv.routes(), "GET", "/gallery/page", nil)
			if resp.StatusCode != http.StatusBadGateway {
				t.Errorf("status = %d, want 502", resp.StatusCode)
			}
			var body errorJSON
			decodeBody(t, resp, &body)
			if body.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestPageEndpoint_RemoteSource(t *testing.T) {
	mock := testutil.NewMockGallery(testutil.GalleryRecords(3))
	defer mock.Close()

	cfg := testConfig(t)
	cfg.RemoteURL = mock.URL()
	srv, cleanup, err := buildServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	defer cleanup()

	if srv.source != "remote" || srv.store != nil {
		t.Fatalf("source = %q, store = %v; want remote source without store", srv.source, srv.store)
	}

	resp := do(t, srv.routes(), "GET", "/gallery/page?size=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var page pageJSON
	decodeBody(t, resp, &page)
	if len(page.Items) != 2 || page.Items[0].ID != 3 || page.Items[1].ID != 2 {
		t.Errorf("items = %+v, want ids [3 2]", page.Items)
	}

	limit, offset := mock.LastWindow()
	if limit != 2 || offset != 0 {
		t.Errorf("remote saw limit=%d offset=%d, want 2/0", limit, offset)
	}

	itemResp := do(t, srv.routes(), "POST", "/gallery/items", strings.NewReader(`{"image":"x"}`))
	if itemResp.StatusCode != http.StatusNotImplemented {
		t.Errorf("POST /gallery/items status = %d, want 501", itemResp.StatusCode)
	}
}

func TestRefreshEndpoints(t *testing.T) {
	srv := newSQLiteServer(t, 0)
	handler := srv.routes()

	var key map[string]int
	decodeBody(t, do(t, handler, "GET", "/gallery/refresh-key", nil), &key)
	if key["key"] != 0 {
		t.Errorf("refresh key = %d, want 0", key["key"])
	}

	resp := do(t, handler, "POST", "/gallery/refresh", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /gallery/refresh status = %d, want 200", resp.StatusCode)
	}
	var refreshed map[string]int
	decodeBody(t, resp, &refreshed)
	if refreshed["key"] != 0 || refreshed["invalidated"] != 0 {
		t.Errorf("refresh = %v, want key 0 and nothing invalidated", refreshed)
	}
}

func TestCreateItemEndpoint(t *testing.T) {
	srv := newSQLiteServer(t, 0)
	handler := srv.routes()

	resp := do(t, handler, "POST", "/gallery/items",
		strings.NewReader(`{"image":"data:image/png;base64,`+testutil.EncodedPNG(7, 3)+`","prompt":"a lighthouse"}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created itemJSON
	decodeBody(t, resp, &created)
	if created.Width != 7 || created.Height != 3 {
		t.Errorf("created = %+v, want 7x3", created)
	}

	var page pageJSON
	decodeBody(t, do(t, handler, "GET", "/gallery/page", nil), &page)
	if len(page.Items) != 1 || page.Items[0].ID != created.ID {
		t.Errorf("page items = %+v, want the created item", page.Items)
	}

	for _, body := range []string{`not json`, `{"image":""}`, `{"image":"aGVsbG8="}`} {
		resp := do(t, handler, "POST", "/gallery/items", strings.NewReader(body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestRequestID(t *testing.T) {
	srv := newSQLiteServer(t, 0)
	handler := srv.routes()

	resp := do(t, handler, "GET", "/health", nil)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("expected generated request id")
	}

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if got := w.Result().Header.Get(requestIDHeader); got != "req-123" {
		t.Errorf("request id = %q, want req-123", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newSQLiteServer(t, 1)
	handler := srv.routes()

	do(t, handler, "GET", "/gallery/page", nil)

	resp := do(t, handler, "GET", "/metrics", nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "gallery_page_loads_total") {
		t.Error("metrics output missing gallery_page_loads_total")
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("DECODE_CONCURRENCY", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "9090" || cfg.CacheTTL != 2*time.Minute || cfg.DecodeConcurrency != 3 {
		t.Errorf("loadConfig() = %+v", cfg)
	}
	if cfg.LogLevel != logging.LevelDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.DecodeTimeout != 10*time.Second {
		t.Errorf("DecodeTimeout = %v, want 10s", cfg.DecodeTimeout)
	}

	t.Setenv("DECODE_TIMEOUT", "soon")
	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() expected error for invalid DECODE_TIMEOUT")
	}
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions("localhost:6379")
	if err != nil || opts.Addr != "localhost:6379" {
		t.Errorf("redisOptions(host:port) = %+v, %v", opts, err)
	}

	opts, err = redisOptions("redis://cache:6380/2")
	if err != nil {
		t.Fatalf("redisOptions(url) error = %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 {
		t.Errorf("redisOptions(url) = addr %q db %d", opts.Addr, opts.DB)
	}

	if _, err := redisOptions("redis://cache:6380/notanumber"); err == nil {
		t.Error("redisOptions() expected error for invalid db")
	}
}

func TestToPageJSON(t *testing.T) {
	page := &pagination.Page{
		Items: []pagination.DecodedItem{
			{ID: 4, Image: image.NewRGBA(image.Rect(0, 0, 3, 2))},
		},
		PrevKey: pagination.Key(1),
	}

	got := toPageJSON(page)
	if len(got.Items) != 1 || got.Items[0] != (itemJSON{ID: 4, Width: 3, Height: 2}) {
		t.Errorf("items = %+v", got.Items)
	}
	if got.PrevKey == nil || *got.PrevKey != 1 {
		t.Errorf("prev_key = %v, want 1", fmtKey(got.PrevKey))
	}
	if got.NextKey != nil {
		t.Errorf("next_key = %v, want nil", *got.NextKey)
	}
}

func idRange(from, to int64) []int64 {
	var ids []int64
	for id := from; id >= to; id-- {
		ids = append(ids, id)
	}
	return ids
}

func intPtr(v int) *int { return &v }

func equalKey(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtKey(k *int) any {
	if k == nil {
		return "null"
	}
	return *k
}
