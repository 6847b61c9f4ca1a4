// Package testutil provides testing utilities for the gallery pager.
package testutil

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/gallery-pager/pkg/pagination"
)

// MockGalleryResponse overrides the next responses of a MockGallery.
type MockGalleryResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockGallery is a configurable remote gallery server for testing.
// It serves GET /v1/gallery?limit=&offset= from an in-memory record list.
type MockGallery struct {
	server *httptest.Server
	mu     sync.RWMutex

	records   []pagination.RawRecord
	overrides []MockGalleryResponse

	// Tracking
	RequestCount int
	LastLimit    int
	LastOffset   int
	LastHeader   http.Header
}

// NewMockGallery creates a new mock gallery server holding records.
func NewMockGallery(records []pagination.RawRecord) *MockGallery {
	mock := &MockGallery{records: records}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockGallery) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGallery) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and queued responses.
func (m *MockGallery) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastLimit = 0
	m.LastOffset = 0
	m.LastHeader = nil
	m.overrides = nil
}

// SetRecords replaces the served records.
func (m *MockGallery) SetRecords(records []pagination.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// QueueResponse makes the next request answer with resp instead of records.
// Queued responses are consumed in order.
func (m *MockGallery) QueueResponse(resp MockGalleryResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = append(m.overrides, resp)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGallery) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// LastWindow returns the limit and offset of the most recent request.
func (m *MockGallery) LastWindow() (limit, offset int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastLimit, m.LastOffset
}

func (m *MockGallery) handle(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	m.mu.Lock()
	m.RequestCount++
	m.LastLimit = limit
	m.LastOffset = offset
	m.LastHeader = r.Header.Clone()
	var override *MockGalleryResponse
	if len(m.overrides) > 0 {
		override = &m.overrides[0]
		m.overrides = m.overrides[1:]
	}
	served := window(m.records, limit, offset)
	m.mu.Unlock()

	if override != nil {
		if override.Delay > 0 {
			select {
			case <-time.After(override.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range override.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(override.StatusCode)
		if override.Body != "" {
			w.Write([]byte(override.Body))
		}
		return
	}

	if r.URL.Path != "/v1/gallery" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(served)
}

func window(records []pagination.RawRecord, limit, offset int) []pagination.RawRecord {
	if limit < 0 || offset < 0 || offset >= len(records) {
		return []pagination.RawRecord{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockGalleryResponse {
	return MockGalleryResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a
// Retry-After of retryAfter seconds.
func NewRateLimitResponse(retryAfter int) MockGalleryResponse {
	return MockGalleryResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
			"Retry-After":  strconv.Itoa(retryAfter),
		},
	}
}

// EncodedPNG returns a base64 encoded w x h PNG.
func EncodedPNG(w, h int) string {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// GalleryRecords returns n records with descending ids n..1, each holding a
// PNG whose width equals its id.
func GalleryRecords(n int) []pagination.RawRecord {
	records := make([]pagination.RawRecord, 0, n)
	for id := n; id >= 1; id-- {
		records = append(records, pagination.RawRecord{
			ID:    int64(id),
			Image: EncodedPNG(id, 1),
		})
	}
	return records
}
