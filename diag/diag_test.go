package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

// stubProvider is a fixed-value StatsProvider for exercising the HTTP
// handlers directly, without standing up a real writer.
type stubProvider struct {
	tick             uint64
	indexLen         int
	indexCap         int
	delayedListDepth int
}

func (s stubProvider) Tick() uint64        { return s.tick }
func (s stubProvider) IndexLen() int       { return s.indexLen }
func (s stubProvider) IndexCap() int       { return s.indexCap }
func (s stubProvider) DelayedListLen() int { return s.delayedListDepth }

// newTestRouter builds the same route table NewServer wires up, without
// binding a real listener, so the handlers can be exercised with
// httptest.
func newTestRouter(provider StatsProvider) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/stats", statsHandler(provider)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)
	return requestIDMiddleware(router)
}

func TestStatsHandlerReturnsCurrentStats(t *testing.T) {
	provider := stubProvider{tick: 42, indexLen: 7, indexCap: 256, delayedListDepth: 3}
	router := newTestRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected application/json, got %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a non-empty X-Request-Id header")
	}

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if stats.Tick != 42 || stats.IndexEntries != 7 || stats.IndexCapacity != 256 || stats.DelayedListDepth != 3 {
		t.Fatalf("unexpected stats payload: %+v", stats)
	}
	if stats.RequestID == "" {
		t.Fatalf("expected a non-empty request ID in the response body")
	}
	if stats.RequestID != rec.Header().Get("X-Request-Id") {
		t.Fatalf("body request ID %q does not match header %q", stats.RequestID, rec.Header().Get("X-Request-Id"))
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	router := newTestRouter(stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestRequestIDDiffersAcrossRequests(t *testing.T) {
	router := newTestRouter(stubProvider{})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/stats", nil))

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/stats", nil))

	id1 := first.Header().Get("X-Request-Id")
	id2 := second.Header().Get("X-Request-Id")
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("expected distinct request IDs, got %q and %q", id1, id2)
	}
}
