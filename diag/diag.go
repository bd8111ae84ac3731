// Package diag exposes an optional HTTP introspection endpoint over a
// running writer: the current tick, index occupancy, and delayed-list
// depth, for operators and integration tests to poll without touching
// the shadow file directly.
package diag

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hdfgroup/vfdswmr/logger"
	"github.com/hdfgroup/vfdswmr/storage/pools"
)

// StatsProvider is the subset of *shadow.Writer the diagnostics endpoint
// needs. shadow.Writer satisfies this interface via its Tick, IndexLen,
// IndexCap and DelayedListLen methods; cmd/vfdswmrd adapts a
// *shadow.Reader to it, reporting only the tick.
type StatsProvider interface {
	Tick() uint64
	IndexLen() int
	IndexCap() int
	DelayedListLen() int
}

// Stats is the JSON body returned by the stats route.
type Stats struct {
	RequestID        string `json:"request_id"`
	Tick             uint64 `json:"tick"`
	IndexEntries     int    `json:"index_entries"`
	IndexCapacity    int    `json:"index_capacity"`
	DelayedListDepth int    `json:"delayed_list_depth"`
}

// Server is the optional diagnostics HTTP server. It is entirely
// separate from the VFD SWMR protocol's own correctness: disabling it
// (by leaving Config.DiagAddr empty, see package config) changes
// nothing about tick processing.
type Server struct {
	http *http.Server
}

// NewServer builds a diagnostics server bound to addr, serving stats for
// provider at GET /stats.
func NewServer(addr string, provider StatsProvider) *Server {
	router := mux.NewRouter()
	router.HandleFunc("/stats", statsHandler(provider)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)

	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      requestIDMiddleware(router),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
			ErrorLog:     logger.SetHTTPServerErrorLog(),
		},
	}
}

// Start begins serving in the background. Listen errors other than a
// clean Shutdown are logged, not returned, since the diagnostics server
// is never allowed to take the protocol down with it.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("diagnostics server: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type requestIDKey struct{}

// requestIDMiddleware stamps every request with a UUID, mirroring the
// teacher's use of uuid.New().String() for entity identifiers — applied
// here to requests instead, so every stats response can be correlated
// with a server-side log line.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func statsHandler(provider StatsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := Stats{
			RequestID:        requestIDFromContext(r.Context()),
			Tick:             provider.Tick(),
			IndexEntries:     provider.IndexLen(),
			IndexCapacity:    provider.IndexCap(),
			DelayedListDepth: provider.DelayedListLen(),
		}
		respondJSON(w, http.StatusOK, stats)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondJSON writes payload as a JSON response using a pooled encoder,
// matching the teacher's encoder-pooling pattern for response bodies.
func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	je := pools.GetJSONEncoder()
	defer pools.PutJSONEncoder(je)

	if err := je.Enc.Encode(payload); err != nil {
		logger.Error("diagnostics: encode response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(je.Buf.Bytes())
}
