package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skshohagmiah/ledgerdb/pkg/core"
	"github.com/skshohagmiah/ledgerdb/pkg/metrics"
	"github.com/skshohagmiah/ledgerdb/pkg/packet"
	"github.com/skshohagmiah/ledgerdb/pkg/storage"
	"github.com/skshohagmiah/ledgerdb/pkg/types"
)

// Largest body accepted by POST /blobs
const maxBlobBody = packet.BlobSize

// Server is the HTTP server for ledgerdb
type Server struct {
	bt   *core.Blocktree
	addr string
	srv  *http.Server
}

// NewServer creates a new HTTP server
func NewServer(bt *core.Blocktree, addr string) *Server {
	s := &Server{
		bt:   bt,
		addr: addr,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Ledger API
	mux.Handle("/slots", s.instrumentedHandler(s.handleListSlots, "/slots"))
	mux.Handle("/slots/", s.instrumentedHandler(s.handleSlot, "/slots/:slot"))
	mux.Handle("/blobs", s.instrumentedHandler(s.handleBlobs, "/blobs"))
	mux.Handle("/recover", s.instrumentedHandler(s.handleRecoverAll, "/recover"))
	mux.Handle("/validate", s.instrumentedHandler(s.handleValidate, "/validate"))

	// Observability
	mux.Handle("/metrics", promhttp.Handler())

	// Health checks
	mux.Handle("/health", s.instrumentedHandler(s.handleHealth, "/health"))
	mux.Handle("/health/ready", s.instrumentedHandler(s.handleHealthReady, "/health/ready"))
	mux.Handle("/health/live", s.instrumentedHandler(s.handleHealthLive, "/health/live"))

	return s.AuthMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	slog.Info("Server starting", "addr", s.addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleListSlots lists slot metas. Query: from, limit.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var from uint64
	if v := r.URL.Query().Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = n
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	result, err := s.bt.ListSlotMetas(from, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSlot serves everything under /slots/{slot}:
//
//	GET  /slots/{slot}
//	GET  /slots/{slot}/blobs
//	GET  /slots/{slot}/blobs/{index}
//	GET  /slots/{slot}/sets/{set}
//	GET  /slots/{slot}/sets/{set}/coding/{index}
//	POST /slots/{slot}/sets/{set}/recover
func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/slots/"), "/"), "/")

	// Every even segment is a number
	nums := make([]uint64, 0, 3)
	for i := 0; i < len(parts); i += 2 {
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid path segment %q", parts[i]), http.StatusBadRequest)
			return
		}
		nums = append(nums, n)
	}
	slot := nums[0]

	switch {
	case len(parts) == 1:
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		info, err := s.bt.SlotInfo(slot)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)

	case len(parts) == 2 && parts[1] == "blobs":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		blobs, err := s.bt.SlotBlobs(slot)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]blobInfo, 0, len(blobs))
		for _, b := range blobs {
			out = append(out, describeBlob(b))
		}
		writeJSON(w, http.StatusOK, out)

	case len(parts) == 3 && parts[1] == "blobs":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		blob, err := s.bt.GetDataBlob(slot, nums[1])
		if err != nil {
			writeError(w, err)
			return
		}
		writeBlob(w, blob)

	case len(parts) == 3 && parts[1] == "sets":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		info, err := s.bt.ErasureSet(slot, nums[1])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)

	case len(parts) == 4 && parts[1] == "sets" && parts[3] == "recover":
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		result, err := s.bt.RecoverErasureSet(slot, nums[1])
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 5 && parts[1] == "sets" && parts[3] == "coding":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		blob, err := s.bt.GetCodingBlob(slot, nums[1], nums[2])
		if err != nil {
			writeError(w, err)
			return
		}
		writeBlob(w, blob)

	default:
		http.NotFound(w, r)
	}
}

// handleBlobs accepts one blob in wire format. The coding flag decides
// whether it is stored as data or coding.
func (s *Server) handleBlobs(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBlobBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBlobBody {
		http.Error(w, "blob too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) < packet.BlobHeaderSize {
		http.Error(w, "blob shorter than header", http.StatusBadRequest)
		return
	}

	blob := packet.NewBlob(body)
	if blob.IsCoding() {
		err = s.bt.InsertCodingBlob(blob)
	} else {
		err = s.bt.InsertDataBlobs([]*packet.Blob{blob})
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, describeBlob(blob))
}

// handleRecoverAll runs one recovery pass over every recoverable set
func (s *Server) handleRecoverAll(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	results, err := s.bt.RecoverAll()
	resp := map[string]interface{}{
		"recovered": results,
	}
	if err != nil {
		resp["error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleValidate reports slot meta anomalies
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	anomalies, err := s.bt.Validate()
	if err != nil {
		writeError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []types.Anomaly{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"anomalies": anomalies})
}

// blobInfo is the JSON view of a blob header
type blobInfo struct {
	Slot     uint64 `json:"slot"`
	Parent   uint64 `json:"parent"`
	Index    uint64 `json:"index"`
	Coding   bool   `json:"coding"`
	Last     bool   `json:"last_in_slot"`
	Size     int    `json:"size"`
	DataSize int    `json:"data_size"`
}

func describeBlob(b *packet.Blob) blobInfo {
	return blobInfo{
		Slot:     b.Slot(),
		Parent:   b.Parent(),
		Index:    b.Index(),
		Coding:   b.IsCoding(),
		Last:     b.IsLastInSlot(),
		Size:     b.Size(),
		DataSize: b.DataSize(),
	}
}

func writeBlob(w http.ResponseWriter, b *packet.Blob) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(b.Bytes())))
	w.Write(b.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors to status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInvalidBlob):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotRecoverable):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// instrumentedHandler wraps a handler with request logging and metrics
func (s *Server) instrumentedHandler(handler http.HandlerFunc, path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Generate request ID
		requestID := generateRequestID()
		r.Header.Set("X-Request-ID", requestID)
		w.Header().Set("X-Request-ID", requestID)

		// Use a response writer that captures the status code
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		slog.Debug("Request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		handler.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		statusStr := strconv.Itoa(wrapped.status)

		slog.Info("Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", duration*1000,
		)

		metrics.HttpRequestsTotal.WithLabelValues(r.Method, path, statusStr).Inc()
		metrics.HttpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Health check handlers

// handleHealth returns detailed health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"backend":   s.bt.Config.Backend,
	}

	if list, err := s.bt.ListSlotMetas(0, 1); err == nil {
		health["has_slots"] = len(list.Slots) > 0
	}

	writeJSON(w, http.StatusOK, health)
}

// handleHealthReady checks if the store answers reads
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.bt.ListSlotMetas(0, 1); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready","reason":"store unavailable"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ready"}`))
}

// handleHealthLive checks if the service is alive
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"alive"}`))
}
