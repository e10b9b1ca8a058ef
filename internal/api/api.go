// Package api implements the REST API server for sigstream.
//
// Routes:
//	GET  /api/v1/sessions   — Recorded session catalog
//	GET  /api/v1/transfers  — Transfer outcome history
//	GET  /api/v1/status     — Recorder, coordinator, and link state
//	POST /api/v1/record     — Start/stop a recording
//	POST /api/v1/transfer   — Start/stop/resend a transfer
//	GET  /api/v1/events     — WebSocket live event stream
//
// Framework: standard library net/http with method-pattern routing.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/meshcommons/sigstream/internal/capture"
	"github.com/meshcommons/sigstream/internal/gateway"
	"github.com/meshcommons/sigstream/internal/store"
	"github.com/meshcommons/sigstream/internal/transfer"
	"github.com/meshcommons/sigstream/internal/transport"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server holds handler dependencies.
type Server struct {
	db    *store.DB
	pipe  *capture.Pipeline
	coord *transfer.Coordinator
	link  transport.Link
	bus   *gateway.EventBus
	log   *zap.Logger
}

// NewRouter wires all /api/v1/* routes and returns a http.Handler.
func NewRouter(
	db *store.DB,
	pipe *capture.Pipeline,
	coord *transfer.Coordinator,
	link transport.Link,
	bus *gateway.EventBus,
	log *zap.Logger,
) http.Handler {
	s := &Server{db: db, pipe: pipe, coord: coord, link: link, bus: bus, log: log}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/transfers", s.listTransfers)
	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/record", s.record)
	mux.HandleFunc("POST /api/v1/transfer", s.transfer)
	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	return withLogging(log, mux)
}

// ── Catalog ───────────────────────────────────────────────────────────────

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sessions, err := s.db.ListSessions(limit)
	if err != nil {
		s.log.Error("api: list sessions", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) listTransfers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50, 1, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	transfers, err := s.db.ListTransfers(limit)
	if err != nil {
		s.log.Error("api: list transfers", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfers": transfers,
		"count":     len(transfers),
	})
}

// ── Status ────────────────────────────────────────────────────────────────

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"time":            time.Now().UTC().Format(time.RFC3339),
		"recording":       s.pipe.Active(),
		"dropped_batches": s.pipe.DroppedBatches(),
		"transfer":        s.coord.Progress(),
		"link":            s.link.State().String(),
		"subscribed":      s.link.Subscribed(),
		"subscribers":     s.bus.Len(),
	})
}

// ── Recording control ─────────────────────────────────────────────────────

type recordRequest struct {
	Action string `json:"action"` // "start" | "stop"
}

func (s *Server) record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case "start":
		path, err := s.pipe.StartRecording()
		if errors.Is(err, capture.ErrAlreadyRecording) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"status": transfer.StatusAlreadyRunning.String(),
			})
			return
		}
		if err != nil {
			s.log.Error("api: start recording", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"path": path})
	case "stop":
		err := s.pipe.StopRecording()
		if errors.Is(err, capture.ErrNotRecording) {
			http.Error(w, "no active recording", http.StatusConflict)
			return
		}
		if err != nil {
			// The session is stopped either way; report the storage error.
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"stopped": true,
				"error":   err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"stopped": true})
	default:
		http.Error(w, "action must be start or stop", http.StatusBadRequest)
	}
}

// ── Transfer control ──────────────────────────────────────────────────────

type transferRequest struct {
	Action string `json:"action"` // "start" | "stop" | "resend"
	Path   string `json:"path,omitempty"`
	Seq    uint16 `json:"seq,omitempty"`
}

// transfer feeds the same bounded command queue the radio control surface
// uses; outcomes arrive as transfer_status events, not in this response.
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var cmd transfer.Command
	switch req.Action {
	case "start":
		cmd = transfer.Command{Op: transfer.OpStart, Path: req.Path}
	case "stop":
		cmd = transfer.Command{Op: transfer.OpStop}
	case "resend":
		cmd = transfer.Command{Op: transfer.OpResend, Seq: req.Seq}
	default:
		http.Error(w, "action must be start, stop, or resend", http.StatusBadRequest)
		return
	}

	if !s.coord.Enqueue(cmd) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"queued": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
}

// ── WebSocket event stream ────────────────────────────────────────────────

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("api: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug("api: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// ── Middleware ────────────────────────────────────────────────────────────

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("api",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// ── helpers ───────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func queryInt(r *http.Request, key string, def, min, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be %d–%d", key, min, max)
	}
	return n, nil
}
