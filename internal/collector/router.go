// Package collector implements an in-memory OpenPanel collector speaking
// the /track wire contract, with admin endpoints for inspecting received
// events and injecting failures.
package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/randalmurphal/openpanel/pkg/openpanel"
)

// maxBody bounds a /track request body.
const maxBody = 1 << 20

// Handler holds all API handler state.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

// NewHandler creates a handler over s. A nil logger discards request logs.
func NewHandler(s *Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{store: s, logger: logger}
}

// NewRouter returns a chi router serving the collector.
func NewRouter(s *Store, logger *slog.Logger) *chi.Mux {
	h := NewHandler(s, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.logRequests)
	h.Routes(r)
	return r
}

// Routes mounts the collector API and admin extras.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.faultInjection)
		r.Post("/track", h.Track)
	})

	r.Get("/admin/events", h.AdminListEvents)
	r.Post("/admin/reset", h.AdminReset)
	r.Post("/admin/fault", h.AdminInjectFault)
}

// Track handles POST /track.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("openpanel-client-id") == "" {
		writeError(w, http.StatusUnauthorized, "missing openpanel-client-id header")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	ev, err := openpanel.UnmarshalEvent(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var env struct {
		Payload json.RawMessage `json:"payload"`
	}
	_ = json.Unmarshal(data, &env)

	rec := Received{
		ID:         uuid.NewString(),
		Type:       string(ev.Type()),
		Payload:    env.Payload,
		Headers:    flattenHeaders(r.Header),
		ReceivedAt: time.Now().UTC(),
		Event:      ev,
	}
	h.store.Add(rec)

	writeJSON(w, http.StatusOK, map[string]any{"id": rec.ID})
}

// AdminListEvents handles GET /admin/events?type=.
func (h *Handler) AdminListEvents(w http.ResponseWriter, r *http.Request) {
	events := h.store.Events(r.URL.Query().Get("type"))
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// AdminReset handles POST /admin/reset.
func (h *Handler) AdminReset(w http.ResponseWriter, _ *http.Request) {
	h.store.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// AdminInjectFault handles POST /admin/fault.
func (h *Handler) AdminInjectFault(w http.ResponseWriter, r *http.Request) {
	var f Fault
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, "invalid fault: "+err.Error())
		return
	}
	if !f.Disconnect && (f.StatusCode < 100 || f.StatusCode > 599) {
		writeError(w, http.StatusBadRequest, "status_code must be a valid HTTP status or disconnect must be set")
		return
	}
	h.store.InjectFault(f)
	writeJSON(w, http.StatusOK, f)
}

// faultInjection applies the next pending fault, if any.
func (h *Handler) faultInjection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := h.store.nextFault()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if f.Disconnect {
			if err := hangUp(w); err == nil {
				return
			}
			f.StatusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.StatusCode)
		if f.Body != "" {
			fmt.Fprint(w, f.Body)
		} else {
			fmt.Fprintf(w, `{"error":"injected fault","code":%d}`, f.StatusCode)
		}
	})
}

// hangUp closes the underlying connection without writing a response.
func hangUp(w http.ResponseWriter) error {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return errors.New("connection cannot be hijacked")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return err
	}
	return conn.Close()
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[http.CanonicalHeaderKey(k)] = h.Get(k)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": message,
		"code":  status,
	})
}
