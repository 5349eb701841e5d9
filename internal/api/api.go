// Package api serves the visualizer's HTTP surface: health, capture stats,
// the latest analysis frame, the phase-lock switch, WebRTC stream
// signaling and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/jotoft/loopback-visualizer/internal/capture"
	"github.com/jotoft/loopback-visualizer/internal/engine"
	"github.com/jotoft/loopback-visualizer/internal/stream"
)

const msgpackContentType = "application/msgpack"

// Engine is the analysis surface the handlers read and steer.
type Engine interface {
	Latest() *engine.Frame
	SetPhaseLock(enabled bool)
	PhaseLock() bool
}

// Capture reports capture session status.
type Capture interface {
	Status() capture.Status
}

// Streams performs WebRTC signaling for frame streams.
type Streams interface {
	CreateStream(ctx context.Context) (string, string, error)
	SetAnswer(id, sdpAnswer string) error
	Delete(id string) bool
	Count() int
	ICEServers() []webrtc.ICEServer
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine  Engine
	capture Capture
	streams Streams
	logger  *zap.Logger
}

// NewHandlers creates handlers. streams may be nil, in which case the
// stream routes answer 503.
func NewHandlers(e Engine, c Capture, s Streams, logger *zap.Logger) *Handlers {
	return &Handlers{engine: e, capture: c, streams: s, logger: logger}
}

// Router builds the chi router with the standard middleware stack.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(Logging(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Get("/frame", h.Frame)
		r.Get("/phaselock", h.GetPhaseLock)
		r.Put("/phaselock", h.PutPhaseLock)
		r.Route("/streams", func(r chi.Router) {
			r.Post("/", h.CreateStream)
			r.Route("/{streamId}", func(r chi.Router) {
				r.Delete("/", h.DeleteStream)
				r.Post("/answer", h.PostAnswer)
			})
		})
	})
	return r
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Stats handles GET /v1/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Capture:   h.capture.Status(),
		PhaseLock: h.engine.PhaseLock(),
	}
	if h.streams != nil {
		resp.Streams = h.streams.Count()
	}
	if f := h.engine.Latest(); f != nil {
		resp.FrameSeq = f.Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// Frame handles GET /v1/frame. The frame is msgpack-encoded when the client
// accepts application/msgpack, JSON otherwise.
func (h *Handlers) Frame(w http.ResponseWriter, r *http.Request) {
	f := h.engine.Latest()
	if f == nil {
		writeError(w, http.StatusServiceUnavailable, "no frame analyzed yet")
		return
	}

	if !acceptsMsgpack(r.Header.Get("Accept")) {
		writeJSON(w, http.StatusOK, f)
		return
	}
	body, err := msgpack.Marshal(f)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode frame failed")
		return
	}
	w.Header().Set("Content-Type", msgpackContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func acceptsMsgpack(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mt == msgpackContentType || mt == "application/x-msgpack" {
			return true
		}
	}
	return false
}

// GetPhaseLock handles GET /v1/phaselock.
func (h *Handlers) GetPhaseLock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PhaseLockResponse{Enabled: h.engine.PhaseLock()})
}

// PutPhaseLock handles PUT /v1/phaselock.
func (h *Handlers) PutPhaseLock(w http.ResponseWriter, r *http.Request) {
	var req PhaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid request: enabled required")
		return
	}
	h.engine.SetPhaseLock(*req.Enabled)
	writeJSON(w, http.StatusOK, PhaseLockResponse{Enabled: *req.Enabled})
}

// CreateStream handles POST /v1/streams.
// Creates a WebRTC peer connection and returns the SDP offer.
func (h *Handlers) CreateStream(w http.ResponseWriter, r *http.Request) {
	if h.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	id, offer, err := h.streams.CreateStream(r.Context())
	if errors.Is(err, stream.ErrTooManyStreams) {
		h.logger.Warn("stream cap reached", zap.Int("current", h.streams.Count()))
		writeError(w, http.StatusServiceUnavailable, "max streams reached")
		return
	}
	if err != nil {
		h.logger.Error("create stream failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create stream failed")
		return
	}

	resp := CreateStreamResponse{StreamID: id, SdpOffer: offer, IceServers: []IceServer{}}
	for _, s := range h.streams.ICEServers() {
		resp.IceServers = append(resp.IceServers, IceServer{URLs: s.URLs, Username: s.Username})
	}
	writeJSON(w, http.StatusCreated, resp)
}

// PostAnswer handles POST /v1/streams/{streamId}/answer.
func (h *Handlers) PostAnswer(w http.ResponseWriter, r *http.Request) {
	if h.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	id := chi.URLParam(r, "streamId")

	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SdpAnswer == "" {
		writeError(w, http.StatusBadRequest, "invalid request: sdpAnswer required")
		return
	}

	err := h.streams.SetAnswer(id, req.SdpAnswer)
	if errors.Is(err, stream.ErrStreamNotFound) {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	if err != nil {
		h.logger.Warn("set answer failed", zap.String("stream", id), zap.Error(err))
		writeError(w, http.StatusBadRequest, "set answer failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteStream handles DELETE /v1/streams/{streamId}.
func (h *Handlers) DeleteStream(w http.ResponseWriter, r *http.Request) {
	if h.streams != nil {
		h.streams.Delete(chi.URLParam(r, "streamId"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
