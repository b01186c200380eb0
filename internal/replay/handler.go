package replay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"route-replay/internal/platform/metrics"
	"route-replay/internal/route"
	"route-replay/internal/segment"
)

// maxWait bounds the ?wait= parameter of GetSegment.
const maxWait = time.Minute

// Handler exposes replay HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable the /metrics endpoint (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/routes/{route}", func(r chi.Router) {
		r.Get("/manifest", h.GetManifest)
		r.Get("/playlist.m3u8", h.GetPlaylist)
		r.Delete("/", h.CloseRoute)
		r.Route("/segments/{segment}", func(r chi.Router) {
			r.Get("/", h.GetSegment)
			r.Post("/load", h.LoadSegment)
			r.Get("/qcamera.ts", h.GetQCamera)
		})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler(func() {
			h.metrics.SetActiveSegments(h.svc.ActiveSegments())
		}))
	}
}

type manifestResponse struct {
	Route    string          `json:"route"`
	Source   string          `json:"source"`
	Segments *route.Manifest `json:"segments"`
	Loaded   []int           `json:"loaded_segments"`
}

// GetManifest handles GET /routes/{route}/manifest.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.LoadRoute(r.Context(), routeParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{
		Route:    st.Key,
		Source:   st.Source(),
		Segments: st.Route.Manifest(),
		Loaded:   st.SegmentNumbers(),
	})
}

// GetPlaylist handles GET /routes/{route}/playlist.m3u8.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.LoadRoute(r.Context(), routeParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(BuildRoutePlaylist(st.Route.Manifest())))
}

// GetQCamera handles GET /routes/{route}/segments/{segment}/qcamera.ts.
// Local files are served directly; remote ones are redirected to.
func (h *Handler) GetQCamera(w http.ResponseWriter, r *http.Request) {
	n, ok := segmentParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	st, err := h.svc.LoadRoute(r.Context(), routeParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	files, ok := st.Route.Manifest().Files(n)
	loc := files.Get(route.QCamera)
	if !ok || loc.IsZero() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if loc.IsRemote() {
		http.Redirect(w, r, loc.String(), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, loc.String())
}

// LoadSegment handles POST /routes/{route}/segments/{segment}/load.
// Query: dcam, ecam, qcam and nocache select the flags.
func (h *Handler) LoadSegment(w http.ResponseWriter, r *http.Request) {
	n, ok := segmentParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, ss, err := h.svc.LoadSegment(r.Context(), routeParam(r), n, flagsFromQuery(r.URL.Query()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ss.View(st.Key))
}

// GetSegment handles GET /routes/{route}/segments/{segment}. With ?wait=5s
// it blocks until the load finishes or the duration elapses.
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	n, ok := segmentParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, ss, err := h.svc.SegmentStatus(routeParam(r), n)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), min(d, maxWait))
		_, _ = ss.Wait(ctx)
		cancel()
	}
	writeJSON(w, http.StatusOK, ss.View(st.Key))
}

// CloseRoute handles DELETE /routes/{route}.
func (h *Handler) CloseRoute(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseRoute(routeParam(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, route.ErrInvalidRoute):
		h.log.Debug("invalid route", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
	case IsResolveError(err):
		h.log.Info("route has no data", slog.String("error", err.Error()))
		http.Error(w, "route has no data", http.StatusNotFound)
	case errors.Is(err, ErrSegmentNotFound), errors.Is(err, ErrRouteNotLoaded):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.log.Error("request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func routeParam(r *http.Request) string {
	raw := chi.URLParam(r, "route")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func segmentParam(r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "segment"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func flagsFromQuery(q url.Values) segment.Flags {
	var f segment.Flags
	for name, flag := range map[string]segment.Flags{
		"dcam":    segment.FlagDriverCam,
		"ecam":    segment.FlagWideRoadCam,
		"qcam":    segment.FlagQCamera,
		"nocache": segment.FlagNoFileCache,
	} {
		if queryBool(q, name) {
			f |= flag
		}
	}
	return f
}

// queryBool treats a present parameter with an empty value as true.
func queryBool(q url.Values, name string) bool {
	if !q.Has(name) {
		return false
	}
	switch strings.ToLower(q.Get(name)) {
	case "", "1", "true", "yes":
		return true
	}
	return false
}
