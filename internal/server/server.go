// Package server exposes the relationship map over HTTP: a REST API for the
// graph, a websocket carrying layout frames and pointer gestures, and a
// canvas page that paints what it receives.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/msalah0e/valence/internal/graph"
	"github.com/msalah0e/valence/internal/interact"
	"github.com/msalah0e/valence/internal/layout"
	"github.com/msalah0e/valence/internal/session"
	"github.com/msalah0e/valence/internal/storage"
	"github.com/msalah0e/valence/internal/valence"
)

//go:embed index.html
var indexHTML []byte

// maxBodySize bounds request bodies; an exported session is well under it.
const maxBodySize = 4 << 20

// Deps are the collaborators a Server drives. Restorer and Metrics may be nil.
type Deps struct {
	Store      *graph.Store
	Sim        *layout.Simulation
	Controller *interact.Controller
	Restorer   *session.Restorer
	Metrics    *Metrics
	Logger     *zap.Logger
	User       string
}

// Server serves one user's map.
type Server struct {
	store    *graph.Store
	sim      *layout.Simulation
	ctrl     *interact.Controller
	restorer *session.Restorer
	metrics  *Metrics
	logger   *zap.Logger
	user     string

	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates a server. Call Run before serving websocket clients.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    d.Store,
		sim:      d.Sim,
		ctrl:     d.Controller,
		restorer: d.Restorer,
		metrics:  d.Metrics,
		logger:   logger,
		user:     d.User,
	}
	var onCount func(int)
	if s.metrics != nil {
		onCount = func(n int) { s.metrics.Clients.Set(float64(n)) }
	}
	s.hub = NewHub(logger, onCount)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     sameOrigin,
	}
	return s
}

// Run dispatches websocket traffic and mirrors store changes to clients until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	unsubscribe := s.store.Subscribe(s.onStoreEvent)
	defer unsubscribe()
	return s.hub.Run(ctx)
}

// BroadcastFrame sends a layout frame to every client. Wire it to
// layout.Runner.OnFrame.
func (s *Server) BroadcastFrame(f layout.Frame) {
	if s.metrics != nil {
		s.metrics.ObserveFrame(f)
	}
	s.hub.Broadcast(frameMessage(f))
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.Count()
}

func (s *Server) onStoreEvent(ev graph.Event) {
	switch {
	case ev.Kind == graph.SelectionChanged:
		s.hub.Publish(selectionMessage(ev.Selection))
	case ev.Kind == graph.PositionsUpdated:
	default:
		s.hub.Publish(graphMessage(ev.Snapshot))
		if ev.ShapeChanged() {
			s.hub.Publish(selectionMessage(ev.Selection))
		}
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/", s.index)
	r.Get("/ws", s.serveWS)
	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Put("/", s.putSession)
			r.Delete("/", s.clearSession)
			r.Post("/restore", s.restoreSession)
		})
		r.Post("/nodes", s.addNode)
		r.Delete("/nodes/{id}", s.removeNode)
		r.Post("/links", s.addLink)
		r.Delete("/links/{key}", s.removeLink)
		r.Get("/valence/{key}", s.getValence)
		r.Put("/valence/{key}", s.putValence)
		r.Get("/color/{key}", s.getColor)
		r.Put("/selection", s.putSelection)
		r.Route("/layout", func(r chi.Router) {
			r.Get("/", s.getLayout)
			r.Post("/stop", s.stopLayout)
			r.Post("/reheat", s.reheatLayout)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

// ─── Pages ───

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.store.GetStats()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"user":    s.user,
		"nodes":   st.Nodes,
		"links":   st.Links,
		"layout":  s.sim.State().String(),
		"clients": s.hub.Count(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := newClient(s.hub, conn, s.ctrl, s.logger)
	c.start(
		graphMessage(s.store.Snapshot()),
		selectionMessage(s.store.Selection()),
		frameMessage(s.sim.Frame()),
	)
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from the page this server served.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// ─── Session ───

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	data, err := s.store.ExportJSON()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) putSession(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	snap, err := graph.ParseSnapshot(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.restorer != nil {
		err = s.restorer.Load(snap)
	} else {
		err = s.store.LoadSession(snap)
	}
	if err != nil {
		respondStoreError(w, err)
		return
	}
	s.logger.Info("session imported", zap.Int("nodes", len(snap.Nodes)), zap.Int("links", len(snap.Links)))
	respondJSON(w, http.StatusOK, s.store.GetStats())
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	if s.restorer != nil {
		s.restorer.Clear()
	} else {
		s.store.ClearSession()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreSession(w http.ResponseWriter, r *http.Request) {
	if s.restorer == nil {
		respondError(w, http.StatusNotImplemented, "no storage backend configured")
		return
	}
	snap, err := s.restorer.Restore(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "no saved session for "+s.user)
	case errors.Is(err, session.ErrSuperseded):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		respondStoreError(w, err)
	default:
		respondJSON(w, http.StatusOK, map[string]int{"nodes": len(snap.Nodes), "links": len(snap.Links)})
	}
}

// ─── Graph ───

type addNodeRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (s *Server) addNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if !decode(w, r, &req) {
		return
	}
	role, err := graph.ParseRole(req.Role)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	n := graph.Node{ID: req.ID, Name: req.Name, Role: role}
	if err := s.store.AddNode(n); err != nil {
		respondStoreError(w, err)
		return
	}
	created, _ := s.store.Node(req.ID)
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) removeNode(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveNode(chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addLinkRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

func (s *Server) addLink(w http.ResponseWriter, r *http.Request) {
	var req addLinkRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := graph.ParseLinkType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	l := graph.Link{Source: req.Source, Target: req.Target, Type: t}
	if err := s.store.AddLink(l); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"key":    l.Key(),
		"source": l.Source,
		"target": l.Target,
		"type":   l.Type,
	})
}

func (s *Server) removeLink(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveLink(chi.URLParam(r, "key")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Valence ───

type valenceResponse struct {
	Key     string           `json:"key"`
	Valence *valence.Valence `json:"valence"`
	Average float64          `json:"average"`
	Bucket  string           `json:"bucket"`
	Color   valence.Color    `json:"color"`
}

func (s *Server) describe(key string) valenceResponse {
	v := s.store.Valence(key)
	resp := valenceResponse{Key: key, Valence: v, Bucket: valence.Neutral.String(), Color: valence.ColorFor(v)}
	if v != nil {
		resp.Average = v.Average()
		resp.Bucket = valence.BucketFor(resp.Average).String()
	}
	return resp
}

func (s *Server) getValence(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !s.store.HasLink(key) {
		respondError(w, http.StatusNotFound, "unknown link: "+key)
		return
	}
	respondJSON(w, http.StatusOK, s.describe(key))
}

func (s *Server) putValence(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var v valence.Valence
	if !decode(w, r, &v) {
		return
	}
	if err := s.store.UpdateValence(key, v); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.describe(key))
}

// getColor answers for any key; links without valence get the default color.
func (s *Server) getColor(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	respondJSON(w, http.StatusOK, map[string]any{
		"key":   key,
		"color": valence.ColorFor(s.store.Valence(key)),
	})
}

// ─── Selection and layout ───

func (s *Server) putSelection(w http.ResponseWriter, r *http.Request) {
	var sel graph.Selection
	if !decode(w, r, &sel) {
		return
	}
	switch {
	case sel.NodeID != "" && sel.LinkID != "":
		respondError(w, http.StatusBadRequest, "select a node or a link, not both")
		return
	case sel.LinkID != "":
		s.store.SelectLink(sel.LinkID)
	default:
		s.store.SelectNode(sel.NodeID)
	}
	respondJSON(w, http.StatusOK, s.store.Selection())
}

func (s *Server) getLayout(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Frame())
}

// stopLayout freezes the nodes where they are until the next drag or change.
func (s *Server) stopLayout(w http.ResponseWriter, r *http.Request) {
	s.sim.Stop()
	respondJSON(w, http.StatusOK, map[string]string{"state": s.sim.State().String()})
}

func (s *Server) reheatLayout(w http.ResponseWriter, r *http.Request) {
	s.sim.Reheat()
	respondJSON(w, http.StatusOK, map[string]string{"state": s.sim.State().String()})
}

// ─── Helpers ───

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondStoreError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrDuplicateID), errors.Is(err, graph.ErrDuplicateLink):
		return http.StatusConflict
	case errors.Is(err, graph.ErrUnknownNode), errors.Is(err, graph.ErrUnknownLink):
		return http.StatusNotFound
	case errors.Is(err, graph.ErrProtectedNode):
		return http.StatusForbidden
	case errors.Is(err, graph.ErrUnknownEndpoint),
		errors.Is(err, graph.ErrInvalidNode),
		errors.Is(err, graph.ErrInvalidLink),
		errors.Is(err, graph.ErrInvalidSnapshot):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ─── Websocket messages ───

func marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"type": "error", "error": err.Error()})
	}
	return data
}

func errorMessage(msg string) []byte {
	return marshal(map[string]string{"type": "error", "error": msg})
}

func frameMessage(f layout.Frame) []byte {
	return marshal(struct {
		Type  string       `json:"type"`
		Frame layout.Frame `json:"frame"`
	}{"frame", f})
}

func selectionMessage(sel graph.Selection) []byte {
	return marshal(struct {
		Type      string          `json:"type"`
		Selection graph.Selection `json:"selection"`
	}{"selection", sel})
}

// graphMessage carries what the canvas needs besides positions: names, roles
// and link colors.
func graphMessage(snap graph.Snapshot) []byte {
	colors := make(map[string]valence.Color, len(snap.Links))
	for _, l := range snap.Links {
		key := l.Key()
		if v, ok := snap.Valence[key]; ok {
			colors[key] = valence.ColorFor(&v)
		} else {
			colors[key] = valence.DefaultColor
		}
	}
	return marshal(struct {
		Type   string                   `json:"type"`
		Nodes  []graph.Node             `json:"nodes"`
		Links  []graph.Link             `json:"links"`
		Colors map[string]valence.Color `json:"colors"`
	}{"graph", snap.Nodes, snap.Links, colors})
}
