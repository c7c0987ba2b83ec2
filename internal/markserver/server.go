// Package markserver serves stored marks over HTTP and streams mark events
// to websocket subscribers.
package markserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/phroun/copus"
	"github.com/phroun/copus/markstore"
)

// Options configures a Server.
type Options struct {
	Store markstore.Store

	// Hub serves websocket subscribers. Required.
	Hub *Hub

	// Publisher receives events for created and deleted marks. Defaults to Hub.
	Publisher Publisher

	Metrics *Metrics

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	Logger *zerolog.Logger
}

// Server is the mark API.
type Server struct {
	store     markstore.Store
	hub       *Hub
	publisher Publisher
	metrics   *Metrics
	logger    zerolog.Logger
	router    *mux.Router
}

// New builds a server and its routes.
func New(options Options) *Server {
	s := &Server{
		store:     options.Store,
		hub:       options.Hub,
		publisher: options.Publisher,
		metrics:   options.Metrics,
		logger:    log.Logger,
	}
	if options.Logger != nil {
		s.logger = *options.Logger
	}
	if s.publisher == nil {
		s.publisher = s.hub
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	metricsPath := options.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := mux.NewRouter()
	r.Use(s.metrics.instrument)
	r.HandleFunc(markstore.MarkListPath, s.handleMarkList).Methods(http.MethodGet)
	r.HandleFunc(markstore.MarkInfoPath, s.handleMarkInfo).Methods(http.MethodGet)
	r.HandleFunc(markstore.CreateMarkPath, s.handleCreateMark).Methods(http.MethodPost)
	r.HandleFunc(markstore.CreateMarkPath+"/{id}", s.handleDeleteMark).Methods(http.MethodDelete)
	r.HandleFunc("/ws", s.handleWs).Methods(http.MethodGet)
	r.Handle(metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps store errors to responses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, markstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, markstore.ErrInvalidMark):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("store failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleMarkList(w http.ResponseWriter, r *http.Request) {
	opusUUID := r.URL.Query().Get("opusUuid")
	if opusUUID == "" {
		writeError(w, http.StatusBadRequest, "opusUuid is required")
		return
	}
	marks, err := s.store.List(r.Context(), opusUUID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeData(w, marks)
}

func (s *Server) handleMarkInfo(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	info, err := s.store.Info(r.Context(), ids)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeData(w, info)
}

func (s *Server) handleCreateMark(w http.ResponseWriter, r *http.Request) {
	var params copus.MarkX
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid mark: "+err.Error())
		return
	}
	m, err := s.store.Create(r.Context(), params)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.metrics.created.Inc()
	s.logger.Info().Str("mark", m.ID).Str("opus", m.OpusUUID).Msg("mark created")
	s.publish(r, Event{Event: EventCreated, Mark: m})
	writeData(w, m)
}

func (s *Server) handleDeleteMark(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	s.metrics.deleted.Inc()
	s.logger.Info().Str("mark", id).Str("opus", m.OpusUUID).Msg("mark deleted")
	s.publish(r, Event{Event: EventDeleted, Mark: m})
	writeData(w, map[string]string{"id": id})
}

// publish announces an event. Failures are logged; the request succeeds.
func (s *Server) publish(r *http.Request, ev Event) {
	if err := s.publisher.Publish(r.Context(), ev); err != nil {
		s.metrics.events.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("event", ev.Event).Str("mark", ev.Mark.ID).Msg("publishing mark event failed")
		return
	}
	s.metrics.events.WithLabelValues("ok").Inc()
}

func (s *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	opusUUID := r.URL.Query().Get("opusUuid")
	if opusUUID == "" {
		writeError(w, http.StatusBadRequest, "opusUuid is required")
		return
	}
	s.hub.serveWs(w, r, opusUUID)
}
