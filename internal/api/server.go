// =============================================================================
// HTTP API SERVER - THE BROKER'S WIRE PROTOCOL
// =============================================================================
//
// WHAT IS THIS?
// Every broker RPC (client traffic, replication and control plane) is an
// HTTP route. Producers, consumers, follower replica fetchers and the
// cluster controller all speak to this server.
//
// WHY CHI ROUTER?
//   - stdlib net/http compatible handlers
//   - URL parameters (/topics/{topic})
//   - RequestID / RealIP / Recoverer middleware out of the box
//
// ENDPOINT OVERVIEW:
//
//   DATA PLANE
//   POST   /topics/{topic}/records              produce      → {offset}
//   GET    /topics/{topic}/records/{offset}     consume      → record
//   GET    /topics/{topic}/offset               get_offset   → {next_offset}
//   GET    /topics/{topic}/replica?from=&max=   replica_fetch → binary frames
//   GET    /topics                              list_topics
//
//   CONSUMER OFFSETS
//   POST   /groups/{group}/offsets/{topic}      offset_commit
//   GET    /groups/{group}/offsets/{topic}      offset_fetch
//
//   CONTROL PLANE (controller → broker)
//   POST   /admin/promote                       → PROMOTED_SUCCESSFULLY
//   POST   /admin/demote  {host, port}          → DEMOTED_SUCCESSFULLY
//   POST   /admin/leader  {host, port}          → LEADER_UPDATED
//
//   OPERATIONS
//   GET    /stats     GET /healthz     GET /metrics
//
// ERROR BODIES: {"error": "...", "code": "not_leader"}
//
//   not_leader 409 │ not_follower 409 │ unknown_topic 404 │ not_found 404
//   offset_too_low 416 │ invalid_topic 400 │ bad_request 400
//   unavailable 503 │ internal 500
//
// =============================================================================

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andrewc773/kafka-lite/internal/broker"
	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// =============================================================================
// API SERVER
// =============================================================================

// Server is the HTTP API server for one broker.
type Server struct {
	broker     *broker.Broker
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
}

// ServerConfig holds API server configuration.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":9092",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the server and registers every route.
func NewServer(b *broker.Broker, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	s := &Server{
		broker: b,
		router: r,
		logger: logger.With("component", "api"),
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// route binds a request kind to a method and pattern.
type route struct {
	kind    Kind
	method  string
	pattern string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{KindProduce, http.MethodPost, "/topics/{topic}/records", s.produce},
		{KindConsume, http.MethodGet, "/topics/{topic}/records/{offset}", s.consume},
		{KindGetOffset, http.MethodGet, "/topics/{topic}/offset", s.getOffset},
		{KindReplicaFetch, http.MethodGet, "/topics/{topic}/replica", s.replicaFetch},
		{KindListTopics, http.MethodGet, "/topics", s.listTopics},
		{KindOffsetCommit, http.MethodPost, "/groups/{group}/offsets/{topic}", s.commitOffset},
		{KindOffsetFetch, http.MethodGet, "/groups/{group}/offsets/{topic}", s.fetchOffset},
		{KindPromote, http.MethodPost, "/admin/promote", s.promote},
		{KindDemote, http.MethodPost, "/admin/demote", s.demote},
		{KindUpdateLeader, http.MethodPost, "/admin/leader", s.updateLeader},
		{KindStats, http.MethodGet, "/stats", s.stats},
		{KindHealth, http.MethodGet, "/healthz", s.health},
		{KindMetrics, http.MethodGet, "/metrics", s.broker.Metrics().Handler().ServeHTTP},
	}
}

func (s *Server) registerRoutes() {
	for _, rt := range s.routes() {
		s.router.Method(rt.method, rt.pattern, s.instrument(rt.kind, rt.handler))
	}
}

// instrument logs the request and records it in the request metrics.
func (s *Server) instrument(kind Kind, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, status: http.StatusOK}
		next(wrapped, r)

		elapsed := time.Since(start)
		s.broker.Metrics().Broker.RecordRequest(kind.String(), strconv.Itoa(wrapped.status), elapsed)

		level := slog.LevelDebug
		if wrapped.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"kind", kind.String(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", elapsed.String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l and blocks until shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP API server", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type produceRequest struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

type recordResponse struct {
	Offset    int64  `json:"offset"`
	Timestamp int64  `json:"timestamp"`
	Key       []byte `json:"key"`
	Value     []byte `json:"value"`
}

type addressRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type offsetBody struct {
	Offset int64 `json:"offset"`
}

// =============================================================================
// DATA PLANE HANDLERS
// =============================================================================

func (s *Server) produce(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	var req produceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		req.Value = []byte{}
	}

	offset, err := s.broker.Produce(topic, req.Key, req.Value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, offsetBody{Offset: offset})
}

func (s *Server) consume(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	offset, err := strconv.ParseInt(chi.URLParam(r, "offset"), 10, 64)
	if err != nil || offset < 0 {
		s.errorResponse(w, http.StatusBadRequest, "bad_request", "offset must be a non-negative integer")
		return
	}

	rec, err := s.broker.Consume(topic, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rec == nil {
		s.errorResponse(w, http.StatusNotFound, "not_found", "offset "+strconv.FormatInt(offset, 10)+" has not been written")
		return
	}
	s.writeJSON(w, http.StatusOK, recordResponse{
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
		Key:       rec.Key,
		Value:     rec.Value,
	})
}

func (s *Server) getOffset(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int64{
		"next_offset": s.broker.GetOffset(chi.URLParam(r, "topic")),
	})
}

func (s *Server) replicaFetch(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")
	query := r.URL.Query()

	from, err := strconv.ParseInt(query.Get("from"), 10, 64)
	if err != nil || from < 0 {
		s.errorResponse(w, http.StatusBadRequest, "bad_request", "from must be a non-negative integer")
		return
	}
	max := broker.MaxReplicaFetch
	if v := query.Get("max"); v != "" {
		if max, err = strconv.Atoi(v); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "bad_request", "max must be an integer")
			return
		}
	}

	records, err := s.broker.ReplicaFetch(topic, from, max)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(storage.EncodeFrames(records)); err != nil {
		s.logger.Warn("failed to write replica frames", "topic", topic, "error", err)
	}
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{
		"topics": s.broker.ListTopics(),
	})
}

// =============================================================================
// CONSUMER OFFSET HANDLERS
// =============================================================================

func (s *Server) commitOffset(w http.ResponseWriter, r *http.Request) {
	var req offsetBody
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.broker.CommitOffset(chi.URLParam(r, "group"), chi.URLParam(r, "topic"), req.Offset); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) fetchOffset(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, offsetBody{
		Offset: s.broker.FetchOffset(chi.URLParam(r, "group"), chi.URLParam(r, "topic")),
	})
}

// =============================================================================
// CONTROL PLANE HANDLERS
// =============================================================================

func (s *Server) promote(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.Promote(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, "PROMOTED_SUCCESSFULLY")
}

func (s *Server) demote(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.broker.Demote(cluster.BrokerAddress{Host: req.Host, Port: req.Port}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, "DEMOTED_SUCCESSFULLY")
}

func (s *Server) updateLeader(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.broker.UpdateLeader(cluster.BrokerAddress{Host: req.Host, Port: req.Port}); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, "LEADER_UPDATED")
}

// =============================================================================
// OPERATIONS HANDLERS
// =============================================================================

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	leader := ""
	if addr, following := s.broker.Leader(); following {
		leader = addr.String()
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"stats":  s.broker.Stats(),
		"role":   s.broker.Role().String(),
		"leader": leader,
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, status string) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// writeError maps broker and storage errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrNotLeader):
		s.errorResponse(w, http.StatusConflict, "not_leader", err.Error())
	case errors.Is(err, broker.ErrNotFollower):
		s.errorResponse(w, http.StatusConflict, "not_follower", err.Error())
	case errors.Is(err, broker.ErrUnknownTopic):
		s.errorResponse(w, http.StatusNotFound, "unknown_topic", err.Error())
	case errors.Is(err, storage.ErrOffsetTooLow):
		s.errorResponse(w, http.StatusRequestedRangeNotSatisfiable, "offset_too_low", err.Error())
	case errors.Is(err, broker.ErrInvalidTopicName):
		s.errorResponse(w, http.StatusBadRequest, "invalid_topic", err.Error())
	case errors.Is(err, broker.ErrInvalidGroup), errors.Is(err, cluster.ErrInvalidAddress):
		s.errorResponse(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, broker.ErrBrokerClosed), errors.Is(err, storage.ErrLogClosed):
		s.errorResponse(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
