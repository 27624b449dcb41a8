package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/ec-fan-controller/db"
	"github.com/thatsimonsguy/ec-fan-controller/internal/controller"
	"github.com/thatsimonsguy/ec-fan-controller/internal/fanconfig"
	"github.com/thatsimonsguy/ec-fan-controller/internal/metrics"
)

const defaultHistoryLimit = 60

// StatusSource is the read-only view of the controller the API serves.
type StatusSource interface {
	Status() controller.Status
	FanStatus(i int) (controller.FanStatus, error)
	Config() *fanconfig.Config
}

type Server struct {
	ctl StatusSource
	ipc http.Handler
	db  *sql.DB
	srv *http.Server
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SampleResponse struct {
	TakenAt     time.Time `json:"taken_at"`
	Temperature int       `json:"temperature"`
	Step        int       `json:"step"`
	Speed       int       `json:"speed"`
	RPM         int       `json:"rpm"`
	Written     bool      `json:"written"`
}

// NewServer builds the HTTP surface. ipcHandler serves the client protocol
// at /ipc; database may be nil when history is disabled.
func NewServer(ctl StatusSource, ipcHandler http.Handler, database *sql.DB) *Server {
	return &Server{
		ctl: ctl,
		ipc: ipcHandler,
		db:  database,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/config", s.getConfig)
		r.Get("/fans/{fan}", s.getFan)
		r.Get("/fans/{fan}/history", s.getFanHistory)
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if s.ipc != nil {
		r.Method(http.MethodGet, "/ipc", s.ipc)
	}
	return r
}

func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	log.Info().Str("address", addr).Msg("Starting API server")

	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) fanIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	fan, err := strconv.Atoi(chi.URLParam(r, "fan"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Fan index must be a number")
		return 0, false
	}
	return fan, true
}

func (s *Server) getFan(w http.ResponseWriter, r *http.Request) {
	fan, ok := s.fanIndex(w, r)
	if !ok {
		return
	}
	status, err := s.ctl.FanStatus(fan)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) getFanHistory(w http.ResponseWriter, r *http.Request) {
	fan, ok := s.fanIndex(w, r)
	if !ok {
		return
	}
	if s.db == nil {
		s.writeError(w, http.StatusNotFound, "History is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = n
	}

	samples, err := db.RecentSamples(s.db, fan, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]SampleResponse, 0, len(samples))
	for _, sample := range samples {
		response = append(response, SampleResponse{
			TakenAt:     sample.TakenAt,
			Temperature: sample.Temperature,
			Step:        sample.Step,
			Speed:       sample.Speed,
			RPM:         sample.RPM,
			Written:     sample.Written,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

// getConfig returns the active config document, XML unless ?format=yaml.
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.ctl.Config()
	if cfg == nil {
		s.writeError(w, http.StatusNotFound, "No fan config loaded")
		return
	}

	var (
		data        []byte
		err         error
		contentType = "application/xml"
	)
	if r.URL.Query().Get("format") == "yaml" {
		data, err = fanconfig.SaveYAML(cfg)
		contentType = "application/yaml"
	} else {
		data, err = fanconfig.Save(cfg)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
