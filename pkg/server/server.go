package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/internal/tracker"
	"github.com/elonfeng/farewatch/pkg/itinerary"
)

// Store is the read side of the price store.
type Store interface {
	GetObservation(ctx context.Context, id int64) (*store.Observation, error)
	QueryHistory(ctx context.Context, key store.RouteKey) ([]store.Observation, error)
	QueryRecent(ctx context.Context, limit int) ([]store.Observation, error)
	GetDailyBest(ctx context.Context, day store.Date) (*store.DailyBest, error)
	ListHotelObservations(ctx context.Context, city string, checkIn, checkOut store.Date) ([]store.HotelObservation, error)
}

// Tracker runs sweeps on request.
type Tracker interface {
	Sweep(ctx context.Context) (*tracker.Report, error)
	Track(ctx context.Context, pairs []store.RouteKey) (*tracker.Report, error)
}

// Suggestor plans itineraries.
type Suggestor interface {
	Suggest(ctx context.Context, dep, ret store.Date) (*itinerary.Suggestion, error)
}

// Server provides the HTTP API.
type Server struct {
	store     Store
	tracker   Tracker
	suggestor Suggestor
	port      int
	log       *slog.Logger
	now       func() time.Time
}

// New creates a new HTTP server. tracker and suggestor may be nil, which
// disables their endpoints.
func New(s Store, t Tracker, sg Suggestor, port int, log *slog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		store:     s,
		tracker:   t,
		suggestor: sg,
		port:      port,
		log:       log,
		now:       time.Now,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/best", s.handleBest)
	mux.HandleFunc("GET /api/v1/recent", s.handleRecent)
	mux.HandleFunc("GET /api/v1/observations/{id}", s.handleObservation)
	mux.HandleFunc("GET /api/v1/hotels", s.handleHotels)
	mux.HandleFunc("GET /api/v1/itinerary", s.handleItinerary)
	mux.HandleFunc("POST /api/v1/track", s.handleTrack)
	return mux
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("farewatch server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := routeKey(w, r)
	if !ok {
		return
	}

	obs, err := s.store.QueryHistory(r.Context(), key)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  obs,
		"count": len(obs),
	})
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	day := store.DateOf(s.now())
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := store.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		day = d
	}

	best, err := s.store.GetDailyBest(r.Context(), day)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if best == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no prices recorded on %s", day))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": best})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	obs, err := s.store.QueryRecent(r.Context(), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  obs,
		"count": len(obs),
	})
}

func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	o, err := s.store.GetObservation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": o})
}

func (s *Server) handleHotels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	if city == "" {
		writeError(w, http.StatusBadRequest, "city is required")
		return
	}
	checkIn, err := store.ParseDate(q.Get("check_in"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	checkOut, err := store.ParseDate(q.Get("check_out"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hotels, err := s.store.ListHotelObservations(r.Context(), city, checkIn, checkOut)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  hotels,
		"count": len(hotels),
	})
}

func (s *Server) handleItinerary(w http.ResponseWriter, r *http.Request) {
	if s.suggestor == nil {
		writeError(w, http.StatusNotImplemented, "itinerary suggestions are not configured")
		return
	}
	key, ok := routeKey(w, r)
	if !ok {
		return
	}

	sg, err := s.suggestor.Suggest(r.Context(), key.Departure, key.Return)
	if err != nil {
		s.storeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": sg})
}

type trackRequest struct {
	Departure store.Date `json:"departure_date"`
	Return    store.Date `json:"return_date"`
}

// handleTrack runs a sweep, or a single pair when the body names one. The
// tracker allows one sweep at a time, so a request made while the scheduler
// (or another request) is sweeping gets 409.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusNotImplemented, "tracking is not configured")
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if (req.Departure == "") != (req.Return == "") {
		writeError(w, http.StatusBadRequest, "departure_date and return_date go together")
		return
	}

	var (
		rep *tracker.Report
		err error
	)
	if req.Departure != "" {
		rep, err = s.tracker.Track(r.Context(), []store.RouteKey{{Departure: req.Departure, Return: req.Return}})
	} else {
		rep, err = s.tracker.Sweep(r.Context())
	}
	if errors.Is(err, tracker.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Error("track request failed", "err", err)
		resp := map[string]any{"error": err.Error()}
		if rep != nil {
			resp["report"] = rep
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": rep})
}

func routeKey(w http.ResponseWriter, r *http.Request) (store.RouteKey, bool) {
	q := r.URL.Query()
	dep, err := store.ParseDate(q.Get("departure"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "departure: "+err.Error())
		return store.RouteKey{}, false
	}
	ret, err := store.ParseDate(q.Get("return"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "return: "+err.Error())
		return store.RouteKey{}, false
	}
	if ret < dep {
		writeError(w, http.StatusBadRequest, "return is before departure")
		return store.RouteKey{}, false
	}
	return store.RouteKey{Departure: dep, Return: ret}, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", "err", err)
	status := http.StatusInternalServerError
	if store.IsKind(err, store.KindUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
