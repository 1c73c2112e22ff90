// Package httpapi is the passenger-facing surface of the session gateway:
// REST endpoints for booking actions and a WebSocket stream for live
// negotiation updates.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/backend"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/negotiation"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/rank"
	"github.com/CarsonDev1/carpooling-app-sub000/internal/syncsched"
)

// Deps is everything a Server needs wired in.
type Deps struct {
	Client    backend.Client
	Directory negotiation.DriverDirectory
	Events    negotiation.EventPublisher
	Payments  negotiation.PaymentGateway
	Policy    syncsched.Policy

	FailureThreshold int
	RankCriterion    string

	Logger *slog.Logger
}

type Server struct {
	deps     Deps
	sessions *SessionRegistry
	logger   *slog.Logger
	mux      *mux.Router

	// baseCtx outlives individual requests; session polling is bound to it
	baseCtx context.Context
}

func NewServer(ctx context.Context, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		deps:     deps,
		sessions: NewSessionRegistry(),
		logger:   log,
		mux:      mux.NewRouter(),
		baseCtx:  ctx,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bookings", s.handleCreateBooking).Methods("POST")
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods("GET")
	api.HandleFunc("/bookings/{id}", s.handleDetachSession).Methods("DELETE")
	api.HandleFunc("/bookings/{id}/offers/{offer_id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/bookings/{id}/offers/{offer_id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings/{id}/pay", s.handlePay).Methods("POST")
	api.HandleFunc("/bookings/{id}/polling/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/bookings/{id}/polling/resume", s.handleResume).Methods("POST")

	s.mux.HandleFunc("/ws/bookings/{id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Shutdown closes every live session.
func (s *Server) Shutdown() { s.sessions.CloseAll() }

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req backend.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PassengerID == "" {
		writeError(w, http.StatusBadRequest, "passenger_id is required")
		return
	}

	res, err := s.deps.Client.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeBackendError(w, err)
		return
	}

	sched := syncsched.New(s.deps.Policy, s.logger.With("booking_id", res.ID))
	coord := negotiation.New(s.deps.Client, sched, negotiation.Options{
		Criterion:        rank.ParseCriterion(s.deps.RankCriterion),
		FailureThreshold: s.deps.FailureThreshold,
		Directory:        s.deps.Directory,
		Events:           s.deps.Events,
		Payments:         s.deps.Payments,
		Logger:           s.logger.With("booking_id", res.ID),
	})
	// polling must survive this request, it belongs to the session
	coord.Start(s.baseCtx, res)
	s.sessions.Add(coord)

	writeJSON(w, http.StatusCreated, coord.View())
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	u := coord.View()
	if sort := r.URL.Query().Get("sort"); sort != "" {
		u.RankedOffers = rank.Rank(u.RankedOffers, rank.ParseCriterion(sort))
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDetachSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.sessions.Remove(id) {
		writeError(w, http.StatusNotFound, "no session for booking "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	offerID := mux.Vars(r)["offer_id"]
	if err := coord.Accept(r.Context(), offerID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coord.View())
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	offerID := mux.Vars(r)["offer_id"]
	if err := coord.Decline(r.Context(), offerID); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coord.View())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := coord.Cancel(r.Context()); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coord.View())
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	token, err := coord.Pay(r.Context())
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"payment_handoff_token": token,
		"session":               coord.View(),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	coord.PausePolling()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	coord, ok := s.session(w, r)
	if !ok {
		return
	}
	coord.ResumePolling()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*negotiation.Coordinator, bool) {
	id := mux.Vars(r)["id"]
	coord, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for booking "+id)
		return nil, false
	}
	return coord, true
}

// writeActionError maps negotiation errors onto HTTP statuses.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var invalid *negotiation.InvalidStateError
	var conflict *negotiation.OfferConflictError
	switch {
	case errors.Is(err, negotiation.ErrSessionClosed):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeBackendError(w, err)
	}
}

func (s *Server) writeBackendError(w http.ResponseWriter, err error) {
	switch backend.ClassOf(err) {
	case backend.ClassNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case backend.ClassRateLimited:
		writeError(w, http.StatusTooManyRequests, err.Error())
	case backend.ClassInvalid:
		writeError(w, http.StatusBadRequest, err.Error())
	case backend.ClassConflict:
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
