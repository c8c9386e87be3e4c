// Package collector receives beacons over HTTP and serves the stored
// results back.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"critline/fold"
	"critline/internal/store"
)

// Store persists beacons. *store.DB satisfies it.
type Store interface {
	Save(ctx context.Context, pageURL string, data *fold.BeaconData) ([]store.Record, error)
	Latest(ctx context.Context, pageURL, kind string) (*store.Record, error)
	Support(ctx context.Context, pageURL, kind string, percentage int) (*store.Aggregate, error)
	IssueNonce(ctx context.Context, pageURL, nonce string) (time.Time, error)
	ConsumeNonce(ctx context.Context, pageURL, nonce string) error
}

// Config describes server wiring.
type Config struct {
	Store Store
	// MaxBodyBytes caps a beacon body; zero means twice fold.MaxPostSize.
	MaxBodyBytes int64
	// AcceptUnsolicited stores beacons whose nonce was not issued by
	// POST /nonce.
	AcceptUnsolicited bool
	// SupportPercentage is the share of the maximum support a key needs
	// to be reported critical by /results.
	SupportPercentage int
	Log               *logrus.Entry
}

// Server exposes the beacon endpoints.
type Server struct {
	store       Store
	maxBody     int64
	unsolicited bool
	percentage  int
	log         *logrus.Entry
	router      chi.Router
}

// New wires a collector with the provided configuration.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 * fold.MaxPostSize
	}
	s := &Server{
		store:       cfg.Store,
		maxBody:     cfg.MaxBodyBytes,
		unsolicited: cfg.AcceptUnsolicited,
		percentage:  cfg.SupportPercentage,
		log:         cfg.Log.WithField("component", "collector"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withLogging(s.log))
	r.Get("/ping", s.handlePing)
	r.Post("/nonce", s.handleNonce)
	r.Post("/beacon", s.handleBeacon)
	r.Get("/results", s.handleResults)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong\n"))
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	pageURL, err := NormalizePageURL(r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, "missing or invalid url parameter", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "beacon too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read beacon", http.StatusBadRequest)
		return
	}
	data, err := fold.ParseBeacon(string(body))
	if err != nil {
		s.log.WithError(err).WithField("url", pageURL).Debug("rejected beacon")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.unsolicited {
		if err := s.store.ConsumeNonce(r.Context(), pageURL, data.Nonce); err != nil {
			if errors.Is(err, store.ErrInvalidNonce) {
				s.log.WithField("url", pageURL).Debug("beacon with unknown nonce")
				http.Error(w, err.Error(), http.StatusForbidden)
				return
			}
			s.log.WithError(err).WithField("url", pageURL).Error("checking nonce")
			http.Error(w, "failed to check nonce", http.StatusInternalServerError)
			return
		}
	}
	recs, err := s.store.Save(r.Context(), pageURL, data)
	switch {
	case errors.Is(err, store.ErrEmptyBeacon):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.log.WithError(err).WithField("url", pageURL).Error("storing beacon")
		http.Error(w, "failed to store beacon", http.StatusInternalServerError)
		return
	}
	entry := s.log.WithFields(logrus.Fields{
		"url":          pageURL,
		"options_hash": data.OptionsHash,
		"rows":         len(recs),
	})
	if data.Truncated {
		entry = entry.WithField("truncated", true)
	}
	entry.Info("beacon stored")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageURL, err := NormalizePageURL(q.Get("url"))
	if err != nil {
		http.Error(w, "missing or invalid url parameter", http.StatusBadRequest)
		return
	}
	kind := q.Get("kind")
	switch kind {
	case fold.KeyCriticalCSS, fold.KeyCriticalImages, fold.KeyXPaths:
	default:
		http.Error(w, "kind must be one of cs, ci, xp", http.StatusBadRequest)
		return
	}
	rec, err := s.store.Latest(r.Context(), pageURL, kind)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no beacon recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("url", pageURL).Error("reading beacon")
		http.Error(w, "failed to read beacon", http.StatusInternalServerError)
		return
	}
	agg, err := s.store.Support(r.Context(), pageURL, kind, s.percentage)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.WithError(err).WithField("url", pageURL).Error("reading support")
		http.Error(w, "failed to read support", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(results{Record: rec, Support: agg}); err != nil {
		s.log.WithError(err).Debug("writing results")
	}
}

// results is the latest record with the support aggregate of its kind.
type results struct {
	*store.Record
	Support *store.Aggregate `json:"support,omitempty"`
}

type nonceResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	pageURL, err := NormalizePageURL(r.URL.Query().Get("url"))
	if err != nil {
		http.Error(w, "missing or invalid url parameter", http.StatusBadRequest)
		return
	}
	nonce := uuid.NewString()
	expires, err := s.store.IssueNonce(r.Context(), pageURL, nonce)
	if err != nil {
		s.log.WithError(err).WithField("url", pageURL).Error("issuing nonce")
		http.Error(w, "failed to issue nonce", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(nonceResponse{Nonce: nonce, ExpiresAt: expires}); err != nil {
		s.log.WithError(err).Debug("writing nonce")
	}
}
