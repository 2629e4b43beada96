// Package api is the HTTP surface of the aggregator: vote intake, tally
// inspection and operator controls for the sweep scheduler.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"vote-aggregator/internal/ledger"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/metrics"
	"vote-aggregator/internal/models"
	"vote-aggregator/internal/ratelimiter"
	"vote-aggregator/internal/scheduler"
	"vote-aggregator/internal/votestore"
)

const maxBodyBytes = 64 << 10

// Scheduler is the sweep control surface.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	TriggerNow(ctx context.Context) scheduler.Summary
	Running() bool
	LastSweep() (scheduler.Summary, bool)
	Interval() time.Duration
}

// StakeResolver supplies vote weights when intake is stake-weighted.
type StakeResolver interface {
	Resolve(ctx context.Context, voterID string) (float64, error)
}

// BlockSource reports the latest block seen on the ledger.
type BlockSource interface {
	Latest() (ledger.BlockInfo, bool)
}

// JournalReader lists recorded decisions.
type JournalReader interface {
	Recent(ctx context.Context, subject *models.Subject, limit int) ([]models.DecisionRecord, error)
}

// Options wires the server. Store is required; a nil Stake means weights
// come from the ballot.
type Options struct {
	Store      votestore.Store
	Scheduler  Scheduler
	Stake      StakeResolver
	Blocks     BlockSource
	Journal    JournalReader
	Limiter    *ratelimiter.Limiter
	Metrics    *metrics.Registry
	Logger     logrus.FieldLogger
	AdminToken string
	// BaseContext bounds scheduler loops started over HTTP.
	BaseContext context.Context
}

type Server struct {
	store      votestore.Store
	sched      Scheduler
	stake      StakeResolver
	blocks     BlockSource
	journal    JournalReader
	limiter    *ratelimiter.Limiter
	metrics    *metrics.Registry
	log        logrus.FieldLogger
	adminToken string
	baseCtx    context.Context
	now        func() time.Time
	router     chi.Router
}

func New(opts Options) *Server {
	s := &Server{
		store:      opts.Store,
		sched:      opts.Scheduler,
		stake:      opts.Stake,
		blocks:     opts.Blocks,
		journal:    opts.Journal,
		limiter:    opts.Limiter,
		metrics:    opts.Metrics,
		log:        logger.Or(opts.Logger).WithField("component", "api"),
		adminToken: opts.AdminToken,
		baseCtx:    opts.BaseContext,
		now:        time.Now,
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/votes", s.handleCastVote)
		r.Get("/subjects/pending", s.handlePending)
		r.Get("/subjects/{type}/{id}/tally", s.handleTally)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/stats", s.handleStats)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/aggregation/trigger", s.handleTrigger)
			r.Post("/scheduler/start", s.handleSchedulerStart)
			r.Post("/scheduler/stop", s.handleSchedulerStop)
		})
	})
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(r.Method+" "+route, status, elapsed)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"elapsed":    elapsed,
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
