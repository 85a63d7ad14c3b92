package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"p2plend/core/events"
	"p2plend/core/state"
	"p2plend/crypto"
	nativecommon "p2plend/native/common"
	"p2plend/native/lending"
	"p2plend/observability"
	telemetry "p2plend/observability/otel"
	"p2plend/services/lendingd/journal"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Config captures the dependencies required to construct the server.
type Config struct {
	State     *state.Manager
	Journal   *journal.Journal
	Pauses    nativecommon.PauseView
	Logger    *slog.Logger
	APITokens []string
	RateLimit RateLimit
	// Now overrides the engine clock in unix seconds.
	Now func() int64
	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// pauseController is implemented by pause views operators can toggle.
type pauseController interface {
	nativecommon.PauseView
	Set(module string, paused bool)
}

// Server exposes the lending engine over HTTP. Every mutating request runs as
// one state transaction; its events are journaled only after it commits.
type Server struct {
	state   *state.Manager
	journal *journal.Journal
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	now     func() int64
	tokens  []string
	limiter *RateLimiter
	ops     *telemetry.Operations
	control pauseController

	router http.Handler
}

// New constructs a configured HTTP handler tree.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	srv := &Server{
		state:   cfg.State,
		journal: cfg.Journal,
		pauses:  cfg.Pauses,
		logger:  logger.With("component", "server"),
		now:     now,
		tokens:  append([]string(nil), cfg.APITokens...),
		limiter: NewRateLimiter(cfg.RateLimit),
		ops:     telemetry.NewOperations(cfg.TracerProvider, cfg.MeterProvider),
	}
	if ctl, ok := cfg.Pauses.(pauseController); ok {
		srv.control = ctl
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Use(s.authenticate)
		api.Use(limitBody)

		api.Post("/market/init", s.initMarket)
		api.Get("/market", s.getMarket)

		api.Post("/pairs", s.createPair)
		api.Get("/pairs", s.listPairs)
		api.Get("/pairs/{loan}/{collateral}", s.getPair)

		api.Post("/offers", s.createOffer)
		api.Post("/offers/cancel", s.cancelOffer)
		api.Get("/offers", s.listOffers)
		api.Get("/offers/{address}", s.getOffer)

		api.Post("/loans/take", s.takeLoan)
		api.Post("/loans/repay", s.repayLoan)
		api.Post("/loans/request-repayment", s.requestRepayment)
		api.Post("/loans/liquidate", s.liquidateLoan)
		api.Get("/loans", s.listLoans)
		api.Get("/loans/{address}", s.getLoan)
		api.Get("/loans/{address}/quote", s.quoteLoan)

		api.Get("/accounts/{address}/balances/{asset}", s.getBalance)
		api.Get("/events", s.listEvents)

		api.Get("/admin/pauses/{module}", s.getPause)
		api.Put("/admin/pauses/{module}", s.setPause)
	})

	return otelhttp.NewHandler(r, "lendingd")
}

func (s *Server) newEngine(tx *state.Tx, emitter events.Emitter) *lending.Engine {
	engine := lending.NewEngine()
	engine.SetState(tx)
	engine.SetEmitter(emitter)
	engine.SetPauses(s.pauses)
	engine.SetNowFunc(s.now)
	return engine
}

// execute runs fn as one atomic state transition, then journals the events it
// emitted. Failed transitions leave no state and publish nothing.
func (s *Server) execute(ctx context.Context, operation string, signer crypto.Address, fn func(engine *lending.Engine) error) error {
	start := time.Now()
	ctx, span := s.ops.Start(ctx, operation, signer.String())
	collector := &events.Collector{}
	err := s.state.Update(func(tx *state.Tx) error {
		return fn(s.newEngine(tx, collector))
	})
	metrics := observability.Lending()
	requestID := chimw.GetReqID(ctx)
	if err != nil {
		reason := failureName(err)
		s.ops.End(ctx, span, operation, reason, err, time.Since(start))
		metrics.ObserveOperation(operation, reason)
		s.logger.Warn("operation rejected",
			"op", operation,
			"signer", signer.String(),
			"code", reason,
			"requestid", requestID)
		return err
	}
	s.ops.End(ctx, span, operation, "", nil, time.Since(start))
	metrics.ObserveOperation(operation, "")
	published := collector.Drain()
	s.logger.Info("operation committed",
		"op", operation,
		"signer", signer.String(),
		"events", len(published),
		"requestid", requestID)
	for _, evt := range published {
		observability.Events().Record(evt.Type)
	}
	if s.journal != nil {
		if _, jerr := s.journal.Append(ctx, requestID, published); jerr != nil {
			s.logger.Error("journal append failed", "operation", operation, "error", jerr)
		}
	}
	s.refreshBook()
	return nil
}

func (s *Server) view(fn func(tx *state.Tx, engine *lending.Engine) error) error {
	return s.state.View(func(tx *state.Tx) error {
		return fn(tx, s.newEngine(tx, nil))
	})
}

func (s *Server) refreshBook() {
	err := s.state.View(func(tx *state.Tx) error {
		offers, err := tx.Offers()
		if err != nil {
			return err
		}
		open := 0
		for _, offer := range offers {
			if offer.IsActive {
				open++
			}
		}
		loans, err := tx.Loans()
		if err != nil {
			return err
		}
		observability.Lending().SetBook(open, len(loans))
		return nil
	})
	if err != nil {
		s.logger.Warn("refresh book gauges", "error", err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
