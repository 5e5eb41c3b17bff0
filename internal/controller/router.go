package controller

import (
	"time"

	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/config"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/kioskpos/internal/middleware"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Machine     PaymentMachine
	Dispatcher  *service.Dispatcher
	Catalog     *service.MethodCatalog
	Events      *EventBroadcaster
	Journal     payment.Repository
	ListLimit   int
	Breakers    BreakerReporter
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	CORSConfig  config.CORSConfig
	Logger      zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.Pool, deps.RedisClient, deps.Breakers)
	paymentH := NewPaymentController(deps.Machine, deps.Dispatcher, deps.Catalog)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1/payment", func(r chi.Router) {
		// The event stream is long-lived and stays outside the request timeout.
		if deps.Events != nil {
			r.Get("/events", deps.Events.Stream)
		}

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))

			r.Get("/methods", paymentH.ListMethods)
			r.Post("/", paymentH.StartPayment)
			r.Get("/", paymentH.GetPayment)
			r.Post("/status", paymentH.PushStatus)
			r.Post("/cancel", paymentH.CancelPayment)
			r.Post("/expire", paymentH.ExpirePayment)
			r.Post("/retry", paymentH.RetryPayment)
			r.Post("/reset", paymentH.ResetPayment)
			r.Get("/qrcode.png", paymentH.QRCode)

			if deps.Journal != nil {
				journalH := NewJournalController(deps.Journal, deps.ListLimit)
				r.Get("/attempts", journalH.ListAttempts)
				r.Get("/attempts/totals", journalH.Totals)
			}
		})
	})

	return r
}
