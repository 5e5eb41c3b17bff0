package bootstrap

import (
	"fmt"
	"net/http"

	"github.com/cassiomorais/kioskpos/internal/controller"
	"github.com/cassiomorais/kioskpos/internal/domain/payment"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/backend"
	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/kioskpos/internal/infrastructure/redis"
	"github.com/cassiomorais/kioskpos/internal/providers"
	"github.com/cassiomorais/kioskpos/internal/repository/postgres"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/cassiomorais/kioskpos/pkg/retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Kiosk is the wired payment core of one kiosk.
type Kiosk struct {
	Terminal   *providers.BreakerTerminal
	Backend    *backend.Client
	Machine    *service.PaymentMachine
	Dispatcher *service.Dispatcher
	Catalog    *service.MethodCatalog
	Events     *controller.EventBroadcaster
	Journal    *service.Journal
	Repo       payment.Repository
	Publisher  *infraRedis.StatePublisher
	Lease      *infraRedis.TerminalLease

	unsubscribe []func()
}

// NewKiosk builds the payment core from the application config.
func NewKiosk(app *App) (*Kiosk, error) {
	cfg := app.Config
	logger := app.Logger
	transport := otelhttp.NewTransport(http.DefaultTransport)

	breaker := providers.BreakerSettings{
		MaxRequests:   cfg.Terminal.Breaker.MaxRequests,
		Interval:      cfg.Terminal.Breaker.Interval,
		Timeout:       cfg.Terminal.Breaker.Timeout,
		MinRequests:   cfg.Terminal.Breaker.MinRequests,
		FailureRatio:  cfg.Terminal.Breaker.FailureRatio,
		OnStateChange: app.Metrics.ObserveBreaker,
	}
	terminal, err := providers.NewTerminal(
		cfg.Terminal.Mode,
		cfg.Terminal.BaseURL,
		breaker,
		observability.WithComponent(logger, "terminal"),
		providers.WithHTTPTimeout(cfg.Terminal.Timeout),
		providers.WithTransport(transport),
	)
	if err != nil {
		return nil, fmt.Errorf("build terminal client: %w", err)
	}

	cart := backend.NewClient(
		cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithTransport(transport),
		backend.WithLogger(observability.WithComponent(logger, "backend")),
	)

	var stash service.AmountStash
	if cfg.Stash.Driver == "redis" {
		stash = infraRedis.NewAmountStash(app.Redis, cfg.Stash.Key, cfg.Stash.TTL)
	} else {
		stash = service.NewMemoryStash()
	}

	methods := payment.DefaultMethodTable()
	events := controller.NewEventBroadcaster(app.Metrics, observability.WithComponent(logger, "events"))

	dispatcher := service.NewDispatcher(cart, events,
		service.WithMaxRetries(cfg.Payment.MaxRetries),
		service.WithCartClearRetry(retry.Config{
			MaxAttempts:  uint(cfg.Payment.CartClearRetries),
			InitialDelay: cfg.Payment.CartClearRetryDelay,
			MaxDelay:     10 * cfg.Payment.CartClearRetryDelay,
		}),
		service.WithDispatcherMetrics(app.Metrics),
		service.WithDispatcherLogger(observability.WithComponent(logger, "dispatcher")),
	)

	machine := service.NewPaymentMachine(terminal, cart, stash, methods,
		service.WithWarmupDelay(cfg.Payment.WarmupDelay),
		service.WithPollInterval(cfg.Payment.PollInterval),
		service.WithQRTimeout(cfg.Payment.QRTimeout),
		service.WithResetCooldown(cfg.Payment.ResetCooldown),
		service.WithCancelTimeout(cfg.Payment.CancelTimeout),
		service.WithMaxPollFailures(cfg.Payment.MaxPollFailures),
		service.WithRetryPolicy(dispatcher),
		service.WithMetrics(app.Metrics),
		service.WithLogger(observability.WithComponent(logger, "payment")),
	)

	k := &Kiosk{
		Terminal:   terminal,
		Backend:    cart,
		Machine:    machine,
		Dispatcher: dispatcher,
		Catalog:    service.NewMethodCatalog(cart, methods, observability.WithComponent(logger, "checkout")),
		Events:     events,
	}
	k.unsubscribe = append(k.unsubscribe, machine.Subscribe(dispatcher))

	if app.Pool != nil {
		repo := postgres.NewAttemptRepository(app.Pool)
		k.Repo = repo
		k.Journal = service.NewJournal(repo, cfg.Journal.WriteTimeout, observability.WithComponent(logger, "journal"))
		k.unsubscribe = append(k.unsubscribe, machine.Subscribe(k.Journal))
	}

	if cfg.Redis.StreamEnabled {
		k.Publisher = infraRedis.NewStatePublisher(
			app.Redis,
			cfg.Redis.StateStream,
			cfg.Redis.StreamMaxLen,
			cfg.InstanceID,
			app.Metrics,
			observability.WithComponent(logger, "publisher"),
		)
		k.unsubscribe = append(k.unsubscribe, machine.Subscribe(k.Publisher))
	}

	if cfg.Redis.TerminalLease {
		k.Lease = infraRedis.NewTerminalLease(
			app.Redis,
			cfg.Terminal.BaseURL,
			cfg.InstanceID,
			cfg.Redis.LeaseTTL,
			observability.WithComponent(logger, "lease"),
		)
	}

	return k, nil
}

// Router builds the HTTP handler serving this kiosk.
func (k *Kiosk) Router(app *App) http.Handler {
	return controller.NewRouter(controller.RouterDeps{
		Pool:        app.Pool,
		RedisClient: app.Redis,
		Machine:     k.Machine,
		Dispatcher:  k.Dispatcher,
		Catalog:     k.Catalog,
		Events:      k.Events,
		Journal:     k.Repo,
		ListLimit:   app.Config.Journal.ListLimit,
		Breakers:    k.Terminal,
		Metrics:     app.Metrics,
		CORSConfig:  app.Config.Server.CORS,
		Logger:      observability.WithComponent(app.Logger, "http"),
	})
}

// Close stops the machine and waits for pending side effects.
func (k *Kiosk) Close() {
	k.Machine.Close()
	for _, un := range k.unsubscribe {
		un()
	}
	k.Dispatcher.Wait()
	if k.Journal != nil {
		k.Journal.Wait()
	}
	if k.Publisher != nil {
		k.Publisher.Close()
	}
}
