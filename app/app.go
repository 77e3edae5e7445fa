package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"bestelling-engine/app/controller"
	"bestelling-engine/app/router"
	"bestelling-engine/config"
	"bestelling-engine/db"
	"bestelling-engine/mutation"
	"bestelling-engine/plugin"
	"bestelling-engine/pricing"
	"bestelling-engine/repository"
	"bestelling-engine/service"
	"bestelling-engine/utils"
	"bestelling-engine/wake"
)

var logger = utils.NewLogger("app")

// App holds every long-lived component, built once from the configuration.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Store       *repository.Store
	Queue       *mutation.Queue
	Processor   *mutation.Processor
	Maintenance *mutation.Maintenance
	Payments    service.PaymentProviderInterface

	wake     wake.Channel
	notifier service.NotifierInterface
}

// Initialize initializes the application
func Initialize(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize database connection
	database, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := repository.NewStore()
	if err := store.Counter.Ensure(ctx, database, cfg.OrderNumberStart); err != nil {
		_ = database.Close()
		return nil, err
	}

	engine, err := pricing.NewEngine(cfg.PricingConfig)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: database, Store: store}

	// Wake channel: Redis when processes are split, in-process otherwise
	if cfg.RedisAddr != "" {
		a.wake, err = wake.NewRedis(ctx, cfg.RedisAddr, wake.DefaultRedisChannel)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
	} else {
		a.wake = wake.NewLocal()
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.notifier = service.NewKafkaNotifier(service.NewKafkaWriter(cfg.KafkaBrokers, cfg.NotifyTopic))
		logger.Info().Msgf("✅ Notifications go to Kafka topic %s", cfg.NotifyTopic)
	} else {
		a.notifier = service.LogNotifier{}
		logger.Warn().Msg("⚠️ KAFKA_BROKERS not set, notifications are only logged")
	}

	if cfg.PaymentAPIURL != "" {
		a.Payments = service.NewPaymentProvider(cfg.PaymentAPIURL, nil)
	} else {
		logger.Warn().Msg("⚠️ PAYMENT_API_URL not set, orders are paid by bank transfer only")
	}

	a.Queue = mutation.NewQueue(database, store, a.wake)
	a.Maintenance = mutation.NewMaintenance(database, store, cfg.Retention)
	a.Processor = mutation.NewProcessor(mutation.Deps{
		DB:       database,
		Store:    store,
		Plugins:  plugin.NewRegistry(store, engine),
		Engine:   engine,
		Payments: a.Payments,
		Notifier: a.notifier,
		Alerter:  service.NewAlerter(a.notifier, cfg.OperatorEmail, service.DefaultAlertInterval),
		Wake:     a.wake,

		Maintenance: a.Maintenance,
	}, mutation.Settings{
		PollInterval:      cfg.PollInterval,
		StoragePause:      cfg.StoragePause,
		ReservationExpiry: cfg.ReservationExpiry,
		UmbrellaSellerID:  cfg.UmbrellaSellerID,
		ReturnURL:         cfg.PaymentReturnURL,
		Currency:          engine.Config().Currency,
	})

	return a, nil
}

// Router builds the HTTP surface on top of the queue.
func (a *App) Router() *echo.Echo {
	controllers := &router.Controllers{
		Basket:  controller.NewBasketController(a.Queue, a.Store.Baskets, a.DB),
		Order:   controller.NewOrderController(a.Queue, a.Store, a.DB),
		Payment: controller.NewPaymentController(a.Queue, a.Payments),
		Health:  controller.NewHealthController(a.Queue, a.DB),
	}
	return router.SetupRoutes(controllers)
}

// Serve runs the HTTP server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	e := a.Router()
	server := &http.Server{Addr: a.Config.HTTPAddr, Handler: e, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("🚀 Server starting on %s", a.Config.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info().Msg("🛑 Server stopped")
	return nil
}

// Close releases every connection held by the app.
func (a *App) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.wake != nil {
		errs = append(errs, a.wake.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
