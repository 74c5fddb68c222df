package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/config"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/observability"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Ledger      services.StockLedger
	Reservation services.ReservationCoordinator
	Orders      services.OrderService
	Metrics     services.MetricsReconciler
	System      services.SystemService
}

// Container wires repositories, services and the notification worker for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Dispatcher   *services.NotificationDispatcher
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	sinks   []services.NotificationSink
	archive services.ReportArchiver
	meter   metric.Meter
	clock   func() time.Time
	version string
}

// WithLogger sets the base logger each service derives its component logger from.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotificationSinks adds delivery sinks next to the in-app store sink.
func WithNotificationSinks(sinks ...services.NotificationSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithReportArchive enables archiving of consistency reports.
func WithReportArchive(archive services.ReportArchiver) Option {
	return func(o *options) { o.archive = archive }
}

func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithVersion(version string) Option {
	return func(o *options) { o.version = version }
}

// NewContainer constructs the runtime dependencies. The dispatcher is started before return;
// Close stops it and then closes the registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	dispatcher, err := buildDispatcher(reg, cfg.Notifications, o)
	if err != nil {
		return nil, err
	}
	svc, err := buildServices(reg, dispatcher, o)
	if err != nil {
		return nil, err
	}
	dispatcher.Start()

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Dispatcher:   dispatcher,
	}, nil
}

// Close drains pending notifications, then releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop notification dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildDispatcher(reg repositories.Registry, cfg config.NotificationConfig, o options) (*services.NotificationDispatcher, error) {
	sinks := make([]services.NotificationSink, 0, len(o.sinks)+1)
	if cfg.HasSink(config.SinkFirestore) || len(cfg.Sinks) == 0 {
		store, err := services.NewStoreSink(reg.Notifications())
		if err != nil {
			return nil, fmt.Errorf("build store sink: %w", err)
		}
		sinks = append(sinks, store)
	}
	sinks = append(sinks, o.sinks...)

	dispatcher, err := services.NewNotificationDispatcher(services.NotificationDispatcherDeps{
		Sinks:           sinks,
		QueueSize:       cfg.QueueSize,
		Workers:         cfg.Workers,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Meter:           o.meter,
		Clock:           o.clock,
		Logger:          observability.ServiceLogger(o.logger, "notifications"),
	})
	if err != nil {
		return nil, fmt.Errorf("build notification dispatcher: %w", err)
	}
	return dispatcher, nil
}

func buildServices(reg repositories.Registry, notifier services.Notifier, o options) (Services, error) {
	var svc Services
	var err error

	svc.Ledger, err = services.NewStockLedger(services.StockLedgerDeps{
		Ledger:   reg.Ledger(),
		Products: reg.Products(),
		Clock:    o.clock,
		Logger:   observability.ServiceLogger(o.logger, "stock_ledger"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger: %w", err)
	}

	svc.Reservation, err = services.NewReservationCoordinator(services.ReservationCoordinatorDeps{
		Ledger: reg.Ledger(),
		Clock:  o.clock,
		Logger: observability.ServiceLogger(o.logger, "reservation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reservation coordinator: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Ledger:      reg.Ledger(),
		Reservation: svc.Reservation,
		Notifier:    notifier,
		Clock:       o.clock,
		Logger:      observability.ServiceLogger(o.logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	svc.Metrics, err = services.NewMetricsReconciler(services.MetricsReconcilerDeps{
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Sellers:  reg.Sellers(),
		Archive:  o.archive,
		Clock:    o.clock,
		Logger:   observability.ServiceLogger(o.logger, "metrics"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build metrics reconciler: %w", err)
	}

	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            o.clock,
		Version:          o.version,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	return svc, nil
}
