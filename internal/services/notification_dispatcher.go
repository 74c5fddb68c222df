package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

const (
	defaultNotificationQueueSize = 256
	defaultNotificationWorkers   = 2
	defaultDeliveryTimeout       = 5 * time.Second

	notificationIDPrefix = "ntf_"
)

// NotificationDispatcherDeps configures the asynchronous notification worker pool.
type NotificationDispatcherDeps struct {
	Sinks           []NotificationSink
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	Meter           metric.Meter
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type queuedNotification struct {
	ctx          context.Context
	notification domain.Notification
}

// NotificationDispatcher decouples transitions from delivery: Notify only enqueues, and
// workers fan each notification out to every sink.
type NotificationDispatcher struct {
	sinks   []NotificationSink
	workers int
	timeout time.Duration
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)

	queue chan queuedNotification
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool

	queued    metric.Int64Counter
	dropped   metric.Int64Counter
	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

var _ Notifier = (*NotificationDispatcher)(nil)

func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*NotificationDispatcher, error) {
	sinks := make([]NotificationSink, 0, len(deps.Sinks))
	for _, sink := range deps.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return nil, errors.New("notification dispatcher: at least one sink is required")
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = defaultNotificationQueueSize
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	timeout := deps.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter("github.com/add-to-Cart/porma-marketplace/internal/services")
	}

	d := &NotificationDispatcher{
		sinks:   sinks,
		workers: workers,
		timeout: timeout,
		clock:   func() time.Time { return clock().UTC() },
		newID:   idGen,
		logger:  logger,
		queue:   make(chan queuedNotification, queueSize),
	}

	var err error
	if d.queued, err = meter.Int64Counter("notifications.queued"); err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	if d.dropped, err = meter.Int64Counter("notifications.dropped"); err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	if d.delivered, err = meter.Int64Counter("notifications.delivered"); err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	if d.failed, err = meter.Int64Counter("notifications.failed"); err != nil {
		return nil, fmt.Errorf("notification dispatcher: %w", err)
	}
	return d, nil
}

// Start launches the workers. Calling it twice is a no-op.
func (d *NotificationDispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Stop closes the queue and waits for workers to drain it or for ctx to expire.
func (d *NotificationDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification dispatcher: drain interrupted: %w", ctx.Err())
	}
}

// Notify enqueues req. A full queue or a stopped dispatcher drops the notification and logs it.
func (d *NotificationDispatcher) Notify(ctx context.Context, req NotificationRequest) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		d.logger(ctx, "notification_dropped", map[string]any{"type": string(req.Type), "reason": "missing user id"})
		return
	}
	notification := domain.Notification{
		ID:        notificationIDPrefix + d.newID(),
		UserID:    userID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      maps.Clone(req.Data),
		CreatedAt: d.clock(),
	}
	typeAttr := metric.WithAttributes(attribute.String("type", string(req.Type)))

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.dropped.Add(ctx, 1, typeAttr)
		d.logger(ctx, "notification_dropped", map[string]any{"notificationId": notification.ID, "type": string(req.Type), "reason": "dispatcher stopped"})
		return
	}
	select {
	case d.queue <- queuedNotification{ctx: context.WithoutCancel(ctx), notification: notification}:
		d.queued.Add(ctx, 1, typeAttr)
	default:
		d.dropped.Add(ctx, 1, typeAttr)
		d.logger(ctx, "notification_dropped", map[string]any{"notificationId": notification.ID, "type": string(req.Type), "reason": "queue full"})
	}
}

func (d *NotificationDispatcher) work() {
	defer d.wg.Done()
	for item := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(item.ctx, sink, item.notification)
		}
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, sink NotificationSink, n domain.Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	attrs := metric.WithAttributes(attribute.String("sink", sink.Name()), attribute.String("type", string(n.Type)))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panic: %v", r)
			}
		}()
		return sink.Deliver(ctx, n)
	}()
	if err != nil {
		d.failed.Add(ctx, 1, attrs)
		d.logger(ctx, "notification_delivery_failed", map[string]any{
			"notificationId": n.ID,
			"userId":         n.UserID,
			"type":           string(n.Type),
			"sink":           sink.Name(),
			"error":          err.Error(),
		})
		return
	}
	d.delivered.Add(ctx, 1, attrs)
}

// StoreSink writes notifications to the in-app inbox collection.
type StoreSink struct {
	repo repositories.NotificationRepository
}

func NewStoreSink(repo repositories.NotificationRepository) (*StoreSink, error) {
	if repo == nil {
		return nil, errors.New("store sink: notification repository is required")
	}
	return &StoreSink{repo: repo}, nil
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n domain.Notification) error {
	return s.repo.Insert(ctx, n)
}
