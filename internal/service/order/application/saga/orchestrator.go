package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/metrics"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/port"
)

// Timeouts 每个阻塞调用都有上限，超时按失败处理
type Timeouts struct {
	Inventory time.Duration
	Persist   time.Duration
	Publish   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Inventory: 3 * time.Second,
		Persist:   5 * time.Second,
		Publish:   3 * time.Second,
	}
}

// Orchestrator 编排订单创建 Saga:
// 校验 -> 拉取商品 -> 计价与库存校验 -> 扣减库存 -> 持久化 -> 通知。
// 只有扣减成功之后的失败才会触发库存回滚。
type Orchestrator struct {
	inventory   port.InventoryClient
	repo        domain.OrderRepository
	compensator port.CompensationPublisher
	notifier    port.NotificationPublisher

	validator *Validator
	tracer    trace.Tracer
	timeouts  Timeouts
	observers []port.SagaObserver
}

type Option func(*Orchestrator)

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

func WithRules(rules *RuleSet) Option {
	return func(o *Orchestrator) { o.validator = NewValidator(rules) }
}

func WithObserver(observer port.SagaObserver) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, observer) }
}

func NewOrchestrator(
	inventory port.InventoryClient,
	repo domain.OrderRepository,
	compensator port.CompensationPublisher,
	notifier port.NotificationPublisher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		inventory:   inventory,
		repo:        repo,
		compensator: compensator,
		notifier:    notifier,
		validator:   NewValidator(nil),
		tracer:      otel.Tracer("order-service/saga"),
		timeouts:    DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateOrder 返回已提交的订单，或者带分类的 *domain.Error，不会出现部分成功。
func (o *Orchestrator) CreateOrder(ctx context.Context, req *domain.OrderRequest) (*domain.Order, error) {
	sagaID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "saga.CreateOrder", trace.WithAttributes(attribute.String("saga.id", sagaID)))
	defer span.End()
	start := time.Now()

	orderCtx := &OrderContext{
		Ctx:     ctx,
		SagaID:  sagaID,
		Tracer:  o.tracer,
		Request: req,
		observe: o.broadcast,
	}

	if err := o.buildChain().Handle(orderCtx); err != nil {
		err = asDomainError(err)
		if orderCtx.HasCompensations() {
			orderCtx.enter(domain.SagaCompensating)
			orderCtx.TriggerCompensation(orderCtx.Ctx)
		}
		orderCtx.transition(domain.SagaFailed, err)

		kind := domain.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		metrics.SagaRuns.WithLabelValues(string(domain.SagaFailed), string(kind)).Inc()
		metrics.SagaDuration.WithLabelValues(string(domain.SagaFailed)).Observe(time.Since(start).Seconds())
		logger.Ctx(ctx).Warn().Err(err).Str("saga_id", sagaID).Str("kind", string(kind)).Msg("Order creation saga failed")
		return nil, err
	}

	orderCtx.transition(domain.SagaCompleted, nil)
	metrics.SagaRuns.WithLabelValues(string(domain.SagaCompleted), "").Inc()
	metrics.SagaDuration.WithLabelValues(string(domain.SagaCompleted)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("order.id", int64(orderCtx.Order.ID)))
	logger.Ctx(ctx).Info().Str("saga_id", sagaID).Uint64("order", orderCtx.Order.ID).
		Str("total", orderCtx.Order.Total.String()).Msg("Order creation saga completed")
	return orderCtx.Order, nil
}

func (o *Orchestrator) buildChain() Handler {
	chain := NewValidationHandler(o.validator)
	chain.
		SetNext(NewFetchDetailsHandler(o.inventory, o.timeouts.Inventory)).
		SetNext(NewPricingHandler()).
		SetNext(NewReserveStockHandler(
			NewReservationCoordinator(o.inventory, o.timeouts.Inventory),
			o.compensator,
			o.timeouts.Publish,
		)).
		SetNext(NewCreateOrderHandler(o.repo, o.timeouts.Persist)).
		SetNext(NewNotificationHandler(o.notifier, o.timeouts.Publish))
	return chain
}

func (o *Orchestrator) broadcast(ctx context.Context, event domain.SagaEvent) {
	for _, observer := range o.observers {
		observer.OnTransition(ctx, event)
	}
}

func asDomainError(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.WrapError(domain.KindInternal, err, "An error occurred while creating the order")
}

// LogObserver 把每次状态迁移写入日志
type LogObserver struct{}

func (LogObserver) OnTransition(ctx context.Context, event domain.SagaEvent) {
	e := logger.Ctx(ctx).Debug()
	if event.State.Terminal() {
		e = logger.Ctx(ctx).Info()
	}
	e.Str("saga_id", event.SagaID).
		Str("state", string(event.State)).
		Str("kind", string(event.Kind)).
		Uint64("order", event.OrderID).
		Msg("saga transition")
}
