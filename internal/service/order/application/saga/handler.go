package saga

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/metrics"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// OrderContext 在 Saga 流程中传递上下文数据。
// 每个步骤只读取前面步骤写入的字段。
type OrderContext struct {
	Ctx    context.Context
	SagaID string
	Tracer trace.Tracer

	Request   *domain.OrderRequest
	Status    domain.Status
	Snapshots map[int64]domain.ProductSnapshot
	Pricing   *PricingResult
	Order     *domain.Order

	state   domain.SagaState
	observe func(ctx context.Context, event domain.SagaEvent)

	compensations []func(ctx context.Context)
	compLock      sync.Mutex
}

// AddCompensation 补偿按注册的逆序执行
func (c *OrderContext) AddCompensation(comp func(ctx context.Context)) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]func(context.Context){comp}, c.compensations...)
}

func (c *OrderContext) HasCompensations() bool {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	return len(c.compensations) > 0
}

// TriggerCompensation 每个补偿只执行一次
func (c *OrderContext) TriggerCompensation(ctx context.Context) {
	c.compLock.Lock()
	comps := c.compensations
	c.compensations = nil
	c.compLock.Unlock()

	logger.Ctx(ctx).Warn().Str("saga_id", c.SagaID).Int("compensations", len(comps)).Msg("Executing compensation functions")
	for _, comp := range comps {
		comp(ctx)
	}
}

func (c *OrderContext) State() domain.SagaState {
	return c.state
}

func (c *OrderContext) enter(state domain.SagaState) {
	c.transition(state, nil)
}

func (c *OrderContext) transition(state domain.SagaState, err error) {
	c.state = state
	if c.observe == nil {
		return
	}
	event := domain.SagaEvent{SagaID: c.SagaID, State: state, At: time.Now()}
	if c.Request != nil && c.Request.UserID != nil {
		event.UserID = *c.Request.UserID
	}
	if c.Order != nil {
		event.OrderID = c.Order.ID
	}
	if err != nil {
		event.Kind = domain.KindOf(err)
		event.Message = domain.MessageOf(err)
	}
	c.observe(c.Ctx, event)
}

// step 进入状态、开启 span 并记录耗时。span 在进入下一步之前结束。
func (c *OrderContext) step(state domain.SagaState, spanName string, fn func(ctx context.Context, span trace.Span) error) error {
	c.enter(state)

	ctx, span := c.Tracer.Start(c.Ctx, spanName, trace.WithAttributes(attribute.String("saga.id", c.SagaID)))
	defer span.End()
	timer := prometheus.NewTimer(metrics.StepDuration.WithLabelValues(state.Step()))
	defer timer.ObserveDuration()

	if err := fn(ctx, span); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return err
	}
	return nil
}

// Handler 责任链中的一个步骤
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(orderCtx *OrderContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(orderCtx *OrderContext) error {
	if h.next != nil {
		return h.next.Handle(orderCtx)
	}
	return nil
}

// withTimeout timeout <= 0 表示不额外限制
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
