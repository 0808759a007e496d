package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// CreateOrderHandler 是唯一会写订单数据的步骤，必须排在库存扣减之后
type CreateOrderHandler struct {
	NextHandler
	repo    domain.OrderRepository
	timeout time.Duration
}

func NewCreateOrderHandler(repo domain.OrderRepository, timeout time.Duration) *CreateOrderHandler {
	return &CreateOrderHandler{repo: repo, timeout: timeout}
}

func (h *CreateOrderHandler) Handle(orderCtx *OrderContext) error {
	err := orderCtx.step(domain.SagaPersisting, "saga.PersistOrder", func(ctx context.Context, span trace.Span) error {
		order, err := domain.NewOrder(*orderCtx.Request.UserID, orderCtx.Status, orderCtx.Pricing.Total, orderCtx.Request.Items)
		if err != nil {
			return err
		}

		callCtx, cancel := withTimeout(ctx, h.timeout)
		defer cancel()

		saved, err := h.repo.Create(callCtx, order)
		if err != nil {
			return domain.WrapError(domain.KindPersistenceFailed, err, "An error occurred while creating the order")
		}
		orderCtx.Order = saved
		span.SetAttributes(attribute.Int64("order.id", int64(saved.ID)))
		span.AddEvent("Order and lines committed")
		return nil
	})
	if err != nil {
		return err
	}
	return h.executeNext(orderCtx)
}
