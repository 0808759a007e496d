package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/port"
)

// FetchDetailsHandler 一次性拉取本单所有商品的权威价格和库存
type FetchDetailsHandler struct {
	NextHandler
	inventory port.InventoryClient
	timeout   time.Duration
}

func NewFetchDetailsHandler(inventory port.InventoryClient, timeout time.Duration) *FetchDetailsHandler {
	return &FetchDetailsHandler{inventory: inventory, timeout: timeout}
}

func (h *FetchDetailsHandler) Handle(orderCtx *OrderContext) error {
	err := orderCtx.step(domain.SagaFetchingDetails, "saga.FetchDetails", func(ctx context.Context, span trace.Span) error {
		ids := orderCtx.Request.ProductIDs()
		span.SetAttributes(attribute.Int64Slice("product.ids", ids))

		callCtx, cancel := withTimeout(ctx, h.timeout)
		defer cancel()

		snapshots, err := h.inventory.FetchDetails(callCtx, ids)
		if err != nil {
			if domain.IsKind(err, domain.KindProductNotFound) {
				return err
			}
			return domain.WrapError(domain.KindReservationFailed, err, "Error while fetching product details")
		}
		for _, id := range ids {
			if _, ok := snapshots[id]; !ok {
				return domain.Errorf(domain.KindProductNotFound, "Product not found for ID: %d", id)
			}
		}
		orderCtx.Snapshots = snapshots
		return nil
	})
	if err != nil {
		return err
	}
	return h.executeNext(orderCtx)
}
