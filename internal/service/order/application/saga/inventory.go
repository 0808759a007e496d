package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/metrics"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/port"
)

// ReservationCoordinator 对整单发起一次批量扣减，只有"全部成功"和"失败"两种结果
type ReservationCoordinator struct {
	inventory port.InventoryClient
	timeout   time.Duration
}

func NewReservationCoordinator(inventory port.InventoryClient, timeout time.Duration) *ReservationCoordinator {
	return &ReservationCoordinator{inventory: inventory, timeout: timeout}
}

// Reserve 商品不存在保持 ProductNotFound，其他失败（含超时）一律归为 ReservationFailed
func (c *ReservationCoordinator) Reserve(ctx context.Context, batch []domain.StockReservation) error {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	err := c.inventory.ReduceStock(ctx, batch)
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.KindProductNotFound) {
		return err
	}
	return domain.WrapError(domain.KindReservationFailed, err, "Error while reducing product stock")
}

// ReserveStockHandler 扣减成功后注册库存回滚补偿
type ReserveStockHandler struct {
	NextHandler
	coordinator    *ReservationCoordinator
	compensator    port.CompensationPublisher
	publishTimeout time.Duration
}

func NewReserveStockHandler(coordinator *ReservationCoordinator, compensator port.CompensationPublisher, publishTimeout time.Duration) *ReserveStockHandler {
	return &ReserveStockHandler{coordinator: coordinator, compensator: compensator, publishTimeout: publishTimeout}
}

func (h *ReserveStockHandler) Handle(orderCtx *OrderContext) error {
	if err := orderCtx.Ctx.Err(); err != nil {
		orderCtx.enter(domain.SagaReservingStock)
		return domain.WrapError(domain.KindReservationFailed, err, "Request cancelled before stock reservation")
	}
	// 扣减请求发出后调用方取消也不能中断 Saga，否则库存已扣却没有补偿路径。
	// 之后每一步仍然受各自的超时限制。
	orderCtx.Ctx = context.WithoutCancel(orderCtx.Ctx)

	err := orderCtx.step(domain.SagaReservingStock, "saga.ReserveStock", func(ctx context.Context, span trace.Span) error {
		batch := orderCtx.Request.ReservationBatch()
		span.SetAttributes(attribute.Int("reservation.lines", len(batch)))
		if err := h.coordinator.Reserve(ctx, batch); err != nil {
			return err
		}
		span.AddEvent("All items reserved")
		return nil
	})
	if err != nil {
		return err
	}

	lines := append([]domain.LineItemRequest(nil), orderCtx.Request.Items...)
	orderCtx.AddCompensation(func(ctx context.Context) {
		h.rollback(ctx, orderCtx, lines)
	})
	return h.executeNext(orderCtx)
}

// rollback 每个订单行发一条回滚消息。发送失败只记录，不重试，需要人工对账。
func (h *ReserveStockHandler) rollback(ctx context.Context, orderCtx *OrderContext, lines []domain.LineItemRequest) {
	ctx, span := orderCtx.Tracer.Start(ctx, "saga.compensation.RollbackStock")
	defer span.End()
	span.SetAttributes(attribute.Int("rollback.lines", len(lines)))

	for _, line := range lines {
		msg := domain.CompensationMessage{ProductID: line.ProductID, Quantity: line.Quantity}

		pubCtx, cancel := withTimeout(ctx, h.publishTimeout)
		err := h.compensator.PublishRollback(pubCtx, msg)
		cancel()

		if err != nil {
			metrics.Compensations.WithLabelValues("failed").Inc()
			metrics.PublishFailures.WithLabelValues(metrics.ChannelCompensation).Inc()
			span.RecordError(err, trace.WithAttributes(attribute.Bool("critical.error", true)))
			logger.Ctx(ctx).Error().Err(err).
				Str("saga_id", orderCtx.SagaID).
				Int64("product_id", msg.ProductID).
				Int("quantity", msg.Quantity).
				Msg("CRITICAL: failed to publish stock rollback, manual reconciliation required")
			continue
		}
		metrics.Compensations.WithLabelValues("published").Inc()
		logger.Ctx(ctx).Info().
			Str("saga_id", orderCtx.SagaID).
			Int64("product_id", msg.ProductID).
			Int("quantity", msg.Quantity).
			Msg("Stock rollback published")
	}
}
