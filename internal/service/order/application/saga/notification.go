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

// NotificationHandler 是 Saga 的最后一步，订单已经提交，发送失败不影响结果。
type NotificationHandler struct {
	NextHandler
	notifier port.NotificationPublisher
	timeout  time.Duration
}

func NewNotificationHandler(notifier port.NotificationPublisher, timeout time.Duration) *NotificationHandler {
	return &NotificationHandler{notifier: notifier, timeout: timeout}
}

func (h *NotificationHandler) Handle(orderCtx *OrderContext) error {
	// 错误已经记录在 span 和日志里，这里不向上返回
	_ = orderCtx.step(domain.SagaNotifyingSuccess, "saga.Notification", func(ctx context.Context, span trace.Span) error {
		msg := domain.NotificationMessage{
			UserID:    orderCtx.Order.UserID,
			UserEmail: orderCtx.Request.UserEmail,
			Total:     orderCtx.Order.Total,
			Items:     orderCtx.Pricing.Items,
		}
		span.SetAttributes(attribute.Int("notification.items", len(msg.Items)))

		callCtx, cancel := withTimeout(ctx, h.timeout)
		defer cancel()

		if err := h.notifier.PublishOrderConfirmation(callCtx, msg); err != nil {
			metrics.PublishFailures.WithLabelValues(metrics.ChannelNotification).Inc()
			logger.Ctx(ctx).Warn().Err(err).
				Str("saga_id", orderCtx.SagaID).
				Uint64("order", orderCtx.Order.ID).
				Msg("failed to publish order confirmation")
			return domain.WrapError(domain.KindPublishFailed, err, "Failed to publish order confirmation")
		}
		span.AddEvent("Order confirmation published")
		return nil
	})

	return h.executeNext(orderCtx)
}
