package port

import (
	"context"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// NotificationPublisher 是订单确认消息的出站端口。
type NotificationPublisher interface {
	// PublishOrderConfirmation 在订单提交之后调用且只调用一次。
	PublishOrderConfirmation(ctx context.Context, msg domain.NotificationMessage) error
}

// CompensationPublisher 是库存回滚消息的出站端口。
type CompensationPublisher interface {
	// PublishRollback 每个订单行调用一次，只在库存已扣减、后续步骤失败时使用。
	PublishRollback(ctx context.Context, msg domain.CompensationMessage) error
}
