package port

import (
	"context"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// SagaObserver 订阅 Saga 的状态迁移。实现不能阻塞太久，Saga 会同步调用。
type SagaObserver interface {
	OnTransition(ctx context.Context, event domain.SagaEvent)
}
