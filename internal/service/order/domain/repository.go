// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 在一个事务里写入订单和全部订单行，返回带 ID 的订单。
	// 要么全部可见，要么全部不可见。
	Create(ctx context.Context, order *Order) (*Order, error)

	FindByID(ctx context.Context, id uint64) (*Order, error)
	FindAll(ctx context.Context) ([]*Order, error)
	FindByUserID(ctx context.Context, userID int64) ([]*Order, error)

	// UpdateStatus 只修改状态字段
	UpdateStatus(ctx context.Context, id uint64, status Status) error

	FindLineByID(ctx context.Context, id uint64) (*OrderLine, error)
	FindAllLines(ctx context.Context) ([]OrderLine, error)
}
