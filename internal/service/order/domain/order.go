// internal/service/order/domain/order.go
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TotalScale 是订单总价落库保留的小数位数，orders.total 列按它定义
const TotalScale = 6

// Order 是订单聚合的根实体，和它的订单行一起创建、一起持久化
type Order struct {
	ID        uint64
	UserID    int64
	Status    Status
	Total     decimal.Decimal
	Lines     []OrderLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderLine 只属于一个 Order。价格只在下单时用于计算总价和通知，不落库。
type OrderLine struct {
	ID        uint64
	OrderID   uint64
	ProductID int64
	Quantity  int
}

// NewOrder 在库存预占成功之后组装待持久化的订单
func NewOrder(userID int64, status Status, total decimal.Decimal, items []LineItemRequest) (*Order, error) {
	if len(items) == 0 {
		return nil, NewError(KindValidation, "Order must contain at least one item.")
	}
	if !status.Valid() {
		return nil, NewError(KindValidation, "Status must only be: PENDING or COMPLETED.")
	}

	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	now := time.Now()
	return &Order{
		UserID:    userID,
		Status:    status,
		Total:     total,
		Lines:     lines,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ChangeStatus 更新订单状态，空字符串表示保留原状态
func (o *Order) ChangeStatus(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

// ProductIDs 按订单行顺序返回去重后的商品 ID
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Lines))
	seen := make(map[int64]struct{}, len(o.Lines))
	for _, line := range o.Lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
