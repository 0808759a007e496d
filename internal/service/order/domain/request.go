package domain

import "github.com/shopspring/decimal"

// OrderRequest 是创建订单的输入，只在一次请求内存在
type OrderRequest struct {
	UserID    *int64
	UserEmail string
	Status    string
	Items     []LineItemRequest
}

type LineItemRequest struct {
	ProductID int64
	Quantity  int
}

// ProductIDs 按请求顺序去重
func (r *OrderRequest) ProductIDs() []int64 {
	ids := make([]int64, 0, len(r.Items))
	seen := make(map[int64]struct{}, len(r.Items))
	for _, item := range r.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ReservationBatch 把全部订单行合成一次批量扣减
func (r *OrderRequest) ReservationBatch() []StockReservation {
	batch := make([]StockReservation, 0, len(r.Items))
	for _, item := range r.Items {
		batch = append(batch, StockReservation{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return batch
}

// ProductSnapshot 是库存服务返回的权威数据，一次 Saga 只拉取一次
type ProductSnapshot struct {
	ID          int64
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       *int // nil 表示库存信息不可用
}

type StockReservation struct {
	ProductID int64
	Quantity  int
}
