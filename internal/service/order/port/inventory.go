package port

import (
	"context"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// InventoryClient 是库存服务的出站端口，本身不含业务逻辑。
type InventoryClient interface {
	// FetchDetails 批量查询商品的价格、名称和库存。
	// 响应中缺少任何一个请求的 ID 时返回 ProductNotFound。
	FetchDetails(ctx context.Context, productIDs []int64) (map[int64]domain.ProductSnapshot, error)

	// ReduceStock 一次网络往返扣减整单库存。
	// 商品不存在时返回 ProductNotFound，其余失败原样返回，由调用方归类。
	ReduceStock(ctx context.Context, batch []domain.StockReservation) error
}

// CatalogCache 缓存商品的展示信息（名称、价格），只用于订单查询，不参与下单。
type CatalogCache interface {
	// Get 返回命中的商品和未命中的 ID
	Get(ctx context.Context, productIDs []int64) (map[int64]domain.ProductSnapshot, []int64, error)
	Put(ctx context.Context, products map[int64]domain.ProductSnapshot) error
}
