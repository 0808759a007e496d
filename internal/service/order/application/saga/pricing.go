package saga

import (
	"context"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// PricingResult 总价和通知用的逐行快照在同一次遍历中产生
type PricingResult struct {
	Total decimal.Decimal
	Items []domain.NotificationItem
}

// PriceOrder 校验库存并计算总价，不做 I/O。
// 同一商品出现在多行时按累计数量校验库存。
func PriceOrder(items []domain.LineItemRequest, snapshots map[int64]domain.ProductSnapshot) (*PricingResult, error) {
	total := decimal.Zero
	lines := make([]domain.NotificationItem, 0, len(items))
	requested := make(map[int64]int, len(items))

	for _, item := range items {
		product, ok := snapshots[item.ProductID]
		if !ok {
			return nil, domain.Errorf(domain.KindProductNotFound, "Product not found for ID: %d", item.ProductID)
		}
		if product.Stock == nil {
			return nil, domain.Errorf(domain.KindStock, "Stock information not available for product with ID %d", item.ProductID)
		}
		// 先比较剩余库存再累加，累计数量不会溢出
		already := requested[item.ProductID]
		if item.Quantity > *product.Stock-already {
			want := decimal.NewFromInt(int64(already)).Add(decimal.NewFromInt(int64(item.Quantity)))
			return nil, domain.Errorf(domain.KindStock, "Not enough stock for product ID %d. Available: %d, Requested: %s",
				item.ProductID, *product.Stock, want)
		}
		if !product.Price.Equal(product.Price.Truncate(domain.TotalScale)) {
			return nil, domain.Errorf(domain.KindInternal, "Price of product ID %d has more than %d decimal places: %s",
				item.ProductID, domain.TotalScale, product.Price)
		}
		requested[item.ProductID] = already + item.Quantity

		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		lines = append(lines, domain.NotificationItem{
			ProductID:    item.ProductID,
			ProductName:  product.Name,
			ProductPrice: product.Price,
			Quantity:     item.Quantity,
		})
	}
	return &PricingResult{Total: total, Items: lines}, nil
}

type PricingHandler struct {
	NextHandler
}

func NewPricingHandler() *PricingHandler {
	return &PricingHandler{}
}

func (h *PricingHandler) Handle(orderCtx *OrderContext) error {
	err := orderCtx.step(domain.SagaPricingAndStockCheck, "saga.PricingAndStockCheck", func(_ context.Context, span trace.Span) error {
		result, err := PriceOrder(orderCtx.Request.Items, orderCtx.Snapshots)
		if err != nil {
			return err
		}
		orderCtx.Pricing = result
		span.SetAttributes(attribute.String("order.total", result.Total.String()))
		return nil
	})
	if err != nil {
		return err
	}
	return h.executeNext(orderCtx)
}
