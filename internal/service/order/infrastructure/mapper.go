package infrastructure

import (
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	lines := make([]domain.OrderLine, 0, len(model.Items))
	for i := range model.Items {
		lines = append(lines, ToDomainLine(&model.Items[i]))
	}
	return &domain.Order{
		ID:        model.ID,
		UserID:    model.UserID,
		Status:    domain.Status(model.Status),
		Total:     model.Total,
		Lines:     lines,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func ToDomainLine(model *OrderItemModel) domain.OrderLine {
	return domain.OrderLine{
		ID:        model.ID,
		OrderID:   model.OrderID,
		ProductID: model.ProductID,
		Quantity:  model.Quantity,
	}
}

// FromDomainOrder 用于插入，ID 由数据库生成
func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	items := make([]OrderItemModel, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, OrderItemModel{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return &OrderModel{
		UserID:    order.UserID,
		Status:    string(order.Status),
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
		Items:     items,
	}
}
