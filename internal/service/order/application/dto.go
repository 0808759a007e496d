// internal/service/order/application/dto.go
package application

import (
	"encoding/json"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// CreateOrderRequest 是创建订单用例的输入数据
type CreateOrderRequest struct {
	UserID     *int64            `json:"userId"`
	UserEmail  string            `json:"userEmail"`
	Status     string            `json:"status"`
	OrderItems []CreateOrderItem `json:"orderItems"`
}

type CreateOrderItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// ToDomain 转换为 Saga 的输入，不做校验
func (r *CreateOrderRequest) ToDomain() *domain.OrderRequest {
	items := make([]domain.LineItemRequest, 0, len(r.OrderItems))
	for _, item := range r.OrderItems {
		items = append(items, domain.LineItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return &domain.OrderRequest{
		UserID:    r.UserID,
		UserEmail: r.UserEmail,
		Status:    r.Status,
		Items:     items,
	}
}

// UpdateOrderRequest 状态为空时保留原状态
type UpdateOrderRequest struct {
	Status string `json:"status"`
}

type OrderDTO struct {
	ID            uint64         `json:"id"`
	UserID        int64          `json:"userId"`
	Status        string         `json:"status"`
	Total         json.Number    `json:"total"`
	OrderItemList []OrderItemDTO `json:"orderItemList"`
}

type OrderItemDTO struct {
	ID        uint64 `json:"id"`
	OrderID   uint64 `json:"orderId"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// UserOrderDTO 是用户订单列表的一项，订单行带上商品名称和当前价格
type UserOrderDTO struct {
	ID         uint64             `json:"id"`
	UserEmail  string             `json:"userEmail"`
	OrderTotal json.Number        `json:"orderTotal"`
	Status     string             `json:"status"`
	OrderItems []UserOrderItemDTO `json:"orderItems"`
}

type UserOrderItemDTO struct {
	ProductID    int64       `json:"productId"`
	ProductName  string      `json:"productName"`
	ProductPrice json.Number `json:"productPrice"`
	Quantity     int         `json:"quantity"`
}

func ToOrderDTO(order *domain.Order) OrderDTO {
	items := make([]OrderItemDTO, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, ToOrderItemDTO(line))
	}
	return OrderDTO{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Total:         json.Number(order.Total.String()),
		OrderItemList: items,
	}
}

func ToOrderItemDTO(line domain.OrderLine) OrderItemDTO {
	return OrderItemDTO{
		ID:        line.ID,
		OrderID:   line.OrderID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
	}
}

func toUserOrderDTO(order *domain.Order, email string, products map[int64]domain.ProductSnapshot) UserOrderDTO {
	items := make([]UserOrderItemDTO, 0, len(order.Lines))
	for _, line := range order.Lines {
		p := products[line.ProductID]
		items = append(items, UserOrderItemDTO{
			ProductID:    line.ProductID,
			ProductName:  p.Name,
			ProductPrice: json.Number(p.Price.String()),
			Quantity:     line.Quantity,
		})
	}
	return UserOrderDTO{
		ID:         order.ID,
		UserEmail:  email,
		OrderTotal: json.Number(order.Total.String()),
		Status:     string(order.Status),
		OrderItems: items,
	}
}
