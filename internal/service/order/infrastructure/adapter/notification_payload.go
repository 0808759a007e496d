package adapter

import (
	"encoding/json"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// orderEmailDTO 是邮件服务消费的订单确认消息。金额用 json.Number 输出，避免经过 float64。
type orderEmailDTO struct {
	UserID    int64               `json:"userId"`
	UserEmail string              `json:"userEmail"`
	Total     json.Number         `json:"total"`
	Items     []orderItemEmailDTO `json:"items"`
}

type orderItemEmailDTO struct {
	ProductID    int64       `json:"productId"`
	ProductName  string      `json:"productName"`
	ProductPrice json.Number `json:"productPrice"`
	Quantity     int         `json:"quantity"`
}

func encodeNotification(msg domain.NotificationMessage) ([]byte, error) {
	dto := orderEmailDTO{
		UserID:    msg.UserID,
		UserEmail: msg.UserEmail,
		Total:     json.Number(msg.Total.String()),
		Items:     make([]orderItemEmailDTO, 0, len(msg.Items)),
	}
	for _, item := range msg.Items {
		dto.Items = append(dto.Items, orderItemEmailDTO{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductPrice: json.Number(item.ProductPrice.String()),
			Quantity:     item.Quantity,
		})
	}
	return json.Marshal(dto)
}
