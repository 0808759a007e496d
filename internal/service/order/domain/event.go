// internal/service/order/domain/event.go
package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// CompensationMessage 通知库存服务把已扣减的库存加回去
type CompensationMessage struct {
	ProductID int64
	Quantity  int
}

// Payload 线上格式为 "productId,quantity"
func (m CompensationMessage) Payload() []byte {
	return []byte(strconv.FormatInt(m.ProductID, 10) + "," + strconv.Itoa(m.Quantity))
}

// NotificationMessage 是订单提交成功后发给邮件服务的确认事件
type NotificationMessage struct {
	UserID    int64
	UserEmail string
	Total     decimal.Decimal
	Items     []NotificationItem
}

type NotificationItem struct {
	ProductID    int64
	ProductName  string
	ProductPrice decimal.Decimal
	Quantity     int
}

// SagaEvent 描述一次状态迁移，供日志、指标和实时推送订阅
type SagaEvent struct {
	SagaID  string    `json:"sagaId"`
	OrderID uint64    `json:"orderId,omitempty"`
	UserID  int64     `json:"userId,omitempty"`
	State   SagaState `json:"state"`
	Kind    Kind      `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}
