package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	UserID    int64           `gorm:"index;not null"`
	Status    string          `gorm:"type:varchar(16);not null"`
	Total     decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// 删除订单时级联删除订单行
	Items []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应 order_items 表，不存价格
type OrderItemModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID   uint64 `gorm:"index;not null"`
	ProductID int64  `gorm:"not null"`
	Quantity  int    `gorm:"not null"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}
