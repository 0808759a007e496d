package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create 订单和订单行在同一个事务中写入，任何一步失败都整体回滚
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	model := FromDomainOrder(order)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(model).Error; err != nil {
			return errors.Wrap(err, "insert order")
		}
		for i := range model.Items {
			model.Items[i].OrderID = model.ID
		}
		if err := tx.Create(&model.Items).Error; err != nil {
			return errors.Wrapf(err, "insert %d order items", len(model.Items))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ToDomainOrder(model), nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint64) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items", orderByID).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Errorf(domain.KindNotFound, "Order with ID %d not found.", id)
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) FindAll(ctx context.Context) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.db.WithContext(ctx).Preload("Items", orderByID).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID int64) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items", orderByID).
		Where("user_id = ?", userID).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "find orders of user %d", userID)
	}
	return toDomainOrders(models), nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uint64, status domain.Status) error {
	result := r.db.WithContext(ctx).Model(&OrderModel{}).Where("id = ?", id).Update("status", string(status))
	if result.Error != nil {
		return errors.Wrapf(result.Error, "update status of order %d", id)
	}
	if result.RowsAffected == 0 {
		return domain.Errorf(domain.KindNotFound, "Order with ID %d not found.", id)
	}
	return nil
}

func (r *GormOrderRepository) FindLineByID(ctx context.Context, id uint64) (*domain.OrderLine, error) {
	var model OrderItemModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.Errorf(domain.KindNotFound, "OrderItem with ID %d not found.", id)
		}
		return nil, errors.Wrapf(err, "find order item %d", id)
	}
	line := ToDomainLine(&model)
	return &line, nil
}

func (r *GormOrderRepository) FindAllLines(ctx context.Context) ([]domain.OrderLine, error) {
	var models []OrderItemModel
	if err := r.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find order items")
	}
	lines := make([]domain.OrderLine, 0, len(models))
	for i := range models {
		lines = append(lines, ToDomainLine(&models[i]))
	}
	return lines, nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func toDomainOrders(models []OrderModel) []*domain.Order {
	orders := make([]*domain.Order, 0, len(models))
	for i := range models {
		orders = append(orders, ToDomainOrder(&models[i]))
	}
	return orders
}
