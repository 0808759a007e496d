package infrastructure

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

func newOrder(t *testing.T, userID int64, total string, items ...domain.LineItemRequest) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(userID, domain.StatusPending, decimal.RequireFromString(total), items)
	require.NoError(t, err)
	return order
}

func TestGormOrderRepository_CreateAndFind(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	saved, err := repo.Create(ctx, newOrder(t, 7, "40.00",
		domain.LineItemRequest{ProductID: 1, Quantity: 2},
		domain.LineItemRequest{ProductID: 2, Quantity: 1},
	))
	require.NoError(t, err)
	require.NotZero(t, saved.ID)
	require.Len(t, saved.Lines, 2)
	for _, line := range saved.Lines {
		assert.NotZero(t, line.ID)
		assert.Equal(t, saved.ID, line.OrderID)
	}

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.UserID)
	assert.Equal(t, domain.StatusPending, found.Status)
	assert.True(t, decimal.NewFromInt(40).Equal(found.Total), "total was %s", found.Total)
	require.Len(t, found.Lines, 2)
	assert.Equal(t, int64(1), found.Lines[0].ProductID)
	assert.Equal(t, 2, found.Lines[0].Quantity)
	assert.Equal(t, int64(2), found.Lines[1].ProductID)
}

func TestGormOrderRepository_SubCentTotalRoundTrips(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()

	stmt := &gorm.Statement{DB: db}
	require.NoError(t, stmt.Parse(&OrderModel{}))
	total := stmt.Schema.LookUpField("total")
	require.NotNil(t, total)
	assert.Equal(t, fmt.Sprintf("decimal(20,%d)", domain.TotalScale), total.TagSettings["TYPE"])

	// 0.333 x 3
	saved, err := repo.Create(ctx, newOrder(t, 7, "0.999", domain.LineItemRequest{ProductID: 1, Quantity: 3}))
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.999").Equal(found.Total), "total was %s", found.Total)
	assert.True(t, saved.Total.Equal(found.Total))
}

func TestGormOrderRepository_NotFound(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByID(ctx, 99)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, "Order with ID 99 not found.", domain.MessageOf(err))

	_, err = repo.FindLineByID(ctx, 5)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, "OrderItem with ID 5 not found.", domain.MessageOf(err))

	err = repo.UpdateStatus(ctx, 99, domain.StatusCompleted)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestGormOrderRepository_CreateIsAtomic(t *testing.T) {
	db := newTestDB(t)
	repo := NewGormOrderRepository(db)

	boom := errors.New("disk full")
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_items", func(tx *gorm.DB) {
		if tx.Statement.Table == "order_items" {
			_ = tx.AddError(boom)
		}
	}))

	_, err := repo.Create(context.Background(), newOrder(t, 7, "10", domain.LineItemRequest{ProductID: 1, Quantity: 1}))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var orders, items int64
	require.NoError(t, db.Model(&OrderModel{}).Count(&orders).Error)
	require.NoError(t, db.Model(&OrderItemModel{}).Count(&items).Error)
	assert.Zero(t, orders, "order row must roll back with its lines")
	assert.Zero(t, items)
}

func TestGormOrderRepository_ListsAndUpdates(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	first, err := repo.Create(ctx, newOrder(t, 7, "10", domain.LineItemRequest{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newOrder(t, 8, "20", domain.LineItemRequest{ProductID: 2, Quantity: 2}))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newOrder(t, 7, "30",
		domain.LineItemRequest{ProductID: 3, Quantity: 1},
		domain.LineItemRequest{ProductID: 1, Quantity: 4},
	))
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := repo.FindByUserID(ctx, 7)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Less(t, mine[0].ID, mine[1].ID)
	assert.Len(t, mine[1].Lines, 2)

	none, err := repo.FindByUserID(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, domain.StatusCompleted))
	updated, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)

	lines, err := repo.FindAllLines(ctx)
	require.NoError(t, err)
	assert.Len(t, lines, 4)

	line, err := repo.FindLineByID(ctx, lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, line.OrderID)
}

func TestGormOrderRepository_ConcurrentCreates(t *testing.T) {
	repo := NewGormOrderRepository(newTestDB(t))
	ctx := context.Background()

	orders := make([]*domain.Order, 10)
	for i := range orders {
		orders[i] = newOrder(t, int64(i), "5", domain.LineItemRequest{ProductID: int64(i + 1), Quantity: 1})
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(orders))
	for _, order := range orders {
		wg.Add(1)
		go func(order *domain.Order) {
			defer wg.Done()
			_, err := repo.Create(ctx, order)
			errs <- err
		}(order)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 10)
	for _, o := range all {
		assert.Len(t, o.Lines, 1)
	}
}
