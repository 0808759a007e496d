// internal/service/order/application/service.go
package application

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/port"
)

// OrderCreator 由 saga.Orchestrator 实现
type OrderCreator interface {
	CreateOrder(ctx context.Context, req *domain.OrderRequest) (*domain.Order, error)
}

// OrderApplicationService 是接口层唯一的入口。
// 下单交给 Saga，其余是查询和状态修改。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	creator   OrderCreator
	inventory port.InventoryClient
	catalog   port.CatalogCache
	locker    port.Locker
	tracer    trace.Tracer

	lookupTimeout time.Duration
	fanOut        int
}

type ServiceOption func(*OrderApplicationService)

// WithCatalogCache 用户订单列表优先从缓存读取商品信息
func WithCatalogCache(cache port.CatalogCache) ServiceOption {
	return func(s *OrderApplicationService) { s.catalog = cache }
}

func WithLookupTimeout(d time.Duration) ServiceOption {
	return func(s *OrderApplicationService) { s.lookupTimeout = d }
}

func NewOrderApplicationService(
	orderRepo domain.OrderRepository,
	creator OrderCreator,
	inventory port.InventoryClient,
	locker port.Locker,
	opts ...ServiceOption,
) *OrderApplicationService {
	s := &OrderApplicationService{
		orderRepo:     orderRepo,
		creator:       creator,
		inventory:     inventory,
		locker:        locker,
		tracer:        otel.Tracer("order-service/application"),
		lookupTimeout: 3 * time.Second,
		fanOut:        4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderApplicationService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderDTO, error) {
	order, err := s.creator.CreateOrder(ctx, req.ToDomain())
	if err != nil {
		return nil, err
	}
	dto := ToOrderDTO(order)
	return &dto, nil
}

func (s *OrderApplicationService) GetOrder(ctx context.Context, id uint64) (*OrderDTO, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := ToOrderDTO(order)
	return &dto, nil
}

func (s *OrderApplicationService) ListOrders(ctx context.Context) ([]OrderDTO, error) {
	orders, err := s.orderRepo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.NewError(domain.KindNotFound, "No orders found.")
	}
	dtos := make([]OrderDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, ToOrderDTO(o))
	}
	return dtos, nil
}

// ListUserOrders 返回用户的订单，并补上商品名称和价格。每个订单并发查询，整体失败则全部失败。
func (s *OrderApplicationService) ListUserOrders(ctx context.Context, userID int64, email string) ([]UserOrderDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.ListUserOrders", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	orders, err := s.orderRepo.FindByUserID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.Errorf(domain.KindNotFound, "No orders found for user ID: %d", userID)
	}

	result := make([]UserOrderDTO, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, order := range orders {
		g.Go(func() error {
			products, err := s.lookupProducts(gctx, order.ProductIDs())
			if err != nil {
				return err
			}
			result[i] = toUserOrderDTO(order, email, products)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrich user orders")
		return nil, err
	}
	span.SetAttributes(attribute.Int("orders.count", len(result)))
	return result, nil
}

// lookupProducts 先读缓存，未命中的再问库存服务并回填。缓存故障只降级不报错。
func (s *OrderApplicationService) lookupProducts(ctx context.Context, ids []int64) (map[int64]domain.ProductSnapshot, error) {
	products := make(map[int64]domain.ProductSnapshot, len(ids))
	missing := ids

	if s.catalog != nil {
		hits, miss, err := s.catalog.Get(ctx, ids)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("catalog cache unavailable, falling back to inventory")
		} else {
			for id, p := range hits {
				products[id] = p
			}
			missing = miss
		}
	}
	if len(missing) == 0 {
		return products, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()
	fetched, err := s.inventory.FetchDetails(callCtx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		products[id] = p
	}

	if s.catalog != nil {
		if err := s.catalog.Put(ctx, fetched); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int("products", len(fetched)).Msg("failed to fill catalog cache")
		}
	}
	return products, nil
}

// UpdateOrderStatus 同一订单的修改按订单 ID 串行执行
func (s *OrderApplicationService) UpdateOrderStatus(ctx context.Context, id uint64, req UpdateOrderRequest) (*OrderDTO, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateOrderStatus", trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, "order-"+strconv.FormatUint(id, 10))
	if err != nil {
		span.RecordError(err)
		return nil, domain.WrapError(domain.KindInternal, err, "An error occurred while updating the order")
	}
	defer unlock()

	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := order.Status
	if err := order.ChangeStatus(req.Status); err != nil {
		return nil, err
	}
	if order.Status != previous {
		if err := s.orderRepo.UpdateStatus(ctx, id, order.Status); err != nil {
			span.RecordError(err)
			return nil, err
		}
		logger.Ctx(ctx).Info().Uint64("order", id).
			Str("from", string(previous)).Str("to", string(order.Status)).
			Msg("Order status updated")
	}

	dto := ToOrderDTO(order)
	return &dto, nil
}

func (s *OrderApplicationService) GetOrderItem(ctx context.Context, id uint64) (*OrderItemDTO, error) {
	line, err := s.orderRepo.FindLineByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := ToOrderItemDTO(*line)
	return &dto, nil
}

func (s *OrderApplicationService) ListOrderItems(ctx context.Context) ([]OrderItemDTO, error) {
	lines, err := s.orderRepo.FindAllLines(ctx)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.NewError(domain.KindNotFound, "No order items found.")
	}
	dtos := make([]OrderItemDTO, 0, len(lines))
	for _, line := range lines {
		dtos = append(dtos, ToOrderItemDTO(line))
	}
	return dtos, nil
}
