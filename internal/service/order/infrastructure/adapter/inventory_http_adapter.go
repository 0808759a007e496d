package adapter

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/httpclient"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

const (
	InventoryService  = "product-service"
	InventoryBasePath = "/api/product"
)

// productDetailsDTO 是库存服务 /details 返回的单个商品
type productDetailsDTO struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       *int            `json:"stock"`
}

type stockUpdateDTO struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type reduceStockRequest struct {
	Products []stockUpdateDTO `json:"products"`
}

// InventoryHTTPAdapter 实现了 port.InventoryClient 接口。
type InventoryHTTPAdapter struct {
	client   *httpclient.Client
	service  string
	basePath string
}

// NewInventoryHTTPAdapter service 和 basePath 为空时使用默认值
func NewInventoryHTTPAdapter(client *httpclient.Client, service, basePath string) *InventoryHTTPAdapter {
	if service == "" {
		service = InventoryService
	}
	if basePath == "" {
		basePath = InventoryBasePath
	}
	return &InventoryHTTPAdapter{client: client, service: service, basePath: basePath}
}

// FetchDetails 一次请求拉取所有商品，响应里缺少的 ID 视为商品不存在
func (a *InventoryHTTPAdapter) FetchDetails(ctx context.Context, ids []int64) (map[int64]domain.ProductSnapshot, error) {
	var products []productDetailsDTO
	if err := a.client.CallService(ctx, a.service, http.MethodPost, a.basePath+"/details", ids, &products); err != nil {
		return nil, translateInventoryError(err)
	}

	snapshots := make(map[int64]domain.ProductSnapshot, len(products))
	for _, p := range products {
		snapshots[p.ID] = domain.ProductSnapshot{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Stock:       p.Stock,
		}
	}
	for _, id := range ids {
		if _, ok := snapshots[id]; !ok {
			return nil, domain.Errorf(domain.KindProductNotFound, "Product not found for ID: %d", id)
		}
	}
	return snapshots, nil
}

// ReduceStock 整单只发一次请求
func (a *InventoryHTTPAdapter) ReduceStock(ctx context.Context, batch []domain.StockReservation) error {
	req := reduceStockRequest{Products: make([]stockUpdateDTO, 0, len(batch))}
	for _, r := range batch {
		req.Products = append(req.Products, stockUpdateDTO{ProductID: r.ProductID, Quantity: r.Quantity})
	}
	if err := a.client.CallService(ctx, a.service, http.MethodPut, a.basePath+"/reduce-stock", req, nil); err != nil {
		return translateInventoryError(err)
	}
	return nil
}

// translateInventoryError 404 表示商品不存在，其他错误原样返回由调用方分类
func translateInventoryError(err error) error {
	if httpclient.StatusCode(err) != http.StatusNotFound {
		return err
	}
	var se *httpclient.StatusError
	msg := "Product not found"
	if errors.As(err, &se) && se.Body != "" {
		msg = "Product not found: " + se.Body
	}
	return domain.WrapError(domain.KindProductNotFound, err, msg)
}
