package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

const catalogKeyPrefix = "order:catalog:"

// catalogEntry 只缓存展示字段，库存不进缓存
type catalogEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// CatalogRedisAdapter 实现了 port.CatalogCache 接口
type CatalogRedisAdapter struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCatalogRedisAdapter(client redis.UniversalClient, ttl time.Duration) *CatalogRedisAdapter {
	return &CatalogRedisAdapter{client: client, ttl: ttl}
}

func catalogKey(id int64) string {
	// hash tag 保证集群模式下的 MGET 落在同一个 slot
	return catalogKeyPrefix + "{p}:" + strconv.FormatInt(id, 10)
}

func (a *CatalogRedisAdapter) Get(ctx context.Context, ids []int64) (map[int64]domain.ProductSnapshot, []int64, error) {
	if len(ids) == 0 {
		return map[int64]domain.ProductSnapshot{}, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = catalogKey(id)
	}

	values, err := a.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ids, errors.Wrap(err, "redis mget catalog")
	}

	hits := make(map[int64]domain.ProductSnapshot, len(ids))
	var missing []int64
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		snap, err := decodeCatalogEntry(ids[i], raw)
		if err != nil {
			missing = append(missing, ids[i])
			continue
		}
		hits[ids[i]] = snap
	}
	return hits, missing, nil
}

func (a *CatalogRedisAdapter) Put(ctx context.Context, products map[int64]domain.ProductSnapshot) error {
	if len(products) == 0 {
		return nil
	}
	_, err := a.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, p := range products {
			raw, err := encodeCatalogEntry(p)
			if err != nil {
				return err
			}
			pipe.Set(ctx, catalogKey(id), raw, a.ttl)
		}
		return nil
	})
	return errors.Wrap(err, "redis cache catalog")
}

func encodeCatalogEntry(p domain.ProductSnapshot) (string, error) {
	b, err := json.Marshal(catalogEntry{Name: p.Name, Description: p.Description, Price: p.Price})
	return string(b), err
}

func decodeCatalogEntry(id int64, raw string) (domain.ProductSnapshot, error) {
	var e catalogEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return domain.ProductSnapshot{}, err
	}
	return domain.ProductSnapshot{ID: id, Name: e.Name, Description: e.Description, Price: e.Price}, nil
}
