// cmd/order-service/main.go
package main

import (
	"context"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/bootstrap"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/config"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/httpclient"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/lock"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/mq"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/application"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/application/saga"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/infrastructure"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/infrastructure/adapter"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/interfaces"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/port"
)

// main 函数是应用的"组装根" (Composition Root)
func main() {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = config.DefaultFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.L().Fatal().Err(err).Str("file", path).Msg("failed to load config")
	}
	logger.Init(cfg.Server.Name, cfg.Log.Level, cfg.Log.Pretty)
	config.SetCurrent(cfg)

	if err := bootstrap.StartService(bootstrap.AppInfo{
		Config:           cfg,
		RegisterHandlers: registerOrderService,
	}); err != nil {
		logger.L().Fatal().Err(err).Msg("order service stopped with error")
	}
}

// registerOrderService 创建并组装所有依赖项，然后注册 HTTP 路由
func registerOrderService(app bootstrap.AppCtx) error {
	cfg := app.Config

	// 1. 数据库
	db, err := infrastructure.OpenMySQL(cfg.MySQL)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	app.OnShutdown("mysql", func(context.Context) error { return sqlDB.Close() })
	if cfg.MySQL.AutoMigrate {
		if err := infrastructure.AutoMigrate(db); err != nil {
			return err
		}
	}
	repo := infrastructure.NewGormOrderRepository(db)

	// 2. 库存服务：优先 Nacos 发现，其次固定地址
	var resolver httpclient.ChainResolver
	if app.Nacos != nil {
		resolver = append(resolver, app.Nacos)
	}
	if cfg.Inventory.BaseURL != "" {
		resolver = append(resolver, httpclient.StaticResolver{cfg.Inventory.ServiceName: cfg.Inventory.BaseURL})
	}
	client := httpclient.NewClient(otel.Tracer(cfg.Server.Name), resolver)
	inventory := adapter.NewInventoryHTTPAdapter(client, cfg.Inventory.ServiceName, cfg.Inventory.BasePath)

	// 3. 消息
	compensator, notifier, err := newPublishers(app)
	if err != nil {
		return err
	}

	// 4. 订单锁
	locker, err := newLocker(app)
	if err != nil {
		return err
	}

	// 5. Saga
	rules, err := saga.CompileRules(cfg.Saga.Rules)
	if err != nil {
		return err
	}
	feed := interfaces.NewOrderFeed()
	app.OnShutdown("order feed", func(context.Context) error {
		feed.Close()
		return nil
	})
	orchestrator := saga.NewOrchestrator(inventory, repo, compensator, notifier,
		saga.WithRules(rules),
		saga.WithTimeouts(saga.Timeouts{
			Inventory: cfg.Saga.InventoryTimeout,
			Persist:   cfg.Saga.PersistTimeout,
			Publish:   cfg.Saga.PublishTimeout,
		}),
		saga.WithObserver(saga.LogObserver{}),
		saga.WithObserver(feed),
	)

	// 6. 应用服务和路由
	opts := []application.ServiceOption{application.WithLookupTimeout(cfg.Saga.InventoryTimeout)}
	if cfg.Redis.Enabled() {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.Redis.Addr, ","),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
		opts = append(opts, application.WithCatalogCache(adapter.NewCatalogRedisAdapter(rdb, cfg.Redis.TTL)))
	}
	svc := application.NewOrderApplicationService(repo, orchestrator, inventory, locker, opts...)
	interfaces.NewOrderHandler(svc, feed).RegisterRoutes(app.Mux)

	logger.L().Info().
		Str("messaging", cfg.Messaging.Driver).
		Bool("nacos", app.Nacos != nil).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("zookeeper", cfg.Zookeeper.Enabled()).
		Int("rules", rules.Len()).
		Msg("Order service wired")
	return nil
}

func newPublishers(app bootstrap.AppCtx) (port.CompensationPublisher, port.NotificationPublisher, error) {
	cfg := app.Config
	switch cfg.Messaging.Driver {
	case config.DriverKafka:
		rollbackWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.RollbackTopic)
		app.OnShutdown("kafka rollback writer", func(context.Context) error { return rollbackWriter.Close() })
		notificationWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.NotificationTopic)
		app.OnShutdown("kafka notification writer", func(context.Context) error { return notificationWriter.Close() })
		return adapter.NewCompensationKafkaAdapter(rollbackWriter, cfg.Kafka.RollbackTopic),
			adapter.NewNotificationKafkaAdapter(notificationWriter, cfg.Kafka.NotificationTopic),
			nil
	default:
		r := cfg.RabbitMQ
		rabbit, err := mq.DialRabbitMQ(r.URL,
			mq.Binding{Exchange: r.RollbackExchange, RoutingKey: r.RollbackRoutingKey, Queue: r.RollbackQueue},
			mq.Binding{Exchange: r.EmailExchange, RoutingKey: r.EmailRoutingKey, Queue: r.EmailQueue},
		)
		if err != nil {
			return nil, nil, err
		}
		app.OnShutdown("rabbitmq", func(context.Context) error { return rabbit.Close() })
		return adapter.NewRabbitCompensationAdapter(rabbit, r.RollbackExchange, r.RollbackRoutingKey),
			adapter.NewRabbitNotificationAdapter(rabbit, r.EmailExchange, r.EmailRoutingKey),
			nil
	}
}

func newLocker(app bootstrap.AppCtx) (port.Locker, error) {
	zkCfg := app.Config.Zookeeper
	if !zkCfg.Enabled() {
		logger.L().Warn().Msg("zookeeper is not configured, order locks are process-local")
		return lock.NewLocalLocker(), nil
	}
	locker, closeConn, err := lock.DialZookeeper(zkCfg.Servers, zkCfg.SessionTimeout, zkCfg.Root)
	if err != nil {
		return nil, err
	}
	app.OnShutdown("zookeeper", func(context.Context) error {
		closeConn()
		return nil
	})
	return locker, nil
}
