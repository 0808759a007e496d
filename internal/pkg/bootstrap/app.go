// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/config"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/nacos"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/tracing"
)

// AppCtx 是注册路由时可用的公共组件
type AppCtx struct {
	Mux    *http.ServeMux
	Config *config.Config
	// Nacos 未配置时为 nil
	Nacos *nacos.Client

	closers *closerStack
}

// OnShutdown 注册一个关停时执行的清理函数，按注册的逆序执行
func (a AppCtx) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.closers.push(name, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	Config *config.Config
	// RegisterHandlers 允许每个服务注册自己独特的 HTTP 路由，返回错误时服务不启动
	RegisterHandlers func(appCtx AppCtx) error
	// Ready 在端口监听成功后调用，测试用
	Ready func(addr net.Addr)
}

// StartService 封装了微服务的通用启动和优雅关停逻辑，收到 SIGINT/SIGTERM 后返回。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, info)
}

// Run 与 StartService 相同，但由 ctx 控制退出
func Run(ctx context.Context, info AppInfo) error {
	cfg := info.Config
	serviceName := cfg.Server.Name
	closers := &closerStack{}

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(serviceName, cfg.Jaeger.Endpoint)
	if err != nil {
		return err
	}
	closers.push("tracer provider", tp.Shutdown)

	// 2. Nacos，可选
	var namingClient *nacos.Client
	if cfg.Nacos.Enabled() {
		namingClient, err = nacos.NewNacosClient(cfg.Nacos.ServerAddrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			closers.run(context.Background())
			return err
		}
		closers.push("nacos client", func(context.Context) error {
			namingClient.Close()
			return nil
		})
	}

	// 3. 业务路由
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, Nacos: namingClient, closers: closers}); err != nil {
			closers.run(context.Background())
			return err
		}
	}

	// 4. 监听端口
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
	if err != nil {
		closers.run(context.Background())
		return errors.Wrapf(err, "listen on port %d", cfg.Server.Port)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.L().Info().Str("service", serviceName).Int("port", port).Msg("HTTP server listening")
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 5. 服务注册
	var ip string
	if namingClient != nil && cfg.Nacos.Register {
		ip, err = outboundIP()
		if err == nil {
			err = namingClient.RegisterServiceInstance(serviceName, ip, port)
		}
		if err != nil {
			logger.L().Error().Err(err).Msg("failed to register service with nacos")
			ip = ""
		}
	}

	if info.Ready != nil {
		info.Ready(listener.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.L().Info().Str("service", serviceName).Msg("Shutting down service")
	case err, ok := <-serveErr:
		if ok {
			runErr = errors.Wrap(err, "http server stopped")
		}
	}

	// 6. 优雅关停：先注销，再停止接收请求，最后释放资源
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if ip != "" {
		if err := namingClient.DeregisterServiceInstance(serviceName, ip, port); err != nil {
			logger.L().Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Error().Err(err).Msg("Error shutting down http server")
	}
	closers.run(shutdownCtx)

	logger.L().Info().Str("service", serviceName).Msg("Service gracefully shut down")
	return runErr
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

type closerStack struct {
	items []closer
}

func (s *closerStack) push(name string, fn func(ctx context.Context) error) {
	s.items = append(s.items, closer{name: name, fn: fn})
}

// run 后进先出，单个失败不影响其余
func (s *closerStack) run(ctx context.Context) {
	for i := len(s.items) - 1; i >= 0; i-- {
		c := s.items[i]
		if err := c.fn(ctx); err != nil {
			logger.L().Error().Err(err).Str("component", c.name).Msg("Error during shutdown")
			continue
		}
		logger.L().Debug().Str("component", c.name).Msg("closed")
	}
	s.items = nil
}

// outboundIP 通过 UDP "连接" 拿到本机出口 IP，不会真正发包
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "detect outbound ip")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
