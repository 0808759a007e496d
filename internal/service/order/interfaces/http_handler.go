package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/metrics"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/application"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

const (
	serviceName = "order-service"

	requestIDHeader = "X-Request-ID"
	userEmailHeader = "X-User-Email"

	msgOrderCreated  = "Order crated succesfully"
	msgCreateFailed  = "An error occurred while creating the order, try again later."
	msgInternalError = "An unexpected error occurred, try again later."
	msgInvalidURL    = "The url provided is invalid."
	msgInvalidID     = "The id provided is invalid."
	msgInvalidBody   = "The request body is invalid."
)

// OrderHandler 封装了订单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.OrderApplicationService
	feed    *OrderFeed
	tracer  trace.Tracer
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例，feed 为 nil 时不注册 websocket 路由
func NewOrderHandler(service *application.OrderApplicationService, feed *OrderFeed) *OrderHandler {
	return &OrderHandler{service: service, feed: feed, tracer: otel.Tracer(serviceName)}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())

	h.handle(mux, "POST /api/order/orders", h.createOrder)
	h.handle(mux, "GET /api/order/orders", h.listOrders)
	h.handle(mux, "GET /api/order/orders/user/{userId}", h.listUserOrders)
	h.handle(mux, "PUT /api/order/orders/{id}", h.updateOrder)
	h.handle(mux, "GET /api/order/{id}", h.getOrder)
	h.handle(mux, "GET /api/order/{$}", h.invalidURL)

	h.handle(mux, "GET /api/orderItem/orderItems", h.listOrderItems)
	h.handle(mux, "GET /api/orderItem/{id}", h.getOrderItem)
	h.handle(mux, "GET /api/orderItem/{$}", h.invalidURL)

	if h.feed != nil {
		mux.HandleFunc("GET /ws/orders", h.feed.ServeWS)
	}
}

// handle 为每个路由加上 trace 提取、request id 和请求计数
func (h *OrderHandler) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = logger.WithRequestID(ctx, requestID)
		w.Header().Set(requestIDHeader, requestID)

		ctx, span := h.tracer.Start(ctx, pattern, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
		metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req application.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.UserEmail == "" {
		req.UserEmail = r.Header.Get(userEmailHeader)
	}

	if _, err := h.service.CreateOrder(r.Context(), &req); err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			logger.Ctx(r.Context()).Error().Err(err).Msg("order creation failed")
			writeText(w, status, msgCreateFailed)
			return
		}
		writeText(w, status, domain.MessageOf(err))
		return
	}
	writeText(w, http.StatusCreated, msgOrderCreated)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil {
		writeText(w, http.StatusBadRequest, msgInvalidID)
		return
	}
	orders, err := h.service.ListUserOrders(r.Context(), userID, r.Header.Get(userEmailHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req application.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeText(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	order, err := h.service.UpdateOrderStatus(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) getOrderItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	item, err := h.service.GetOrderItem(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *OrderHandler) listOrderItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListOrderItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *OrderHandler) invalidURL(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusBadRequest, msgInvalidURL)
}

// statusOf 按错误分类映射 HTTP 状态码
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindProductNotFound, domain.KindStock:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError 5xx 不向调用方暴露内部信息
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeText(w, status, msgInternalError)
		return
	}
	writeText(w, status, domain.MessageOf(err))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		writeText(w, http.StatusBadRequest, msgInvalidID)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
