package saga

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// Validator 纯函数校验，不做任何 I/O，必须在调用库存服务之前执行
type Validator struct {
	rules *RuleSet
}

func NewValidator(rules *RuleSet) *Validator {
	return &Validator{rules: rules}
}

func (v *Validator) Validate(req *domain.OrderRequest) (domain.Status, error) {
	if req == nil {
		return "", domain.NewError(domain.KindValidation, "Order request is required.")
	}
	if req.UserID == nil {
		return "", domain.NewError(domain.KindValidation, "The user id cant be null.")
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		return "", err
	}
	if len(req.Items) == 0 {
		return "", domain.NewError(domain.KindValidation, "Order must contain at least one item.")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return "", domain.Errorf(domain.KindValidation, "Quantity for product ID %d must be greater than zero.", item.ProductID)
		}
	}
	if err := v.rules.Check(req); err != nil {
		return "", err
	}
	return status, nil
}

// ValidationHandler 是 Saga 的第一步
type ValidationHandler struct {
	NextHandler
	validator *Validator
}

func NewValidationHandler(validator *Validator) *ValidationHandler {
	return &ValidationHandler{validator: validator}
}

func (h *ValidationHandler) Handle(orderCtx *OrderContext) error {
	err := orderCtx.step(domain.SagaValidating, "saga.Validate", func(_ context.Context, span trace.Span) error {
		status, err := h.validator.Validate(orderCtx.Request)
		if err != nil {
			return err
		}
		orderCtx.Status = status
		span.SetAttributes(
			attribute.String("order.status", string(status)),
			attribute.Int("order.lines", len(orderCtx.Request.Items)),
		)
		return nil
	})
	if err != nil {
		return err
	}
	return h.executeNext(orderCtx)
}
