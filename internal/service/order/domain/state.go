// internal/service/order/domain/state.go
package domain

import "strings"

// Status 定义了订单的持久化状态，只允许两个取值
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
)

// ParseStatus 严格匹配大小写，与库存服务、邮件服务约定保持一致
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", NewError(KindValidation, "Status must only be: PENDING or COMPLETED.")
	}
	return s, nil
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// SagaState 是订单创建 Saga 状态机的状态
type SagaState string

const (
	SagaValidating           SagaState = "VALIDATING"
	SagaFetchingDetails      SagaState = "FETCHING_DETAILS"
	SagaPricingAndStockCheck SagaState = "PRICING_AND_STOCK_CHECK"
	SagaReservingStock       SagaState = "RESERVING_STOCK"
	SagaPersisting           SagaState = "PERSISTING"
	SagaNotifyingSuccess     SagaState = "NOTIFYING_SUCCESS"
	SagaCompensating         SagaState = "COMPENSATING"
	SagaCompleted            SagaState = "COMPLETED"
	SagaFailed               SagaState = "FAILED"
)

// Terminal 终态: Completed 或 Failed
func (s SagaState) Terminal() bool {
	return s == SagaCompleted || s == SagaFailed
}

// Step 返回用于 span / metrics 的步骤名，例如 reserving_stock
func (s SagaState) Step() string {
	return strings.ToLower(string(s))
}
