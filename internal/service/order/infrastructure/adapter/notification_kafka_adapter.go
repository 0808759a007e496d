package adapter

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/mq"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// NotificationKafkaAdapter 实现了 port.NotificationPublisher 接口，按 userId 分区。
type NotificationKafkaAdapter struct {
	writer mq.MessageWriter
	topic  string
}

func NewNotificationKafkaAdapter(writer mq.MessageWriter, topic string) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer, topic: topic}
}

func (a *NotificationKafkaAdapter) PublishOrderConfirmation(ctx context.Context, msg domain.NotificationMessage) error {
	body, err := encodeNotification(msg)
	if err != nil {
		return errors.Wrap(err, "marshal order email")
	}
	// 调用通用的 mq.ProduceMessage，它会自动处理追踪上下文注入
	return mq.ProduceMessage(ctx, a.writer, a.topic, []byte(strconv.FormatInt(msg.UserID, 10)), body)
}

// CompensationKafkaAdapter 实现了 port.CompensationPublisher 接口，按 productId 分区，
// 同一商品的回滚消息保持顺序。
type CompensationKafkaAdapter struct {
	writer mq.MessageWriter
	topic  string
}

func NewCompensationKafkaAdapter(writer mq.MessageWriter, topic string) *CompensationKafkaAdapter {
	return &CompensationKafkaAdapter{writer: writer, topic: topic}
}

func (a *CompensationKafkaAdapter) PublishRollback(ctx context.Context, msg domain.CompensationMessage) error {
	key := []byte(strconv.FormatInt(msg.ProductID, 10))
	return mq.ProduceMessage(ctx, a.writer, a.topic, key, msg.Payload())
}
