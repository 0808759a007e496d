package adapter

import (
	"context"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/service/order/domain"
)

// amqpPublisher 由 *mq.RabbitMQ 实现
type amqpPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// RabbitCompensationAdapter 实现了 port.CompensationPublisher 接口，消息体为纯文本 "productId,quantity"
type RabbitCompensationAdapter struct {
	publisher  amqpPublisher
	exchange   string
	routingKey string
}

func NewRabbitCompensationAdapter(publisher amqpPublisher, exchange, routingKey string) *RabbitCompensationAdapter {
	return &RabbitCompensationAdapter{publisher: publisher, exchange: exchange, routingKey: routingKey}
}

func (a *RabbitCompensationAdapter) PublishRollback(ctx context.Context, msg domain.CompensationMessage) error {
	err := a.publisher.Publish(ctx, a.exchange, a.routingKey, amqp.Publishing{
		ContentType: "text/plain",
		Body:        msg.Payload(),
	})
	if err != nil {
		return errors.Wrapf(err, "publish rollback for product %d", msg.ProductID)
	}
	logger.Ctx(ctx).Debug().Int64("product_id", msg.ProductID).Int("quantity", msg.Quantity).
		Msg("Rollback message sent to RabbitMQ")
	return nil
}

// RabbitNotificationAdapter 实现了 port.NotificationPublisher 接口
type RabbitNotificationAdapter struct {
	publisher  amqpPublisher
	exchange   string
	routingKey string
}

func NewRabbitNotificationAdapter(publisher amqpPublisher, exchange, routingKey string) *RabbitNotificationAdapter {
	return &RabbitNotificationAdapter{publisher: publisher, exchange: exchange, routingKey: routingKey}
}

func (a *RabbitNotificationAdapter) PublishOrderConfirmation(ctx context.Context, msg domain.NotificationMessage) error {
	body, err := encodeNotification(msg)
	if err != nil {
		return errors.Wrap(err, "marshal order email")
	}
	err = a.publisher.Publish(ctx, a.exchange, a.routingKey, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish order email for user %d", msg.UserID)
	}
	return nil
}
