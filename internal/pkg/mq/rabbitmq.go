package mq

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
)

// Binding 描述一个 topic exchange 和绑定在上面的持久化队列
type Binding struct {
	Exchange   string
	RoutingKey string
	Queue      string
}

// AMQPHeaderCarrier 让 otel propagator 读写 AMQP 消息头
type AMQPHeaderCarrier amqp.Table

func (c AMQPHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c AMQPHeaderCarrier) Set(key, value string) { c[key] = value }

func (c AMQPHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// ErrNotConnected 表示连接断开、正在重连，此时发布立即失败
var ErrNotConnected = errors.New("rabbitmq connection is not available")

// confirmChannel 是 Publish 用到的 *amqp.Channel 方法
type confirmChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// session 是一次成功的连接：连接本身、confirm 模式的 channel，以及两者的关闭通知
type session struct {
	conn       io.Closer
	channel    confirmChannel
	connClosed <-chan *amqp.Error
	chanClosed <-chan *amqp.Error

	closeOnce sync.Once
	closeErr  error
}

func (s *session) close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.channel.Close()
		if err := s.conn.Close(); s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// RabbitMQ 持有当前 session，连接或 channel 被关闭后在后台重连并重新声明绑定
type RabbitMQ struct {
	connect func() (*session, error)
	backoff func(attempt int) time.Duration

	mu   sync.Mutex
	sess *session

	done     chan struct{}
	watching sync.WaitGroup
	once     sync.Once
}

// DialRabbitMQ 连接失败时按递增间隔重试，最多 5 次
func DialRabbitMQ(url string, bindings ...Binding) (*RabbitMQ, error) {
	connect := func() (*session, error) { return dialSession(url, bindings) }

	var sess *session
	var err error
	for i := 0; i < 5; i++ {
		sess, err = connect()
		if err == nil {
			break
		}
		retry := retryBackoff(i)
		logger.L().Warn().Err(err).Dur("retry_in", retry).Msg("Failed to connect to RabbitMQ, retrying")
		time.Sleep(retry)
	}
	if err != nil {
		return nil, errors.Wrap(err, "connect to RabbitMQ after retries")
	}
	return newRabbitMQ(sess, connect, retryBackoff), nil
}

func newRabbitMQ(sess *session, connect func() (*session, error), backoff func(int) time.Duration) *RabbitMQ {
	r := &RabbitMQ{connect: connect, backoff: backoff, sess: sess, done: make(chan struct{})}
	r.watching.Add(1)
	go r.watch(sess)
	return r
}

// retryBackoff 1s, 2s, 5s, 10s ... 最长 30s
func retryBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return 30 * time.Second
	}
	return time.Duration(attempt*attempt)*time.Second + time.Second
}

func dialSession(url string, bindings []Binding) (*session, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	for _, b := range bindings {
		if err := declare(channel, b); err != nil {
			_ = channel.Close()
			_ = conn.Close()
			return nil, err
		}
	}
	return &session{
		conn:       conn,
		channel:    channel,
		connClosed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		chanClosed: channel.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// watch 等待当前 session 断开，然后重连直到成功或 Close
func (r *RabbitMQ) watch(sess *session) {
	defer r.watching.Done()
	for {
		var reason *amqp.Error
		select {
		case <-r.done:
			return
		case reason = <-sess.connClosed:
		case reason = <-sess.chanClosed:
		}

		r.mu.Lock()
		r.sess = nil
		r.mu.Unlock()
		_ = sess.close()
		var cause error
		if reason != nil {
			cause = reason
		}
		logger.L().Warn().Err(cause).Msg("RabbitMQ connection lost, reconnecting")

		next := r.reconnect()
		if next == nil {
			return
		}
		sess = next
	}
}

func (r *RabbitMQ) reconnect() *session {
	for attempt := 0; ; attempt++ {
		sess, err := r.connect()
		if err == nil {
			r.mu.Lock()
			select {
			case <-r.done:
				r.mu.Unlock()
				_ = sess.close()
				return nil
			default:
			}
			r.sess = sess
			r.mu.Unlock()
			logger.L().Info().Int("attempt", attempt+1).Msg("RabbitMQ reconnected")
			return sess
		}

		retry := r.backoff(attempt)
		logger.L().Warn().Err(err).Dur("retry_in", retry).Msg("Failed to reconnect to RabbitMQ, retrying")
		select {
		case <-r.done:
			return nil
		case <-time.After(retry):
		}
	}
}

func declare(channel *amqp.Channel, b Binding) error {
	if b.Exchange == "" {
		return errors.New("exchange name cannot be empty")
	}
	if err := channel.ExchangeDeclare(b.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare exchange %s", b.Exchange)
	}
	if b.Queue == "" {
		return nil
	}
	q, err := channel.QueueDeclare(b.Queue, true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "declare queue %s", b.Queue)
	}
	if err := channel.QueueBind(q.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
		return errors.Wrapf(err, "bind queue %s to exchange %s", b.Queue, b.Exchange)
	}
	logger.L().Info().
		Str("exchange", b.Exchange).
		Str("routing_key", b.RoutingKey).
		Str("queue", b.Queue).
		Msg("RabbitMQ binding declared")
	return nil
}

// Publish 发送持久化消息并等待 broker 确认；ctx 同时限制发送和等待确认。
// 重连期间直接返回 ErrNotConnected。
func (r *RabbitMQ) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if msg.Headers == nil {
		msg.Headers = amqp.Table{}
	}
	otel.GetTextMapPropagator().Inject(ctx, AMQPHeaderCarrier(msg.Headers))
	msg.DeliveryMode = amqp.Persistent
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	r.mu.Lock()
	if r.sess == nil {
		r.mu.Unlock()
		return errors.Wrapf(ErrNotConnected, "publish to exchange %s with routing key %s", exchange, routingKey)
	}
	confirm, err := r.sess.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	r.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "publish to exchange %s with routing key %s", exchange, routingKey)
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "wait for confirm from exchange %s", exchange)
	}
	if !acked {
		return errors.Errorf("broker nacked message to exchange %s with routing key %s", exchange, routingKey)
	}
	return nil
}

// Close 停止重连并关闭当前连接，可重复调用
func (r *RabbitMQ) Close() error {
	var err error
	r.once.Do(func() {
		r.mu.Lock()
		close(r.done)
		sess := r.sess
		r.sess = nil
		r.mu.Unlock()

		r.watching.Wait()
		if sess != nil {
			err = sess.close()
		}
	})
	return err
}
