package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func TestKafkaHeaderCarrier(t *testing.T) {
	carrier := KafkaHeaderCarrier{}
	carrier.Set("traceparent", "a")
	carrier.Set("baggage", "b")
	carrier.Set("traceparent", "c")

	assert.Equal(t, "c", carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent", "baggage"}, carrier.Keys())
}

func TestProduceMessage_InjectsTraceHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	w := &captureWriter{}
	require.NoError(t, ProduceMessage(ctx, w, "order-email", []byte("7"), []byte(`{}`)))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, []byte("7"), msg.Key)
	header := KafkaHeaderCarrier(msg.Headers)
	assert.Contains(t, header.Get("traceparent"), span.SpanContext().TraceID().String())
}

func TestProduceMessage_WrapsWriterError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	err := ProduceMessage(context.Background(), w, "rollback-stock", nil, []byte("1,2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollback-stock")
	assert.Contains(t, err.Error(), "broker down")
}

func TestAMQPHeaderCarrier(t *testing.T) {
	carrier := AMQPHeaderCarrier{"x-count": 3}
	carrier.Set("traceparent", "00-abc")
	assert.Equal(t, "00-abc", carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("x-count"), "non-string values are ignored")
	assert.Len(t, carrier.Keys(), 2)
}
