// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type requestIDKey struct{}

var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 设置全局日志级别和输出格式。pretty 只建议在本地开发时打开。
func Init(service, level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	base = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	log.Logger = base
}

// SetOutput 把基础 logger 的输出换成 w，返回恢复函数。只在测试中使用。
func SetOutput(w io.Writer) (restore func()) {
	prev := base
	base = base.Output(w)
	return func() { base = prev }
}

// L 返回不带上下文信息的基础 logger
func L() *zerolog.Logger {
	return &base
}

// Ctx 返回附带 trace_id / span_id / request_id 的 logger
func Ctx(ctx context.Context) *zerolog.Logger {
	c := base.With()
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		c = c.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	if id := RequestID(ctx); id != "" {
		c = c.Str("request_id", id)
	}
	l := c.Logger()
	return &l
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
