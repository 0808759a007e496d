// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把服务名解析成 base URL，例如 http://10.0.0.3:8081
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

// StaticResolver 用固定的映射解析服务地址
type StaticResolver map[string]string

func (r StaticResolver) Resolve(_ context.Context, service string) (string, error) {
	base, ok := r[service]
	if !ok || base == "" {
		return "", errors.Errorf("no address configured for service %s", service)
	}
	return base, nil
}

// ChainResolver 依次尝试，返回第一个成功的结果
type ChainResolver []Resolver

func (c ChainResolver) Resolve(ctx context.Context, service string) (string, error) {
	err := errors.Errorf("no resolver for service %s", service)
	for _, r := range c {
		base, rerr := r.Resolve(ctx, service)
		if rerr == nil {
			return base, nil
		}
		err = rerr
	}
	return "", err
}

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.Service, e.Code, e.Body)
}

// StatusCode 返回错误链上的 HTTP 状态码，没有时为 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 不设置 http.Client.Timeout，超时完全由调用方的 context 控制
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		Resolver:   resolver,
	}
}

// CallService 以 JSON 调用下游服务。body 为 nil 时不发送请求体，out 为 nil 时丢弃响应体。
func (c *Client) CallService(ctx context.Context, service, method, path string, body, out any) error {
	ctx, span := c.Tracer.Start(ctx, "call-"+service, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	base, err := c.Resolver.Resolve(ctx, service)
	if err != nil {
		return fail(errors.Wrapf(err, "resolve %s", service))
	}
	target := strings.TrimRight(base, "/") + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fail(errors.Wrap(err, "encode request body"))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fail(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
		attribute.String("peer.service", service),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fail(errors.Wrapf(err, "%s %s", method, target))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(&StatusError{Service: service, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fail(errors.Wrapf(err, "decode response of %s %s", method, target))
	}
	return nil
}
