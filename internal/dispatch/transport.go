package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"

	"evtrack/pkg/traffic"
)

const maxResponseBody = 64 << 10

// ErrSuppressed 请求被拦截器丢弃
var ErrSuppressed = errors.New("request suppressed by interceptor")

// Interceptor 出站请求拦截器，返回 false 表示丢弃该请求
type Interceptor func(req *traffic.Request) bool

// SuppressAdmin 丢弃管理员会话产生的统计请求
func SuppressAdmin(req *traffic.Request) bool {
	return !req.Admin
}

// Transport 发送出站请求，发送前依次经过拦截器
type Transport struct {
	client       *http.Client
	interceptors []Interceptor
}

// NewTransport 创建传输层，client 为空时使用 cleanhttp 连接池客户端
func NewTransport(client *http.Client, interceptors ...Interceptor) *Transport {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &Transport{client: client, interceptors: interceptors}
}

// Use 追加拦截器
func (t *Transport) Use(i ...Interceptor) {
	t.interceptors = append(t.interceptors, i...)
}

// Do 发送请求，非 2xx 响应视为失败
func (t *Transport) Do(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	for _, allow := range t.interceptors {
		if !allow(req) {
			return nil, ErrSuppressed
		}
	}

	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := t.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Handler, err)
	}
	defer resp.Body.Close()

	out := traffic.NewResponse()
	out.StatusCode = resp.StatusCode
	for k := range resp.Header {
		out.Headers.Set(k, resp.Header.Get(k))
	}
	out.Body, _ = io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("%s: unexpected status %d", req.Handler, resp.StatusCode)
	}
	return out, nil
}
