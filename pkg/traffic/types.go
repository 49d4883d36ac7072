package traffic

import (
	"net/http"
	"strings"
)

// Header 大小写不敏感的头部集合
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Request 发往统计平台的出站请求
type Request struct {
	Handler string // 发起请求的统计处理器
	Event   string // 转发的事件名
	URL     string
	Method  string
	Headers Header
	Body    []byte
	// Admin 事件来自管理员会话
	Admin bool
}

// Response 统计平台的响应
type Response struct {
	StatusCode int
	Headers    Header
	Body       []byte
}

// NewRequest 创建 JSON POST 请求
func NewRequest(handler, event, url string, body []byte) *Request {
	h := make(Header)
	h.Set("Content-Type", "application/json")
	return &Request{
		Handler: handler,
		Event:   event,
		URL:     url,
		Method:  http.MethodPost,
		Headers: h,
		Body:    body,
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}
