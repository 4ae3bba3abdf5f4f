package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/mireapp/offline-proxy/internal/cachestorage"
)

// Network 代表真实网络。返回错误表示网络不可用（连接失败、超时、取消），
// 任何收到的 HTTP 响应（包括 4xx/5xx）都不是错误。
//
// 实现需要让 resp.Request 反映最终响应的来源：仍在 scope origin 内时
// 用 scope origin 的 URL 表示，被重定向到其它主机时保留外部 URL，
// 以便策略据此判断响应是否为 opaque。
type Network interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// NetworkFunc 将函数适配为 Network。
type NetworkFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch 实现 Network。
func (f NetworkFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// ResponseType 对齐浏览器 Response.type 中与缓存决策相关的取值。
type ResponseType string

const (
	ResponseBasic  ResponseType = "basic"
	ResponseOpaque ResponseType = "opaque"
	ResponseError  ResponseType = "error"
)

// ClassifyResponse 判断响应类型：状态码为 0 视为 error，来源不在 origin 内视为 opaque。
func ClassifyResponse(scope Scope, resp *http.Response) ResponseType {
	if resp == nil || resp.StatusCode == 0 {
		return ResponseError
	}
	if resp.Request != nil {
		host := cachestorage.RequestHost(resp.Request)
		if host != "" && host != scope.Origin {
			return ResponseOpaque
		}
	}
	return ResponseBasic
}

// offlineResponse 构造 API 离线时的固定响应：503 + JSON 错误体。
func offlineResponse(req *http.Request, message string) *http.Response {
	body, _ := json.Marshal(map[string]string{"error": message})
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
