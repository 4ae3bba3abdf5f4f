package cachestorage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

var (
	errReadStoredAt    = errors.New("failed to read stored-at line")
	errInvalidStoredAt = errors.New("invalid stored-at timestamp")
	errInvalidResponse = errors.New("invalid stored response")
)

// RequestKey 生成缓存键：转义后的 path + query，不含 fragment 与 host。
// 每个 Storage 只服务一个 origin，因此 host 不参与键计算。
func RequestKey(u *url.URL) string {
	if u == nil {
		return "/"
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return p + "?" + u.RawQuery
	}
	return p
}

// RequestHost 返回请求目标的小写主机名（忽略端口），URL 未携带 Host 时回退到 req.Host。
func RequestHost(req *http.Request) string {
	if req == nil {
		return ""
	}
	host := ""
	if req.URL != nil {
		host = req.URL.Host
	}
	if host == "" {
		host = req.Host
	}
	return NormalizeHost(host)
}

// NormalizeHost 去掉端口与结尾的点并转为小写，便于比较 origin。
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		raw = h
	}
	raw = strings.TrimSuffix(raw, ".")
	return strings.ToLower(raw)
}

// BufferResponse 读取完整正文并替换为可重复读取的副本，相当于对响应做 clone。
// 读取失败时返回 ErrBodyRead，正文被置空，调用方不应再把该响应交给客户端。
func BufferResponse(resp *http.Response) ([]byte, error) {
	if resp == nil {
		return nil, errors.New("nil response")
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		resp.ContentLength = 0
		resp.TransferEncoding = nil
		return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	return body, nil
}

// encodeResponse 序列化格式：第一行是写入时间（RFC3339Nano），其后是完整的 HTTP/1.1 响应。
func encodeResponse(resp *http.Response, body []byte, storedAt time.Time) ([]byte, error) {
	clone := *resp
	clone.Header = resp.Header.Clone()
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.TransferEncoding = nil
	clone.Trailer = nil
	clone.Close = false
	clone.Request = nil
	if clone.ProtoMajor == 0 {
		clone.Proto = "HTTP/1.1"
		clone.ProtoMajor = 1
		clone.ProtoMinor = 1
	}

	dump, err := httputil.DumpResponse(&clone, true)
	if err != nil {
		return nil, fmt.Errorf("dump response: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(storedAt.UTC().Format(time.RFC3339Nano))
	buf.WriteByte('\n')
	buf.Write(dump)
	return buf.Bytes(), nil
}

// decodeResponse 还原响应，正文被完整读入内存，调用方可以独立关闭。
func decodeResponse(data []byte, req *http.Request) (*http.Response, time.Time, error) {
	reader := bufio.NewReader(bytes.NewReader(data))

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, time.Time{}, errors.Join(errReadStoredAt, err)
	}
	storedAt, err := time.Parse(time.RFC3339Nano, string(bytes.TrimSpace(line)))
	if err != nil {
		return nil, time.Time{}, errors.Join(errInvalidStoredAt, err)
	}

	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		return nil, time.Time{}, errors.Join(errInvalidResponse, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, time.Time{}, errors.Join(errInvalidResponse, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	return resp, storedAt, nil
}
