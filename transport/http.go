// Package transport sends outbound channel requests over HTTP and reports
// failures as go-errors envelopes.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-formrelay/core"
)

const KindHTTP = "http"

const (
	defaultClientTimeout           = 30 * time.Second
	defaultResponseBodyLimit int64 = 1 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport executes a TransportRequest with an http client. Response
// bodies beyond the limit are truncated and flagged, never rejected, so a
// large error page can still be classified.
type HTTPTransport struct {
	Client               HTTPDoer
	Headers              map[string]string
	MaxResponseBodyBytes int64
	UserAgent            string
}

func NewHTTPTransport(client HTTPDoer) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &HTTPTransport{
		Client:               client,
		Headers:              map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		UserAgent:            "go-formrelay",
	}
}

func (*HTTPTransport) Kind() string {
	return KindHTTP
}

func (t *HTTPTransport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if t == nil || t.Client == nil {
		return core.TransportResponse{}, transportError(
			"transport: http client is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	target := map[string]any{"method": httpReq.Method, "host": httpReq.URL.Host}

	startedAt := time.Now()
	httpRes, err := t.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, classifyFailure(ctx, err, req.Timeout, "transport: send request", target)
	}
	defer httpRes.Body.Close()

	limit := req.MaxResponseBodyBytes
	if limit <= 0 {
		limit = t.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		target["status_code"] = httpRes.StatusCode
		return core.TransportResponse{}, classifyFailure(ctx, err, req.Timeout, "transport: read response", target)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    singleValueHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"kind":        KindHTTP,
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"truncated":   truncated,
		},
	}, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	raw := strings.TrimSpace(req.URL)
	target, err := url.Parse(raw)
	if err != nil || raw == "" || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, transportWrapError(err, goerrors.CategoryBadInput,
			"transport: url must be an absolute http(s) url", http.StatusBadRequest, nil)
	}
	if len(req.Query) > 0 {
		values := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				values.Set(key, value)
			}
		}
		target.RawQuery = values.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, transportWrapError(err, goerrors.CategoryBadInput,
			"transport: build request", http.StatusBadRequest, map[string]any{"method": method})
	}
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}
	for _, headers := range []map[string]string{t.Headers, req.Headers} {
		for key, value := range headers {
			if key = strings.TrimSpace(key); key != "" {
				httpReq.Header.Set(key, strings.TrimSpace(value))
			}
		}
	}
	return httpReq, nil
}

func classifyFailure(ctx context.Context, err error, timeout time.Duration, message string, metadata map[string]any) error {
	if timedOut(ctx, err) {
		return transportTimeoutError(err, timeout, metadata)
	}
	return transportWrapError(err, goerrors.CategoryExternal, message, http.StatusBadGateway, metadata)
}

func timedOut(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func singleValueHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key := range headers {
		out[key] = strings.Join(headers.Values(key), ",")
	}
	return out
}

var _ core.TransportAdapter = (*HTTPTransport)(nil)
