package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/blackpanther/pkg/ratelimit"
)

// Client 是所有外部 REST 适配器（交易所、Telegram、Perplexity、CLI）共用的 resty 封装
type Client struct {
	client  *resty.Client
	limiter ratelimit.RateLimiter
}

// Option 客户端选项
type Option func(*Client)

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.SetTimeout(d) }
}

// WithRetry 只对幂等请求（GET/DELETE）的网络错误、429、5xx 重试
func WithRetry(count int) Option {
	return func(c *Client) { c.client.SetRetryCount(count) }
}

// WithRateLimiter 每次请求前等待限流器放行
func WithRateLimiter(l ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHeader 设置客户端级 Header
func WithHeader(key, value string) Option {
	return func(c *Client) { c.client.SetHeader(key, value) }
}

func NewClient(host string, opts ...Option) *Client {
	host = strings.TrimSuffix(host, "/")

	// resty 会自动读取 HTTP_PROXY / HTTPS_PROXY
	rc := resty.New().
		SetBaseURL(host).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			method := ""
			if resp != nil && resp.Request != nil {
				method = resp.Request.Method
			}
			if method != http.MethodGet && method != http.MethodDelete && method != "" {
				return false
			}
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	c := &Client{client: rc, limiter: ratelimit.Unlimited{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resty 暴露底层客户端（测试中设置 transport 等）
func (c *Client) Resty() *resty.Client { return c.client }

type RequestOptions struct {
	Headers  map[string]string
	Params   map[string]any
	RawQuery string // 已编码的查询串（签名请求必须保持参数顺序）
	Form     map[string]string
	Data     any
}

// HTTPError 非 2xx 响应
type HTTPError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("http %s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, body)
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	r.SetHeader("User-Agent", "blackpanther/1.0")
	return r
}

// DoRequest 执行请求，2xx 时把响应体解析到 out；非 2xx 返回 *HTTPError
func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	rc := c.newRequest(ctx)
	if opt != nil {
		for k, v := range opt.Headers {
			rc.SetHeader(k, v)
		}
		if opt.Params != nil {
			rc.SetQueryParamsFromValues(toValues(opt.Params))
		}
		if opt.RawQuery != "" {
			endpoint = endpoint + "?" + opt.RawQuery
		}
		if opt.Form != nil {
			rc.SetFormData(opt.Form)
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	resp, err := rc.Execute(strings.ToUpper(method), endpoint)
	if err != nil {
		return resp, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	if !resp.IsSuccess() {
		return resp, errors.WithStack(&HTTPError{
			Method:     strings.ToUpper(method),
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode(),
			Body:       string(resp.Body()),
		})
	}
	return resp, nil
}

// StatusCode 从错误链中取出 HTTP 状态码，非 HTTP 错误返回 0
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func toValues(m map[string]any) map[string][]string {
	v := make(map[string][]string, len(m))
	for k, val := range m {
		switch t := val.(type) {
		case []string:
			v[k] = t
		default:
			v[k] = []string{fmt.Sprint(val)}
		}
	}
	return v
}
