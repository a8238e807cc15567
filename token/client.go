package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// ExchangeRequest is the token-exchange endpoint request body.
type ExchangeRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	AppID        string `json:"app_id,omitempty"`
	Intent       string `json:"intent,omitempty"`
}

// ExchangeResponse is the token-exchange endpoint response body.
type ExchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserType     string `json:"user_type,omitempty"`
}

// Exchanger calls the remote token-exchange endpoint. Satisfied by Client;
// tests substitute fakes.
type Exchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error)
}

// ClientConfig configures the endpoint client.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration
	// RetryMax is the number of retries after the first attempt. 5xx and
	// connectivity-class errors are retried; 4xx is a definitive rejection.
	RetryMax          int
	RequestsPerSecond float64
}

// Client is the production token-exchange client: a retryable transport
// under a resty client, with a limiter guarding the endpoint.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	endpoint string
}

// NewClient creates the endpoint client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 4 // 5 attempts total
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = retryPolicy

	r := resty.NewWithClient(retryClient.StandardClient())
	r.SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "anchorid-go/1.0").
		SetHeader("Content-Type", "application/json")
	r.JSONMarshal = sonic.Marshal
	r.JSONUnmarshal = sonic.Unmarshal

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		resty:    r,
		limiter:  limiter,
		endpoint: cfg.Endpoint,
	}
}

// retryPolicy retries transient failures only: transport errors (timeout,
// DNS failure, host unreachable, connection lost) and 5xx responses. A 4xx
// is a definitive rejection and is never retried.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
		return true, nil
	}
	return false, nil
}

// Exchange posts to the token endpoint and classifies failures into the
// manager's error taxonomy.
func (c *Client) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkConnection, err)
	}

	var out ExchangeResponse
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkConnection, err)
	}

	if resp.StatusCode() == http.StatusBadRequest {
		return nil, ErrRefreshConsumed
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrNetworkConnection, resp.StatusCode())
	}

	return &out, nil
}
