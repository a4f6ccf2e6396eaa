package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 10 << 20

// Client is the console API client. Every call runs through a fixed
// interceptor chain and ends in either a Response or an *APIError.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	send       SendFunc
}

// Option configures a Client.
type Option func(*options)

type options struct {
	auth  *Auth
	extra []Interceptor
}

// WithAuth enables bearer authentication and proactive refresh.
func WithAuth(auth Auth) Option {
	return func(o *options) {
		o.auth = &auth
	}
}

// WithInterceptors adds interceptors between the auth and retry stages.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(o *options) {
		o.extra = append(o.extra, interceptors...)
	}
}

// New creates a client. The chain order is request ID, tracing, logging,
// auth, any extra interceptors, retry, attempt metrics, then the send.
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.HTTPCache != "" {
		transport = newCachingTransport(transport, cfg.HTTPCache)
	}

	c := &Client{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			Jar:       jar,
		},
	}

	interceptors := []Interceptor{
		RequestID(),
		Tracing(),
		Logging(),
	}
	if o.auth != nil && o.auth.Store != nil {
		interceptors = append(interceptors, NewAuthInterceptor(*o.auth, cfg.RefreshLookahead))
	}
	interceptors = append(interceptors, o.extra...)
	interceptors = append(interceptors,
		NewRetryInterceptor(cfg.MaxRetries, cfg.RetryBackoff, cfg.RetryDelay, cfg.MaxRetryDelay),
		AttemptMetrics(),
	)

	c.send = Chain(c.roundTrip, interceptors...)

	log.Debug().
		Str("baseURL", cfg.BaseURL).
		Dur("timeout", cfg.Timeout).
		Int("maxRetries", cfg.MaxRetries).
		Str("backoff", string(cfg.RetryBackoff)).
		Bool("auth", o.auth != nil).
		Msg("api client configured")

	return c, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends req through the interceptor chain.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if req.Params == nil {
		req.Params = make(url.Values)
	}

	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &APIError{
				Message:   "failed to encode request body",
				ErrorCode: CodeValidationError,
				Kind:      KindValidation,
				cause:     err,
			}
		}
		req.payload = payload
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, normalize(err)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, opts []RequestOption) error {
	resp, err := c.Do(ctx, NewRequest(method, path, body, opts...))
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Get performs a GET and decodes the payload into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodGet, path, nil, out, opts)
}

// Delete performs a DELETE and decodes the payload into out.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodDelete, path, nil, out, opts)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPost, path, body, out, opts)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPut, path, body, out, opts)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.call(ctx, http.MethodPatch, path, body, out, opts)
}

func (c *Client) resolve(req *Request) (string, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return "", err
	}

	var u url.URL
	if ref.IsAbs() {
		u = *ref
	} else {
		u = *c.baseURL
		u.Path = c.baseURL.Path + "/" + strings.TrimLeft(ref.Path, "/")
		u.RawQuery = ref.RawQuery
	}

	if len(req.Params) > 0 {
		q := u.Query()
		for k, vs := range req.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// roundTrip is the innermost stage: it performs one HTTP exchange and
// normalizes the outcome.
func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, &APIError{
			Message:   fmt.Sprintf("invalid request path %q", req.Path),
			ErrorCode: CodeValidationError,
			Kind:      KindValidation,
			cause:     err,
		}
	}

	var body io.Reader
	if req.payload != nil {
		body = bytes.NewReader(req.payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, networkError("failed to create request", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, decodeFailure(httpResp.StatusCode, data)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Cached:     fromCache(httpResp),
	}

	if httpResp.StatusCode == http.StatusNoContent {
		return resp, nil
	}

	if err := decodeSuccess(resp, data); err != nil {
		return nil, err
	}

	return resp, nil
}

// transportError maps errors without an HTTP status to NETWORK_ERROR.
func transportError(err error) *APIError {
	switch {
	case errors.Is(err, context.Canceled):
		return networkError("request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return networkError("request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return networkError("request timed out", err)
	}

	return networkError("network error: unable to reach server", err)
}
