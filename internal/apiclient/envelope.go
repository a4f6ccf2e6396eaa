package apiclient

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Request is an outgoing API call as seen by the interceptor chain.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Params url.Values
	Body   any

	skipAuth    bool
	skipRefresh bool
	noRetry     bool
	attempts    int
	payload     []byte
}

// NewRequest creates a request for method and path.
func NewRequest(method, path string, body any, opts ...RequestOption) *Request {
	req := &Request{
		Method: method,
		Path:   path,
		Header: make(http.Header),
		Params: make(url.Values),
		Body:   body,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// Attempts returns how many times the request was sent.
func (r *Request) Attempts() int {
	return r.attempts
}

// RequestOption customizes a single request.
type RequestOption func(*Request)

// SkipAuth sends the request without an Authorization header.
func SkipAuth() RequestOption {
	return func(r *Request) { r.skipAuth = true }
}

// SkipRefresh attaches the current token but never triggers a refresh. The
// refresh and logout calls use this so they cannot recurse into themselves.
func SkipRefresh() RequestOption {
	return func(r *Request) { r.skipRefresh = true }
}

// NoRetry disables retries for the request.
func NoRetry() RequestOption {
	return func(r *Request) { r.noRetry = true }
}

// WithParams adds query parameters.
func WithParams(params url.Values) RequestOption {
	return func(r *Request) {
		for k, vs := range params {
			for _, v := range vs {
				r.Params.Add(k, v)
			}
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) { r.Header.Set(key, value) }
}

// Response is a successful API call. Data holds the payload: the "data"
// member of an enveloped body, otherwise the whole body. Data is empty for
// 204 and empty bodies.
type Response struct {
	StatusCode int
	Header     http.Header
	Status     string
	Message    string
	Metadata   map[string]any
	Data       json.RawMessage
	Cached     bool
}

// HasData reports whether the response carried a payload.
func (r *Response) HasData() bool {
	return len(r.Data) > 0 && !bytes.Equal(r.Data, []byte("null"))
}

// Decode unmarshals the payload into out. It is a no-op when there is no
// payload or out is nil.
func (r *Response) Decode(out any) error {
	if out == nil || !r.HasData() {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return &APIError{
			StatusCode: r.StatusCode,
			Message:    "failed to decode response payload",
			ErrorCode:  CodeUnknownError,
			Kind:       KindUnknown,
			cause:      err,
		}
	}
	return nil
}

type successEnvelope struct {
	Status   string          `json:"status"`
	Message  string          `json:"message"`
	Metadata map[string]any  `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Error      string          `json:"error"`
	ErrorCode  string          `json:"errorCode"`
	Code       string          `json:"code"`
	Details    json.RawMessage `json:"details"`
}

// decodeSuccess fills resp from a 2xx body.
func decodeSuccess(resp *Response, body []byte) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}

	if !json.Valid(body) {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    "response body is not valid JSON",
			ErrorCode:  CodeUnknownError,
			Kind:       KindUnknown,
		}
	}

	if body[0] == '{' {
		var members map[string]json.RawMessage
		if err := json.Unmarshal(body, &members); err == nil {
			if _, ok := members["data"]; ok {
				var env successEnvelope
				if err := json.Unmarshal(body, &env); err == nil {
					resp.Status = env.Status
					resp.Message = env.Message
					resp.Metadata = env.Metadata
					resp.Data = env.Data
					return nil
				}
			}
		}
	}

	resp.Data = json.RawMessage(body)
	return nil
}

// decodeFailure builds an APIError from a non-2xx response.
func decodeFailure(status int, body []byte) *APIError {
	var env errorEnvelope
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '{' {
		_ = json.Unmarshal(body, &env)
	}

	message := env.Message
	if message == "" {
		message = env.Error
	}
	if message == "" && len(body) > 0 && body[0] != '{' {
		message = strings.TrimSpace(string(body))
		if len(message) > 200 {
			message = message[:200]
		}
	}

	code := env.ErrorCode
	if code == "" {
		code = env.Code
	}

	apiErr := NewError(status, message, code)
	apiErr.Details = decodeDetails(env.Details)
	return apiErr
}

func decodeDetails(raw json.RawMessage) map[string]any {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var details map[string]any
	if err := json.Unmarshal(raw, &details); err == nil {
		return details
	}

	var list any
	if err := json.Unmarshal(raw, &list); err == nil {
		return map[string]any{"errors": list}
	}
	return nil
}
