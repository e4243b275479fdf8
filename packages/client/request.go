package client

import (
	"net/url"
	"time"
)

// Request describes one HTTP exchange to submit.
type Request struct {
	Method  string
	Target  string // absolute URL, or a path resolved against the client's base
	Headers map[string]string
	Body    string

	// Timeout overrides the client's overall request timeout for this
	// request only. Zero means inherit.
	Timeout time.Duration

	// BodyTimeout overrides the client's body-read timeout for this
	// request only. Zero means inherit.
	BodyTimeout time.Duration

	QueryParams map[string]string
}

// NewRequest creates a request for the given method and target.
func NewRequest(method, target string) *Request {
	return &Request{
		Method:      method,
		Target:      target,
		Headers:     make(map[string]string),
		QueryParams: make(map[string]string),
	}
}

// SetHeader sets a header, returning the request for chaining.
func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// SetBody sets the request body.
func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

// SetTimeout overrides the overall request timeout.
func (r *Request) SetTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

// SetQueryParam adds a query parameter merged into the target at send time.
func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams[key] = value
	return r
}

func (r *Request) applyQuery(u *url.URL) {
	if len(r.QueryParams) == 0 {
		return
	}
	q := u.Query()
	for k, v := range r.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
}
