package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/volley/packages/httperr"
	"github.com/abdul-hamid-achik/volley/packages/metrics"
	"github.com/abdul-hamid-achik/volley/packages/pool"
	"github.com/abdul-hamid-achik/volley/packages/recorder"
)

const (
	// DefaultTimeout is the default overall request timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultDialTimeout bounds connection establishment.
	DefaultDialTimeout = 30 * time.Second
)

// Client is the user-facing session handle. Closing it releases the handle's
// reference to the shared engine state; requests already submitted keep their
// own references and run to completion.
type Client struct {
	base    *url.URL
	baseErr error
	eng     *engine

	closeOnce sync.Once
}

// ClientOption configures a Client at construction; configuration is
// immutable afterwards.
type ClientOption func(*clientOptions)

type clientOptions struct {
	timeout        time.Duration
	bodyTimeout    time.Duration
	dialTimeout    time.Duration
	guaranteeOrder bool
	validateSSL    bool
	tlsConfig      *tls.Config
	defaultHeaders map[string]string
	log            zerolog.Logger
	collector      *metrics.Collector
	rec            *recorder.Recorder
	rps            float64
	burst          int
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithBodyTimeout sets the per-read body streaming timeout independently of
// the overall request timeout. When unset, body reads inherit the overall
// timeout.
func WithBodyTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.bodyTimeout = d
	}
}

// WithDialTimeout bounds how long establishing a new connection may take.
func WithDialTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.dialTimeout = d
	}
}

// WithGuaranteeOrder selects FIFO ordering: per connection, request bytes go
// out in submission order. Off by default, which maximizes throughput.
func WithGuaranteeOrder(guarantee bool) ClientOption {
	return func(o *clientOptions) {
		o.guaranteeOrder = guarantee
	}
}

// WithValidateSSL enables or disables TLS certificate validation.
func WithValidateSSL(validate bool) ClientOption {
	return func(o *clientOptions) {
		o.validateSSL = validate
	}
}

// WithTLSConfig sets the full TLS configuration for https destinations.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) {
		o.tlsConfig = cfg
	}
}

// WithDefaultHeader sets a header applied to every request.
func WithDefaultHeader(key, value string) ClientOption {
	return func(o *clientOptions) {
		o.defaultHeaders[key] = value
	}
}

// WithDefaultHeaders sets multiple default headers.
func WithDefaultHeaders(headers map[string]string) ClientOption {
	return func(o *clientOptions) {
		for k, v := range headers {
			o.defaultHeaders[k] = v
		}
	}
}

// WithLogger sets the engine's structured logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.log = log
	}
}

// WithMetrics attaches a latency/outcome collector fed on every terminal
// result.
func WithMetrics(c *metrics.Collector) ClientOption {
	return func(o *clientOptions) {
		o.collector = c
	}
}

// WithRecorder attaches an exchange recorder fed on every terminal result.
func WithRecorder(r *recorder.Recorder) ClientOption {
	return func(o *clientOptions) {
		o.rec = r
	}
}

// WithRateLimit throttles request dispatch to rps requests per second with
// the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(o *clientOptions) {
		o.rps = rps
		o.burst = burst
	}
}

// New creates a client for the given base URL. It never fails: a malformed
// base URL is surfaced through the result handle of the first request that
// needs it, not here.
func New(baseURL string, opts ...ClientOption) *Client {
	o := &clientOptions{
		timeout:        DefaultTimeout,
		dialTimeout:    DefaultDialTimeout,
		validateSSL:    true,
		defaultHeaders: make(map[string]string),
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{}
	if baseURL != "" {
		base, err := url.Parse(baseURL)
		switch {
		case err != nil:
			c.baseErr = fmt.Errorf("invalid base URL: %w", err)
		case base.Scheme != "http" && base.Scheme != "https":
			c.baseErr = fmt.Errorf("unsupported scheme %q in base URL %s", base.Scheme, baseURL)
		case base.Hostname() == "":
			c.baseErr = fmt.Errorf("base URL %s has no host", baseURL)
		default:
			c.base = base
		}
	}

	tlsConfig := o.tlsConfig
	if !o.validateSSL {
		tlsConfig = tlsConfig.Clone()
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		tlsConfig.InsecureSkipVerify = true
	}

	eng := &engine{
		cfg: settings{
			timeout:        o.timeout,
			bodyTimeout:    o.bodyTimeout,
			guaranteeOrder: o.guaranteeOrder,
			defaultHeaders: o.defaultHeaders,
		},
		pool: pool.New(
			pool.WithTLSConfig(tlsConfig),
			pool.WithDialTimeout(o.dialTimeout),
			pool.WithLogger(o.log),
		),
		log:       o.log,
		collector: o.collector,
		rec:       o.rec,
		queues:    make(map[pool.Destination]*sendQueue),
	}
	if o.rps > 0 {
		burst := o.burst
		if burst < 1 {
			burst = 1
		}
		eng.limiter = rate.NewLimiter(rate.Limit(o.rps), burst)
	}
	eng.refs.Store(1) // the handle's own reference

	c.eng = eng
	return c
}

// Do submits a request and returns its asynchronous result handle. It never
// fails synchronously and never blocks on network I/O; validation failures
// are delivered through the handle like any other error.
func (c *Client) Do(req *Request) *Result {
	res := newResult()
	p := &pending{
		id:     uuid.New(),
		seq:    c.eng.seq.Add(1),
		req:    req,
		result: res,
		eng:    c.eng,
		start:  time.Now(),
	}

	u, err := c.resolveTarget(req)
	if err != nil {
		res.resolve(nil, httperr.New(httperr.KindHostUnreachable, err))
		return res
	}
	p.url = u
	p.dest = pool.DestinationFor(u)

	if err := p.buildCodecRequest(); err != nil {
		res.resolve(nil, httperr.New(httperr.KindHostUnreachable, err))
		return res
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	c.eng.retain()
	c.eng.enqueue(p)
	return res
}

func (c *Client) resolveTarget(req *Request) (*url.URL, error) {
	u, err := url.Parse(req.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", req.Target, err)
	}
	if !u.IsAbs() {
		if c.baseErr != nil {
			return nil, c.baseErr
		}
		if c.base == nil {
			return nil, fmt.Errorf("relative target %q without a base URL", req.Target)
		}
		u = c.base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("target %q has no host", req.Target)
	}
	req.applyQuery(u)
	return u, nil
}

// Get submits a GET for target.
func (c *Client) Get(target string) *Result {
	return c.Do(NewRequest(http.MethodGet, target))
}

// Head submits a HEAD for target.
func (c *Client) Head(target string) *Result {
	return c.Do(NewRequest(http.MethodHead, target))
}

// Post submits a POST with the given body.
func (c *Client) Post(target, body string) *Result {
	return c.Do(NewRequest(http.MethodPost, target).SetBody(body))
}

// Put submits a PUT with the given body.
func (c *Client) Put(target, body string) *Result {
	return c.Do(NewRequest(http.MethodPut, target).SetBody(body))
}

// Delete submits a DELETE for target.
func (c *Client) Delete(target string) *Result {
	return c.Do(NewRequest(http.MethodDelete, target))
}

// Close releases the handle's reference to the engine. Idle pooled
// connections are torn down once no request is pending either. Requests
// already submitted are neither canceled nor invalidated.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.eng.release()
	})
}
