package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/volley/packages/httperr"
	"github.com/abdul-hamid-achik/volley/packages/metrics"
	"github.com/abdul-hamid-achik/volley/packages/pool"
	"github.com/abdul-hamid-achik/volley/packages/recorder"
	"github.com/abdul-hamid-achik/volley/packages/timeout"
)

// reqState tracks a request through the pipeline. Transitions are totally
// ordered per request; Completed and Failed are terminal.
type reqState int32

const (
	stateQueued reqState = iota
	stateConnecting
	stateSending
	stateAwaitingHeaders
	stateStreamingBody
	stateCompleted
	stateFailed
)

func (s reqState) String() string {
	switch s {
	case stateQueued:
		return "queued"
	case stateConnecting:
		return "connecting"
	case stateSending:
		return "sending"
	case stateAwaitingHeaders:
		return "awaiting_headers"
	case stateStreamingBody:
		return "streaming_body"
	case stateCompleted:
		return "completed"
	default:
		return "failed"
	}
}

// engine is the session state shared between the Client handle and every
// in-flight request. It is reference counted: the handle holds one reference
// and each pending request holds one; pooled connections are torn down only
// when the count reaches zero, so requests survive the handle being closed.
type engine struct {
	cfg  settings
	pool *pool.Pool
	sup  timeout.Supervisor
	log  zerolog.Logger

	collector *metrics.Collector
	rec       *recorder.Recorder
	limiter   *rate.Limiter

	seq  atomic.Uint64
	refs atomic.Int32

	mu     sync.Mutex
	queues map[pool.Destination]*sendQueue
}

type settings struct {
	timeout        time.Duration
	bodyTimeout    time.Duration
	guaranteeOrder bool
	defaultHeaders map[string]string
}

func (e *engine) retain() {
	e.refs.Add(1)
}

func (e *engine) release() {
	if e.refs.Add(-1) == 0 {
		e.pool.Close()
	}
}

// sendQueue serializes send starts for one destination in FIFO mode: a later
// request's bytes must not reach the wire before an earlier request's bytes
// on the same connection.
type sendQueue struct {
	mu      sync.Mutex
	items   []*pending
	running bool
}

func (e *engine) enqueue(p *pending) {
	if !e.cfg.guaranteeOrder {
		go e.run(p, func() {})
		return
	}

	e.mu.Lock()
	q := e.queues[p.dest]
	if q == nil {
		q = &sendQueue{}
		e.queues[p.dest] = q
	}
	e.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, p)
	if !q.running {
		q.running = true
		go e.drain(q)
	}
	q.mu.Unlock()
}

func (e *engine) drain(q *sendQueue) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		p := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		sent := make(chan struct{})
		go e.run(p, func() { close(sent) })
		<-sent
	}
}

// pending is one submitted request being driven to a terminal outcome. It
// may outlive the Client handle but never its own result delivery.
type pending struct {
	id     uuid.UUID
	seq    uint64
	req    *Request
	url    *url.URL
	dest   pool.Destination
	hreq   *http.Request
	result *Result
	eng    *engine
	start  time.Time

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	status atomic.Int32

	connMu sync.Mutex
	conn   *pool.Conn

	reqWatch     *timeout.Watch
	timedOut     atomic.Bool
	bodyTimedOut atomic.Bool

	finishOnce sync.Once
}

// transition advances the state machine. Terminal states are never left.
func (p *pending) transition(s reqState) bool {
	for {
		old := reqState(p.state.Load())
		if old == stateCompleted || old == stateFailed {
			return false
		}
		if p.state.CompareAndSwap(int32(old), int32(s)) {
			p.eng.log.Debug().
				Str("request_id", p.id.String()).
				Uint64("seq", p.seq).
				Stringer("from", old).
				Stringer("to", s).
				Msg("request transition")
			return true
		}
	}
}

func (p *pending) setConn(c *pool.Conn) {
	p.connMu.Lock()
	p.conn = c
	p.connMu.Unlock()
}

// abortConn closes the request's current connection, unblocking any
// in-progress read or write at its next suspension point.
func (p *pending) abortConn() {
	p.connMu.Lock()
	c := p.conn
	p.connMu.Unlock()
	if c != nil {
		c.Abort()
	}
}

func (p *pending) overallTimeout() time.Duration {
	if p.req.Timeout > 0 {
		return p.req.Timeout
	}
	return p.eng.cfg.timeout
}

func (p *pending) bodyReadTimeout() time.Duration {
	if p.req.BodyTimeout > 0 {
		return p.req.BodyTimeout
	}
	if p.eng.cfg.bodyTimeout > 0 {
		return p.eng.cfg.bodyTimeout
	}
	return p.overallTimeout()
}

func (p *pending) buildCodecRequest() error {
	var body io.Reader
	if p.req.Body != "" {
		body = strings.NewReader(p.req.Body)
	}
	hreq, err := http.NewRequest(p.req.Method, p.url.String(), body)
	if err != nil {
		return err
	}
	for k, v := range p.eng.cfg.defaultHeaders {
		hreq.Header.Set(k, v)
	}
	for k, v := range p.req.Headers {
		hreq.Header.Set(k, v)
	}
	p.hreq = hreq
	return nil
}

// writeRequest serializes the request onto the connection. GetBody restores
// the body reader when a retry rewrites the request.
func (p *pending) writeRequest(conn *pool.Conn) error {
	if p.hreq.GetBody != nil {
		rc, err := p.hreq.GetBody()
		if err != nil {
			return err
		}
		p.hreq.Body = rc
	}
	return p.hreq.Write(conn)
}

func (p *pending) onRequestExpired(timeout.Scope) {
	p.timedOut.Store(true)
	err := httperr.New(httperr.KindTimedOut, fmt.Errorf("no response within %s", p.overallTimeout()))
	if p.result.resolve(nil, err) {
		p.transition(stateFailed)
		p.eng.log.Debug().Str("request_id", p.id.String()).Msg("request timer expired")
	}
	p.cancel()
	p.abortConn()
}

// armBody starts one body-read watch; each read arms its own.
func (p *pending) armBody() *timeout.Watch {
	return p.eng.sup.Arm(p.bodyReadTimeout(), timeout.ScopeBody, func(timeout.Scope) {
		p.bodyTimedOut.Store(true)
		p.eng.log.Debug().Str("request_id", p.id.String()).Msg("body read timer expired")
		p.abortConn()
	})
}

// fail records a terminal failure. The classified error is written to the
// result slot; if a timer already won the slot the write is discarded.
func (p *pending) fail(err error) {
	if p.timedOut.Load() {
		err = httperr.New(httperr.KindTimedOut, err)
	} else {
		err = httperr.Wrap(err)
	}
	p.transition(stateFailed)
	p.result.resolve(nil, err)
	p.finish(err)
}

// finish runs the per-request bookkeeping exactly once: disarm timers,
// record metrics and the exchange, release the engine reference.
func (p *pending) finish(err error) {
	p.finishOnce.Do(func() {
		p.cancel()
		if p.reqWatch != nil {
			p.reqWatch.Disarm()
		}
		dur := time.Since(p.start)

		if p.eng.collector != nil {
			p.eng.collector.Record(dur, err)
		}
		if p.eng.rec != nil {
			kind := ""
			if err != nil {
				kind = httperr.KindOf(err).String()
			}
			recErr := p.eng.rec.Record(recorder.Exchange{
				ID:       p.id.String(),
				Seq:      p.seq,
				Method:   p.req.Method,
				URL:      p.url.String(),
				Status:   int(p.status.Load()),
				Kind:     kind,
				Duration: dur,
			})
			if recErr != nil {
				p.eng.log.Warn().Err(recErr).Msg("recorder write failed")
			}
		}

		evt := p.eng.log.Debug().
			Str("request_id", p.id.String()).
			Uint64("seq", p.seq).
			Dur("duration", dur)
		if err != nil {
			evt.Str("kind", httperr.KindOf(err).String()).Msg("request failed")
		} else {
			evt.Int("status", int(p.status.Load())).Msg("request completed")
		}

		p.eng.release()
	})
}

// run drives one request from Queued to a terminal outcome. sent is invoked
// as soon as the request bytes have been written (or the attempt is
// abandoned), which is what lets the FIFO dispatcher start the next send.
func (e *engine) run(p *pending, sent func()) {
	var sentOnce sync.Once
	markSent := func() { sentOnce.Do(sent) }
	defer markSent()

	if e.limiter != nil {
		if err := e.limiter.Wait(p.ctx); err != nil {
			p.fail(err)
			return
		}
	}

	p.reqWatch = e.sup.Arm(p.overallTimeout(), timeout.ScopeRequest, p.onRequestExpired)

	for attempt := 0; ; attempt++ {
		p.transition(stateConnecting)
		conn, reused, err := e.pool.Acquire(p.ctx, p.dest)
		if err != nil {
			if errors.Is(err, pool.ErrDestinationDown) {
				err = httperr.New(httperr.KindHostUnreachable, err)
			}
			p.fail(err)
			return
		}
		p.setConn(conn)

		p.transition(stateSending)
		if err := p.writeRequest(conn); err != nil {
			p.setConn(nil)
			e.pool.Release(conn, true)
			if reused && attempt == 0 && !p.timedOut.Load() {
				// reused idle connection was half-closed; one fresh retry
				continue
			}
			p.fail(err)
			return
		}
		markSent()

		p.transition(stateAwaitingHeaders)
		hresp, err := http.ReadResponse(conn.Reader(), p.hreq)
		if err != nil {
			p.setConn(nil)
			e.pool.Release(conn, true)
			aborted := httperr.KindOf(err) == httperr.KindConnectionAborted
			if aborted && reused && attempt == 0 && !p.timedOut.Load() {
				continue
			}
			if aborted && !p.timedOut.Load() {
				// remote closed an established connection mid-exchange;
				// the destination's pool entry is no longer trustworthy
				e.pool.MarkDown(p.dest)
			}
			p.fail(err)
			return
		}

		e.deliver(p, conn, hresp)
		return
	}
}

// deliver hands the parsed response to the caller. Headers already delivered
// are never retracted; only a still-pending body read can fail afterwards.
func (e *engine) deliver(p *pending, conn *pool.Conn, hresp *http.Response) {
	if fired := p.reqWatch.Disarm(); fired || p.timedOut.Load() {
		// the timer won while headers were in flight; discard the late
		// completion rather than double-delivering
		_ = hresp.Body.Close()
		p.setConn(nil)
		e.pool.Release(conn, true)
		p.finish(p.result.Err())
		return
	}

	headers := make(map[string]string, len(hresp.Header))
	for k := range hresp.Header {
		headers[k] = hresp.Header.Get(k)
	}
	resp := &Response{
		StatusCode: hresp.StatusCode,
		Status:     hresp.Status,
		Headers:    headers,
		Duration:   time.Since(p.start),
	}
	p.status.Store(int32(hresp.StatusCode))

	if noBodyExpected(p.req.Method, hresp) {
		_ = hresp.Body.Close()
		p.setConn(nil)
		e.pool.Release(conn, hresp.Close)
		resp.body = emptyBody{}
		p.transition(stateCompleted)
		p.result.resolve(resp, nil)
		p.finish(nil)
		return
	}

	p.transition(stateStreamingBody)
	resp.body = &bodyReader{p: p, conn: conn, rc: hresp.Body, keepAlive: !hresp.Close}
	if !p.result.resolve(resp, nil) {
		_ = hresp.Body.Close()
		p.setConn(nil)
		e.pool.Release(conn, true)
		p.finish(p.result.Err())
	}
}

func noBodyExpected(method string, hresp *http.Response) bool {
	if method == http.MethodHead {
		return true
	}
	switch hresp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return true
	}
	return hresp.ContentLength == 0
}
