package client

import (
	"errors"
	"io"
	"sync"

	"github.com/abdul-hamid-achik/volley/packages/httperr"
	"github.com/abdul-hamid-achik/volley/packages/pool"
)

// bodyReader streams a response body off its lent connection. Every read is
// governed by a body-read watch; expiry aborts the connection so the read
// fails at its next suspension point with a timed-out classification. The
// connection returns to the pool only after a clean EOF.
type bodyReader struct {
	p         *pending
	conn      *pool.Conn
	rc        io.ReadCloser
	keepAlive bool

	mu   sync.Mutex
	err  error
	done bool
}

func (b *bodyReader) Read(buf []byte) (int, error) {
	b.mu.Lock()
	if b.err != nil {
		err := b.err
		b.mu.Unlock()
		return 0, err
	}
	if b.done {
		b.mu.Unlock()
		return 0, io.EOF
	}
	b.mu.Unlock()

	w := b.p.armBody()
	n, err := b.rc.Read(buf)
	w.Disarm()

	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) && !b.p.bodyTimedOut.Load() {
		b.finish(nil)
		return n, io.EOF
	}

	cls := b.classify(err)
	b.finish(cls)
	return n, cls
}

func (b *bodyReader) classify(err error) error {
	if b.p.bodyTimedOut.Load() || b.p.timedOut.Load() {
		return httperr.New(httperr.KindTimedOut, err)
	}
	return httperr.Wrap(err)
}

// finish records the stream's terminal outcome once: success pools or closes
// the connection, failure evicts it and marks the destination down on a
// remote abort.
func (b *bodyReader) finish(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	b.err = err
	b.mu.Unlock()

	_ = b.rc.Close()
	b.p.setConn(nil)

	if err == nil {
		b.p.transition(stateCompleted)
		b.p.eng.pool.Release(b.conn, !b.keepAlive)
		b.p.finish(nil)
		return
	}

	b.p.transition(stateFailed)
	b.p.eng.pool.Release(b.conn, true)
	if httperr.KindOf(err) == httperr.KindConnectionAborted {
		b.p.eng.pool.MarkDown(b.conn.Destination())
	}
	b.p.finish(err)
}

// Close before EOF leaves an unknown number of body bytes on the wire, so
// the connection is discarded rather than pooled. The request itself still
// counts as completed.
func (b *bodyReader) Close() error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}
	b.done = true
	b.mu.Unlock()

	_ = b.rc.Close()
	b.p.setConn(nil)
	b.p.eng.pool.Release(b.conn, true)
	b.p.transition(stateCompleted)
	b.p.finish(nil)
	return nil
}
