package client

import (
	"context"
	"sync"
)

// Result is a write-once asynchronous outcome slot. Exactly one of
// {response, error} is ever recorded; whichever writer arrives first wins and
// the loser's effect is discarded, never double-delivered.
type Result struct {
	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// resolve records the terminal outcome. It reports whether this call won the
// slot; a losing write is a no-op.
func (r *Result) resolve(resp *Response, err error) bool {
	won := false
	r.once.Do(func() {
		r.resp = resp
		r.err = err
		won = true
		close(r.done)
	})
	return won
}

// Done is closed once the result is terminal.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Get blocks until the result is terminal and returns it.
func (r *Result) Get() (*Response, error) {
	<-r.done
	return r.resp, r.err
}

// GetContext blocks until the result is terminal or ctx is done.
func (r *Result) GetContext(ctx context.Context) (*Response, error) {
	select {
	case <-r.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the terminal error without blocking, or nil if the result is
// not terminal yet or succeeded.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
