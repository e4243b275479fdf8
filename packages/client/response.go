package client

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// Response is the outcome of a successful header exchange. It is delivered
// as soon as the status line and headers have been parsed; the body is a
// stream that may still fail asynchronously (for example with a body-read
// timeout) without retracting the response itself.
type Response struct {
	StatusCode int
	Status     string
	Headers    map[string]string

	// Duration is the time from submission to headers delivered.
	Duration time.Duration

	body io.ReadCloser

	mu        sync.Mutex
	buf       []byte
	readyOnce sync.Once
	ready     *Result
}

// Body exposes the response body stream. Reads are governed by the body-read
// timeout and fail with a classified error independent of the outer result.
// The underlying connection returns to the pool only once the stream has
// been read to EOF; Close before EOF discards the connection.
func (r *Response) Body() io.ReadCloser {
	return r.body
}

// ContentReady returns a handle that resolves once the full body has been
// buffered, or fails with the body stream's classified error. After it
// resolves, BodyString and JSON read the buffered content.
func (r *Response) ContentReady() *Result {
	r.readyOnce.Do(func() {
		r.ready = newResult()
		go func() {
			data, err := io.ReadAll(r.body)
			if err != nil {
				r.ready.resolve(nil, err)
				return
			}
			r.mu.Lock()
			r.buf = data
			r.mu.Unlock()
			r.ready.resolve(r, nil)
		}()
	})
	return r.ready
}

// ReadBody drains the body synchronously and returns it. Shorthand for
// ContentReady().Get() followed by BodyString.
func (r *Response) ReadBody() ([]byte, error) {
	if _, err := r.ContentReady().Get(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf, nil
}

// BodyString returns the buffered body, or "" if the body has not been
// drained yet.
func (r *Response) BodyString() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// JSON extracts a value from the buffered body by gjson path.
func (r *Response) JSON(path string) gjson.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return gjson.GetBytes(r.buf, path)
}

// Header returns a header value by case-insensitive name.
func (r *Response) Header(key string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ContentType returns the Content-Type header.
func (r *Response) ContentType() string {
	return r.Header("Content-Type")
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

// emptyBody stands in for responses that carry no body (HEAD, 204, 304,
// explicit zero length); the exchange is already complete when it is built.
type emptyBody struct{}

func (emptyBody) Read([]byte) (int, error) { return 0, io.EOF }
func (emptyBody) Close() error             { return nil }
