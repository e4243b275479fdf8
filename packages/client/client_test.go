package client

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/volley/packages/httperr"
	"github.com/abdul-hamid-achik/volley/packages/metrics"
	"github.com/abdul-hamid-achik/volley/packages/testserver"
)

// closedPortURL reserves a loopback port and closes it so connects are
// refused.
func closedPortURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())
	return url
}

func TestClient_Get(t *testing.T) {
	srv, err := testserver.Start(testserver.ReplyOK(200, `{"message": "hello"}`))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header("Content-Type"))

	body, err := resp.ReadBody()
	require.NoError(t, err)
	assert.Contains(t, string(body), "hello")
	assert.Equal(t, "hello", resp.JSON("message").String())
}

func TestClient_PendingRequestsAfterClose(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		name := "unordered"
		if ordered {
			name = "ordered"
		}
		t.Run(name, func(t *testing.T) {
			srv, err := testserver.Start(
				testserver.DelayReply(20*time.Millisecond, testserver.ReplyOK(200, "ok")))
			require.NoError(t, err)
			defer srv.Close()

			const numRequests = 10
			results := make([]*Result, 0, numRequests)

			c := New(srv.URL(), WithGuaranteeOrder(ordered))
			for i := 0; i < numRequests; i++ {
				results = append(results, c.Get("/"))
			}
			// the handle goes away while every request is still in flight
			c.Close()

			for i, res := range results {
				resp, err := res.Get()
				require.NoError(t, err, "request %d", i)
				assert.Equal(t, 200, resp.StatusCode)
				body, err := resp.ReadBody()
				require.NoError(t, err)
				assert.Equal(t, "ok", string(body))
			}
		})
	}
}

func TestClient_ServerDoesntExist(t *testing.T) {
	c := New(closedPortURL(t))
	defer c.Close()

	// every request classifies the same way, not just the first
	for i := 0; i < 3; i++ {
		_, err := c.Get("/").Get()
		require.Error(t, err)
		assert.Equal(t, httperr.KindHostUnreachable, httperr.KindOf(err), "request %d", i)
	}
}

func TestClient_OpenFailure(t *testing.T) {
	// constructing with a malformed authority must not fail; the error is
	// surfaced through the result handle
	c := New("http://localhost323:-1")
	defer c.Close()

	res := c.Get("/")
	_, err := res.Get()
	require.Error(t, err)
	assert.Equal(t, httperr.KindHostUnreachable, httperr.KindOf(err))
}

func TestClient_ServerCloseWithoutResponding(t *testing.T) {
	// run the scenario twice: classification is deterministic across runs
	for run := 0; run < 2; run++ {
		t.Run(fmt.Sprintf("run%d", run), func(t *testing.T) {
			srv, err := testserver.Start(testserver.CloseWithoutReply())
			require.NoError(t, err)
			defer srv.Close()

			c := New(srv.URL())
			defer c.Close()

			_, err = c.Put("/", "data").Get()
			require.Error(t, err)
			assert.Equal(t, httperr.KindConnectionAborted, httperr.KindOf(err))

			// the pool connection was invalidated by the remote close
			_, err = c.Get("/").Get()
			require.Error(t, err)
			assert.Equal(t, httperr.KindHostUnreachable, httperr.KindOf(err))
		})
	}
}

func TestClient_RequestTimeout(t *testing.T) {
	srv, err := testserver.Start(
		testserver.DelayReply(500*time.Millisecond, testserver.ReplyOK(200, "late")))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithTimeout(50*time.Millisecond))
	defer c.Close()

	start := time.Now()
	_, err = c.Get("/").Get()
	require.Error(t, err)
	assert.Equal(t, httperr.KindTimedOut, httperr.KindOf(err))
	assert.Less(t, time.Since(start), 400*time.Millisecond, "request must not hang")
}

func TestClient_PerRequestTimeoutOverride(t *testing.T) {
	srv, err := testserver.Start(
		testserver.DelayReply(100*time.Millisecond, testserver.ReplyOK(200, "ok")))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithTimeout(20*time.Millisecond))
	defer c.Close()

	resp, err := c.Do(NewRequest(http.MethodGet, "/").SetTimeout(time.Second)).Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_ContentReadyTimeout(t *testing.T) {
	srv, err := testserver.Start(testserver.HeadersThenStall())
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithTimeout(100*time.Millisecond))
	defer c.Close()

	// headers arrive fine; the response itself is delivered
	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	// the body never arrives, so content readiness fails on its own timer
	_, err = resp.ContentReady().Get()
	require.Error(t, err)
	assert.Equal(t, httperr.KindTimedOut, httperr.KindOf(err))
}

func TestClient_StreamTimeout(t *testing.T) {
	srv, err := testserver.Start(testserver.HeadersAndPartialBody("abc", 100))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithTimeout(time.Second), WithBodyTimeout(80*time.Millisecond))
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 64)
	var readErr error
	for {
		n, err := resp.Body().Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			readErr = err
			break
		}
	}

	require.Error(t, readErr)
	assert.Equal(t, httperr.KindTimedOut, httperr.KindOf(readErr))
	assert.Equal(t, "abc", string(got))

	// the stream error is sticky
	_, err = resp.Body().Read(buf)
	assert.Equal(t, httperr.KindTimedOut, httperr.KindOf(err))
}

func TestClient_NoTimeoutConfigured(t *testing.T) {
	srv, err := testserver.Start(
		testserver.DelayReply(50*time.Millisecond, testserver.ReplyOK(200, "ok")))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithTimeout(0))
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_RelativeTargetWithoutBase(t *testing.T) {
	c := New("")
	defer c.Close()

	_, err := c.Get("/x").Get()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a base URL")
}

func TestClient_AbsoluteTargetIgnoresBase(t *testing.T) {
	srv, err := testserver.Start(testserver.ReplyOK(200, "direct"))
	require.NoError(t, err)
	defer srv.Close()

	c := New("")
	defer c.Close()

	resp, err := c.Get(srv.URL() + "/x").Get()
	require.NoError(t, err)
	body, err := resp.ReadBody()
	require.NoError(t, err)
	assert.Equal(t, "direct", string(body))
}

func TestClient_SubmitDoesNotBlock(t *testing.T) {
	srv, err := testserver.Start(
		testserver.DelayReply(200*time.Millisecond, testserver.ReplyOK(200, "slow")))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	start := time.Now()
	res := c.Get("/")
	assert.Less(t, time.Since(start), 50*time.Millisecond, "Do must return immediately")

	resp, err := res.Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestClient_DefaultHeaders(t *testing.T) {
	var got string
	srv, err := testserver.Start(func(conn net.Conn, req *http.Request) bool {
		got = req.Header.Get("Authorization")
		return testserver.ReplyOK(200, "ok")(conn, req)
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithDefaultHeader("Authorization", "test-token"))
	defer c.Close()

	_, err = c.Get("/").Get()
	require.NoError(t, err)
	assert.Equal(t, "test-token", got)
}

func TestClient_QueryParams(t *testing.T) {
	var got string
	srv, err := testserver.Start(func(conn net.Conn, req *http.Request) bool {
		got = req.URL.RawQuery
		return testserver.ReplyOK(200, "ok")(conn, req)
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	_, err = c.Do(NewRequest(http.MethodGet, "/search").SetQueryParam("q", "volley")).Get()
	require.NoError(t, err)
	assert.Equal(t, "q=volley", got)
}

func TestClient_MetricsRecorded(t *testing.T) {
	srv, err := testserver.Start(testserver.ReplyOK(200, "ok"))
	require.NoError(t, err)
	defer srv.Close()

	collector := metrics.NewCollector()
	c := New(srv.URL(), WithMetrics(collector))
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	_, err = resp.ReadBody()
	require.NoError(t, err)

	_, err = New(closedPortURL(t), WithMetrics(collector)).Get("/").Get()
	require.Error(t, err)

	s := collector.Snapshot()
	assert.Equal(t, int64(2), s.Total)
	assert.Equal(t, int64(1), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.ByKind["host_unreachable"])
}
