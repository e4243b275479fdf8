package client

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/volley/packages/testserver"
)

func TestPipeline_FIFOOrderingPerConnection(t *testing.T) {
	var mu sync.Mutex
	perConn := make(map[net.Conn][]int)

	srv, err := testserver.Start(func(conn net.Conn, req *http.Request) bool {
		seq, _ := strconv.Atoi(req.Header.Get("X-Seq"))
		mu.Lock()
		perConn[conn] = append(perConn[conn], seq)
		mu.Unlock()
		return testserver.ReplyOK(200, "ok")(conn, req)
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithGuaranteeOrder(true))
	defer c.Close()

	const numRequests = 12
	results := make([]*Result, 0, numRequests)
	for i := 0; i < numRequests; i++ {
		req := NewRequest(http.MethodGet, "/").SetHeader("X-Seq", strconv.Itoa(i))
		results = append(results, c.Do(req))
	}
	for i, res := range results {
		resp, err := res.Get()
		require.NoError(t, err, "request %d", i)
		_, err = resp.ReadBody()
		require.NoError(t, err)
	}

	// on any one connection, wire order must match submission order
	mu.Lock()
	defer mu.Unlock()
	total := 0
	for conn, seqs := range perConn {
		total += len(seqs)
		for i := 1; i < len(seqs); i++ {
			assert.Greater(t, seqs[i], seqs[i-1], "out-of-order send on %v: %v", conn, seqs)
		}
	}
	assert.Equal(t, numRequests, total)
}

func TestPipeline_UnorderedAllComplete(t *testing.T) {
	srv, err := testserver.Start(
		testserver.DelayReply(10*time.Millisecond, testserver.ReplyOK(200, "ok")))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithGuaranteeOrder(false))
	defer c.Close()

	const numRequests = 20
	results := make([]*Result, 0, numRequests)
	for i := 0; i < numRequests; i++ {
		results = append(results, c.Get("/"))
	}
	for i, res := range results {
		resp, err := res.Get()
		require.NoError(t, err, "request %d", i)
		assert.Equal(t, 200, resp.StatusCode)
		_, err = resp.ReadBody()
		require.NoError(t, err)
	}
}

func TestPipeline_ConnectionReusedAfterDrain(t *testing.T) {
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})

	srv, err := testserver.Start(func(conn net.Conn, req *http.Request) bool {
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		return testserver.ReplyOK(200, "ok")(conn, req)
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	for i := 0; i < 3; i++ {
		resp, err := c.Get("/").Get()
		require.NoError(t, err)
		_, err = resp.ReadBody()
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, conns, 1, "sequential drained requests should share one connection")
}

func TestPipeline_StaleIdleConnectionRetriedOnce(t *testing.T) {
	// the server replies and then closes its side, leaving the client with
	// a half-closed connection in the pool
	srv, err := testserver.Start(func(conn net.Conn, req *http.Request) bool {
		testserver.ReplyOK(200, "ok")(conn, req)
		return false
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	_, err = resp.ReadBody()
	require.NoError(t, err)

	// give the server's FIN time to land so the pooled connection is stale
	time.Sleep(50 * time.Millisecond)

	resp, err = c.Get("/").Get()
	require.NoError(t, err, "stale idle connection should be retried on a fresh one")
	assert.Equal(t, 200, resp.StatusCode)
	assert.EqualValues(t, 2, srv.Requests())
}

func TestPipeline_NoContentCompletesImmediately(t *testing.T) {
	srv, err := testserver.Start(func(conn net.Conn, _ *http.Request) bool {
		_, _ = fmt.Fprintf(conn, "HTTP/1.1 204 No Content\r\n\r\n")
		return true
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	resp, err := c.Get("/").Get()
	require.NoError(t, err)
	assert.Equal(t, 204, resp.StatusCode)

	body, err := resp.ReadBody()
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestPipeline_HeadHasNoBody(t *testing.T) {
	srv, err := testserver.Start(func(conn net.Conn, _ *http.Request) bool {
		_, _ = fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n")
		return true
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	resp, err := c.Head("/").Get()
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := resp.ReadBody()
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestPipeline_ConnectionCloseHonored(t *testing.T) {
	var mu sync.Mutex
	conns := make(map[net.Conn]struct{})

	srv, err := testserver.Start(func(conn net.Conn, _ *http.Request) bool {
		mu.Lock()
		conns[conn] = struct{}{}
		mu.Unlock()
		_, _ = fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok")
		return false
	})
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL())
	defer c.Close()

	for i := 0; i < 2; i++ {
		resp, err := c.Get("/").Get()
		require.NoError(t, err, "request %d", i)
		_, err = resp.ReadBody()
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, conns, 2, "Connection: close must prevent reuse")
}

func TestPipeline_RateLimitThrottlesDispatch(t *testing.T) {
	srv, err := testserver.Start(testserver.ReplyOK(200, "ok"))
	require.NoError(t, err)
	defer srv.Close()

	c := New(srv.URL(), WithRateLimit(20, 1))
	defer c.Close()

	start := time.Now()
	results := make([]*Result, 0, 4)
	for i := 0; i < 4; i++ {
		results = append(results, c.Get("/"))
	}
	for _, res := range results {
		_, err := res.Get()
		require.NoError(t, err)
	}
	// 4 requests at 20 rps with burst 1 need ~150ms of pacing
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
