// Package testserver provides a scriptable TCP-level HTTP server for
// exercising the client engine against misbehaving peers: servers that close
// without replying, reply after a delay, or send headers and then stall the
// body forever.
package testserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Handler serves one parsed request on its raw connection and reports
// whether the connection should stay open for another request.
type Handler func(conn net.Conn, req *http.Request) bool

// Server accepts connections on a loopback port and hands each request to
// its handler.
type Server struct {
	ln      net.Listener
	handler Handler

	requests atomic.Int64

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wg sync.WaitGroup
}

// Start listens on an ephemeral loopback port.
func Start(h Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testserver listen: %w", err)
	}
	s := &Server{
		ln:      ln,
		handler: h,
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// URL returns the server's http base URL.
func (s *Server) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Requests reports how many requests have been parsed so far.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		s.requests.Add(1)
		if req.Body != nil {
			// drain so a keep-alive connection is positioned at the next
			// request boundary
			_, _ = io.Copy(io.Discard, req.Body)
			_ = req.Body.Close()
		}
		if !s.handler(conn, req) {
			return
		}
	}
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()
}

// ReplyOK answers every request with the given status and body and keeps the
// connection open for reuse.
func ReplyOK(status int, body string) Handler {
	return func(conn net.Conn, _ *http.Request) bool {
		writeResponse(conn, status, body)
		return true
	}
}

// CloseWithoutReply accepts the request and slams the connection shut
// without a response.
func CloseWithoutReply() Handler {
	return func(net.Conn, *http.Request) bool {
		return false
	}
}

// DelayReply waits d before delegating to next.
func DelayReply(d time.Duration, next Handler) Handler {
	return func(conn net.Conn, req *http.Request) bool {
		time.Sleep(d)
		return next(conn, req)
	}
}

// HeadersThenStall sends a success status line and headers announcing a body
// that never arrives, leaving the connection open.
func HeadersThenStall() Handler {
	return func(conn net.Conn, _ *http.Request) bool {
		_, _ = fmt.Fprintf(conn,
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 1024\r\n\r\n")
		return true
	}
}

// HeadersAndPartialBody sends headers plus a prefix of the announced body,
// then stalls.
func HeadersAndPartialBody(prefix string, total int) Handler {
	return func(conn net.Conn, _ *http.Request) bool {
		_, _ = fmt.Fprintf(conn,
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", total, prefix)
		return true
	}
}

func writeResponse(conn net.Conn, status int, body string) {
	_, _ = fmt.Fprintf(conn,
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}
