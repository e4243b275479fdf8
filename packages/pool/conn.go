package pool

import (
	"bufio"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// State is a connection's lifecycle position.
type State int

const (
	// StateIdle means the pool owns the connection and may lend it out.
	StateIdle State = iota
	// StateInUse means exactly one in-flight request holds the connection.
	StateInUse
	// StateClosed means the connection is dead and will never be reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	default:
		return "closed"
	}
}

// Destination identifies a reusable connection target.
type Destination struct {
	Scheme string
	Host   string
	Port   int
}

// DestinationFor derives the destination key from a request URL, filling in
// the scheme's default port when the URL carries none.
func DestinationFor(u *url.URL) Destination {
	d := Destination{Scheme: u.Scheme, Host: u.Hostname()}
	if ps := u.Port(); ps != "" {
		d.Port, _ = strconv.Atoi(ps)
	} else if u.Scheme == "https" {
		d.Port = 443
	} else {
		d.Port = 80
	}
	return d
}

// Addr returns the dialable host:port form.
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d Destination) String() string {
	return d.Scheme + "://" + d.Addr()
}

// Conn wraps one transport connection together with its pool state and a
// buffered reader for response parsing.
type Conn struct {
	dest       Destination
	nc         net.Conn
	br         *bufio.Reader
	state      State
	lastActive time.Time

	closeOnce sync.Once
}

func newConn(dest Destination, nc net.Conn) *Conn {
	return &Conn{
		dest:       dest,
		nc:         nc,
		br:         bufio.NewReader(nc),
		state:      StateInUse,
		lastActive: time.Now(),
	}
}

// Destination returns the connection's target key.
func (c *Conn) Destination() Destination {
	return c.dest
}

// Write sends request bytes to the remote.
func (c *Conn) Write(b []byte) (int, error) {
	return c.nc.Write(b)
}

// Reader exposes the buffered read side for the response parser.
func (c *Conn) Reader() *bufio.Reader {
	return c.br
}

// Abort closes the underlying transport, unblocking any in-progress read or
// write at its next suspension point. Timer expiry uses this to cancel an
// exchange cooperatively.
func (c *Conn) Abort() {
	c.close()
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		_ = c.nc.Close()
	})
}
