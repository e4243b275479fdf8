package httperr

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// Classify maps a transport-layer failure to exactly one Kind. It never
// returns KindUnknown for a non-nil error: ambiguous platform errors map to
// the closest defined kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	// Timer expiry, whether from our supervisor or a context deadline.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimedOut
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimedOut
	}

	// Connect-phase failures.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindHostUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTDOWN) {
		return KindHostUnreachable
	}

	// Established-connection failures.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) {
		return KindConnectionAborted
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return KindHostUnreachable
		}
		return KindConnectionAborted
	}

	// net/http response reading reports parse failures as plain errors;
	// "malformed" is the stable marker across its messages.
	if strings.Contains(err.Error(), "malformed") {
		return KindMalformedResponse
	}

	// Closest remaining bucket for anything that reached the wire.
	return KindConnectionAborted
}
