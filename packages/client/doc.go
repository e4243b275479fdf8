// Package client implements the volley asynchronous HTTP client engine.
//
// A Client submits requests over pooled TCP (optionally TLS) connections and
// returns results through asynchronous handles:
//   - Do never fails synchronously and never blocks on network I/O; every
//     failure is delivered through the returned Result.
//   - The engine state (connection pool plus pending-request registry) is
//     reference counted, so requests already in flight run to completion even
//     if the Client handle is closed right after submission.
//   - A Response resolves once headers arrive; its body is a stream whose
//     reads can independently fail with a timeout after the outer result
//     already succeeded.
package client
