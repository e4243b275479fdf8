package client

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponse_Header(t *testing.T) {
	r := &Response{Headers: map[string]string{"Content-Type": "application/json"}}
	assert.Equal(t, "application/json", r.Header("content-type"))
	assert.Equal(t, "application/json", r.ContentType())
	assert.Equal(t, "", r.Header("X-Missing"))
}

func TestResponse_StatusHelpers(t *testing.T) {
	assert.True(t, (&Response{StatusCode: 204}).IsSuccess())
	assert.True(t, (&Response{StatusCode: 404}).IsClientError())
	assert.True(t, (&Response{StatusCode: 503}).IsServerError())
	assert.False(t, (&Response{StatusCode: 301}).IsSuccess())
}

func TestResponse_EmptyBody(t *testing.T) {
	r := &Response{StatusCode: 204, body: emptyBody{}}

	res, err := r.ContentReady().Get()
	require.NoError(t, err)
	assert.Same(t, r, res)

	n, err := r.Body().Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestResponse_JSON(t *testing.T) {
	r := &Response{body: emptyBody{}}
	r.buf = []byte(`{"items": [{"id": 7}], "ok": true}`)

	assert.EqualValues(t, 7, r.JSON("items.0.id").Int())
	assert.True(t, r.JSON("ok").Bool())
	assert.False(t, r.JSON("missing").Exists())
	assert.Equal(t, `{"items": [{"id": 7}], "ok": true}`, r.BodyString())
}

func TestResponse_ContentReadyIsIdempotent(t *testing.T) {
	r := &Response{body: emptyBody{}}
	assert.Same(t, r.ContentReady(), r.ContentReady())
}
