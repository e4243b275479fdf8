package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_WriteOnce(t *testing.T) {
	res := newResult()
	first := &Response{StatusCode: 200}

	assert.True(t, res.resolve(first, nil))
	assert.False(t, res.resolve(nil, errors.New("late failure")), "second write must lose")

	resp, err := res.Get()
	require.NoError(t, err)
	assert.Same(t, first, resp)
}

func TestResult_ConcurrentWritersExactlyOneWins(t *testing.T) {
	res := newResult()

	const writers = 16
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if res.resolve(nil, errors.New("boom")) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	_, err := res.Get()
	assert.Error(t, err)
}

func TestResult_DoneSignals(t *testing.T) {
	res := newResult()

	select {
	case <-res.Done():
		t.Fatal("done before resolution")
	default:
	}
	assert.NoError(t, res.Err())

	res.resolve(nil, errors.New("boom"))

	select {
	case <-res.Done():
	case <-time.After(time.Second):
		t.Fatal("done never closed")
	}
	assert.Error(t, res.Err())
}

func TestResult_GetContext(t *testing.T) {
	res := newResult()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := res.GetContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res.resolve(&Response{StatusCode: 200}, nil)
	resp, err := res.GetContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
