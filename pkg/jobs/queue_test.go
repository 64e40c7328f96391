package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := New[string]("test", func(_ context.Context, j Job[string]) error {
		done <- j.Payload
		return nil
	}, nil, Config{Workers: 2})

	require.Error(t, q.Enqueue(Job[string]{ID: "early"}))

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job[string]{ID: "1", Payload: "a"}))
	require.NoError(t, q.Enqueue(Job[string]{ID: "2", Payload: "b"}))

	got := []string{<-done, <-done}
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	var calls int32
	gaveUp := make(chan int, 1)
	q := New[int]("retry", func(context.Context, Job[int]) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("render failed")
	}, func(_ context.Context, j Job[int], err error) {
		gaveUp <- j.Attempt
	}, Config{MaxRetries: 2, RetryDelay: time.Millisecond})

	q.Start(context.Background())
	defer q.Stop()
	require.NoError(t, q.Enqueue(Job[int]{ID: "job"}))

	select {
	case attempts := <-gaveUp:
		assert.Equal(t, 3, attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("job never gave up")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
