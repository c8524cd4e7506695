package targetqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywire/fabric/pkg/core"
)

func TestAdd_DuplicateErrors(t *testing.T) {
	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {})
	require.NoError(t, s.Add("build", 2))
	assert.ErrorIs(t, s.Add("build", 2), core.ErrTargetExists)
}

func TestPush_DispatchesWithinConcurrency(t *testing.T) {
	var mu sync.Mutex
	var running, maxRunning int
	release := make(chan struct{})

	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {
		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		mu.Unlock()

		<-release

		mu.Lock()
		running--
		mu.Unlock()
	})
	require.NoError(t, s.Add("build", 2))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Push("build", uint64(i+1)))
	}

	// Allow dispatch goroutines to start.
	time.Sleep(50 * time.Millisecond)

	status, err := s.Status("build")
	require.NoError(t, err)
	assert.Equal(t, 5, status.Length)

	mu.Lock()
	assert.LessOrEqual(t, maxRunning, 2)
	mu.Unlock()

	close(release)
}

func TestPauseStopsNewDispatchButNotInflight(t *testing.T) {
	started := make(chan uint64, 10)
	block := make(chan struct{})

	var s *Set
	s = New(context.Background(), func(ctx context.Context, id uint64, target string) {
		started <- id
		<-block
		s.Done(target)
	})
	require.NoError(t, s.Add("build", 1))
	require.NoError(t, s.Push("build", 1))

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("first job never started")
	}

	require.NoError(t, s.Pause("build"))
	require.NoError(t, s.Push("build", 2))

	time.Sleep(50 * time.Millisecond)
	select {
	case id := <-started:
		t.Fatalf("job %d dispatched while paused", id)
	default:
	}

	close(block)

	require.NoError(t, s.Continue("build"))
	select {
	case id := <-started:
		assert.Equal(t, uint64(2), id)
	case <-time.After(time.Second):
		t.Fatal("second job never dispatched after continue")
	}
}

func TestRemove_ErrorsWhenNonEmpty(t *testing.T) {
	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {})
	require.NoError(t, s.Add("build", 1))
	require.NoError(t, s.Push("build", 1))

	assert.ErrorIs(t, s.Remove("build"), core.ErrTargetNotEmpty)
}

func TestRemove_UnknownTarget(t *testing.T) {
	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {})
	assert.ErrorIs(t, s.Remove("missing"), core.ErrTargetNotFound)
}

func TestSetConcurrency_DispatchesMoreWhenRaised(t *testing.T) {
	started := make(chan uint64, 10)
	block := make(chan struct{})

	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {
		started <- id
		<-block
	})
	require.NoError(t, s.Add("build", 1))
	require.NoError(t, s.Push("build", 1))
	require.NoError(t, s.Push("build", 2))

	<-started
	select {
	case <-started:
		t.Fatal("second job dispatched before concurrency was raised")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, s.SetConcurrency("build", 2))
	select {
	case id := <-started:
		assert.Equal(t, uint64(2), id)
	case <-time.After(time.Second):
		t.Fatal("second job never dispatched after raising concurrency")
	}
	close(block)
}

func TestOnFinishedCalledAfterDone(t *testing.T) {
	var s *Set
	s = New(context.Background(), func(ctx context.Context, id uint64, target string) {
		s.Done(target)
	})
	require.NoError(t, s.Add("build", 1))

	finished := make(chan string, 1)
	s.OnFinished(func(target string) { finished <- target })

	require.NoError(t, s.Push("build", 1))
	select {
	case target := <-finished:
		assert.Equal(t, "build", target)
	case <-time.After(time.Second):
		t.Fatal("onFinished never called")
	}
}

func TestServedAndNames(t *testing.T) {
	s := New(context.Background(), func(ctx context.Context, id uint64, target string) {})
	require.NoError(t, s.Add("build", 1))
	require.NoError(t, s.Add("deploy", 1))

	served := s.Served()
	assert.True(t, served["build"])
	assert.True(t, served["deploy"])
	assert.Len(t, s.Names(), 2)
}
