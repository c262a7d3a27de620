package appstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsSequentially(t *testing.T) {
	c := New(8)
	defer c.Stop()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Submit("increment", func(ctx context.Context) (interface{}, error) {
				atomic.AddInt64(&counter, 1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != 20 {
		t.Errorf("counter = %d, want 20", got)
	}
}

func TestSubmitReturnsResultAndError(t *testing.T) {
	c := New(4)
	defer c.Stop()

	value, err := c.Submit("echo", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if value != 42 {
		t.Errorf("value = %v, want 42", value)
	}
}

func TestResetToFreshInstallRejectsConcurrentReset(t *testing.T) {
	c := New(4)
	defer c.Stop()

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		c.ResetToFreshInstall(func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	err := c.ResetToFreshInstall(func(ctx context.Context) error { return nil })
	close(release)
	if err == nil {
		t.Fatal("expected the concurrent reset to fail fast")
	}
}

func TestStopPreventsFurtherSubmit(t *testing.T) {
	c := New(4)
	c.Stop()

	time.Sleep(time.Millisecond)
	_, err := c.Submit("noop", func(ctx context.Context) (interface{}, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected Submit to fail after Stop")
	}
}
