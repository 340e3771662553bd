package coalesce

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrExecute_ConcurrentCallersShareOneInvocation(t *testing.T) {
	c := New()
	var calls int32

	producer := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "details", nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrExecute("listing-1", producer)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one producer invocation, got %d", got)
	}
	for i, r := range results {
		if r != "details" {
			t.Fatalf("result[%d] = %v, want \"details\"", i, r)
		}
	}
}

func TestGetOrExecute_PropagatesProducerError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	_, err := c.GetOrExecute("listing-2", func() (any, error) { return nil, boom })
	if err == nil {
		t.Fatalf("expected error")
	}
	var pe *ProducerError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProducerError, got %T", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error to unwrap to boom")
	}
}

func TestGetOrExecute_ReExecutesAfterCompletion(t *testing.T) {
	c := New()
	var calls int32
	producer := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}
	if _, err := c.GetOrExecute("k", producer); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrExecute("k", producer); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected producer called twice across two sequential calls, got %d", got)
	}
}

func TestClear_AllowsImmediateReExecution(t *testing.T) {
	c := New()
	var calls int32
	block := make(chan struct{})
	go func() {
		c.GetOrExecute("k", func() (any, error) {
			atomic.AddInt32(&calls, 1)
			<-block
			return nil, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)
	c.Clear("k")
	if _, err := c.GetOrExecute("k", func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	close(block)
	time.Sleep(10 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected a fresh producer run after Clear while the first was in flight, got %d calls", got)
	}
}
