package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunBlockingReturnsResult(t *testing.T) {
	p := New(2)
	defer p.Close(context.Background())

	v, err := p.RunBlocking(context.Background(), func() (any, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if v != 42 {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestRunBlockingPropagatesError(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())

	want := errors.New("task failed")
	_, err := p.RunBlocking(context.Background(), func() (any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 2
	p := New(size)
	defer p.Close(context.Background())

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RunBlocking(context.Background(), func() (any, error) {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency %d exceeded pool size %d", got, size)
	}
}

func TestCloseWaitsForOutstanding(t *testing.T) {
	p := New(1)

	started := make(chan struct{})
	go p.RunBlocking(context.Background(), func() (any, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		return nil, nil
	})
	<-started

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if p.Outstanding() != 0 {
		t.Fatalf("outstanding = %d after close, want 0", p.Outstanding())
	}
}

func TestRunBlockingAfterCloseFails(t *testing.T) {
	p := New(1)
	p.Close(context.Background())

	_, err := p.RunBlocking(context.Background(), func() (any, error) { return nil, nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestRunBlockingHonorsContextWhileQueued(t *testing.T) {
	p := New(1)
	defer p.Close(context.Background())

	release := make(chan struct{})
	go p.RunBlocking(context.Background(), func() (any, error) {
		<-release
		return nil, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.RunBlocking(ctx, func() (any, error) { return nil, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	close(release)
}
