package cbq

import (
	"testing"
	"time"

	"github.com/lagopus-go/dpqueue/errs"
	"github.com/lagopus-go/dpqueue/qmux"
)

// S4
func TestScenarioQMUXReadable(t *testing.T) {
	q1 := mustNew[int](t, 4, nil)
	q2 := mustNew[int](t, 4, nil)
	h1 := NewPollHandle[int](q1, InterestR)
	h2 := NewPollHandle[int](q2, InterestR)

	mux := qmux.New()
	resultCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		n, err := mux.Poll([]qmux.Handle{h1, h2}, -1)
		resultCh <- n
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q2.Put(99, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	select {
	case n := <-resultCh:
		if err := <-errCh; err != nil {
			t.Fatalf("poll error: %v", err)
		}
		if n != 1 {
			t.Fatalf("poll returned %d ready handles, want 1", n)
		}
		if h2.Size() != 1 {
			t.Fatalf("h2.Size() = %d, want 1", h2.Size())
		}
		if h1.Size() != 0 {
			t.Fatalf("h1.Size() = %d, want 0", h1.Size())
		}
	case <-time.After(time.Second):
		t.Fatal("poll never returned")
	}
}

// S5
func TestScenarioQMUXTimeoutWithSpuriousWakes(t *testing.T) {
	q1 := mustNew[int](t, 4, nil)
	q2 := mustNew[int](t, 4, nil)
	h1 := NewPollHandle[int](q1, InterestR)
	h2 := NewPollHandle[int](q2, InterestR)
	mux := qmux.New()

	resultCh := make(chan error, 1)
	start := time.Now()
	go func() {
		_, err := mux.Poll([]qmux.Handle{h1, h2}, 100*time.Millisecond)
		resultCh <- err
	}()

	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		_ = q1.Clear(false)
	}

	select {
	case err := <-resultCh:
		if !errs.Is(err, errs.KindTimedOut) {
			t.Fatalf("poll result: want timed-out, got %v", err)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Fatalf("poll returned after %v, want >= 100ms", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll never returned")
	}
}

func TestPollHandleNullQueueIsSkipped(t *testing.T) {
	h := NewPollHandle[int](nil, InterestR|InterestW)
	ready, hasQueue := h.Prepare(qmux.ModePre, nil)
	if ready || hasQueue {
		t.Fatalf("null-queue handle: ready=%v hasQueue=%v, want false/false", ready, hasQueue)
	}
}

func TestPollAllNullHandlesIsInvalidArgs(t *testing.T) {
	h1 := NewPollHandle[int](nil, InterestR)
	h2 := NewPollHandle[int](nil, InterestW)
	mux := qmux.New()
	_, err := mux.Poll([]qmux.Handle{h1, h2}, -1)
	if !errs.Is(err, errs.KindInvalidArgs) {
		t.Fatalf("want invalid-args, got %v", err)
	}
}

func TestSetQueueRejectsNonOperational(t *testing.T) {
	q := mustNew[int](t, 1, nil)
	_ = q.Shutdown(false)
	h := NewPollHandle[int](nil, InterestR)
	if err := h.SetQueue(q); !errs.Is(err, errs.KindInvalidArgs) {
		t.Fatalf("binding a shut-down queue: want invalid-args, got %v", err)
	}
}
