package cbq

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/lagopus-go/dpqueue/errs"
)

func mustNew[T any](t *testing.T, capacity int, disposer Disposer[T]) *Queue[T] {
	t.Helper()
	q, err := New[T](capacity, disposer)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return q
}

// S1
func TestScenarioBasicPutGet(t *testing.T) {
	q := mustNew[int](t, 4, nil)

	for _, v := range []int{1, 2, 3, 4} {
		if err := q.Put(v, 0); err != nil {
			t.Fatalf("put %d: %v", v, err)
		}
	}

	if err := q.Put(5, 0); !errs.Is(err, errs.KindTimedOut) {
		t.Fatalf("put 5 on a full queue: want timed-out, got %v", err)
	}

	buf := make([]int, 10)
	n, err := q.GetN(buf, 1, 0)
	if err != nil {
		t.Fatalf("get_n: %v", err)
	}
	if n != 4 {
		t.Fatalf("get_n actual = %d, want 4", n)
	}
	for i, want := range []int{1, 2, 3, 4} {
		if buf[i] != want {
			t.Fatalf("get_n[%d] = %d, want %d", i, buf[i], want)
		}
	}

	if err := q.Put(5, 0); err != nil {
		t.Fatalf("put 5 after drain: %v", err)
	}
}

// S2
func TestScenarioShutdownRace(t *testing.T) {
	var disposed []int
	var mu sync.Mutex
	q := mustNew[int](t, 1, Disposer[int](func(v int) {
		mu.Lock()
		disposed = append(disposed, v)
		mu.Unlock()
	}))

	if err := q.Put(42, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		buf := make([]int, 2)
		_, err := q.GetN(buf, 2, -1)
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Shutdown(true); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case err := <-resultCh:
		if !errs.Is(err, errs.KindNotOperational) {
			t.Fatalf("blocked get_n after shutdown: want not-operational, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("get_n did not return after shutdown")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(disposed) != 1 || disposed[0] != 42 {
		t.Fatalf("disposed = %v, want [42] exactly once", disposed)
	}
}

// S3
func TestScenarioWakeupBarrier(t *testing.T) {
	q := mustNew[int](t, 2, nil)

	results := make(chan error, 2)
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			started <- struct{}{}
			_, err := q.Get(-1)
			results <- err
		}()
	}
	<-started
	<-started
	time.Sleep(20 * time.Millisecond)

	if err := q.Wakeup(time.Second); err != nil {
		t.Fatalf("wakeup: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if !errs.Is(err, errs.KindWakeupRequested) {
				t.Fatalf("blocked getter: want wakeup-requested, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("a blocked getter never returned")
		}
	}
}

func TestWakeupWithNoWaitersReturnsImmediately(t *testing.T) {
	q := mustNew[int](t, 1, nil)
	start := time.Now()
	if err := q.Wakeup(time.Second); err != nil {
		t.Fatalf("wakeup: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("wakeup with no waiters took %v, want near-instant", time.Since(start))
	}
}

// P1
func TestPropertyNoLoss(t *testing.T) {
	q := mustNew[int](t, 8, nil)
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := q.Put(i, -1); err != nil {
				t.Errorf("put %d: %v", i, err)
				return
			}
		}
	}()

	got := make([]int, 0, n)
	for len(got) < n {
		v, err := q.Get(-1)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		got = append(got, v)
	}
	wg.Wait()

	sort.Ints(got)
	for i, v := range got {
		if v != i {
			t.Fatalf("multiset mismatch at %d: got %d", i, v)
		}
	}
}

// P2
func TestPropertyFIFOSingleProducerSingleConsumer(t *testing.T) {
	q := mustNew[int](t, 4, nil)
	const n = 500

	go func() {
		for i := 0; i < n; i++ {
			_ = q.Put(i, -1)
		}
	}()

	for i := 0; i < n; i++ {
		v, err := q.Get(-1)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if v != i {
			t.Fatalf("FIFO violated: got %d, want %d", v, i)
		}
	}
}

// P3
func TestPropertyBounded(t *testing.T) {
	q := mustNew[int](t, 3, nil)
	for i := 0; i < 3; i++ {
		if err := q.Put(i, 0); err != nil {
			t.Fatalf("put: %v", err)
		}
		size, err := q.Size()
		if err != nil {
			t.Fatalf("size: %v", err)
		}
		if size < 0 || size > 3 {
			t.Fatalf("size %d out of bounds", size)
		}
	}
	if full, _ := q.IsFull(); !full {
		t.Fatal("queue should be full")
	}
}

// P4
func TestPropertyBatchedEquivalence(t *testing.T) {
	qBatch := mustNew[int](t, 10, nil)
	qSingle := mustNew[int](t, 10, nil)

	values := []int{1, 2, 3, 4, 5}
	if n, err := qBatch.PutN(values, 0); err != nil || n != len(values) {
		t.Fatalf("put_n: n=%d err=%v", n, err)
	}
	for _, v := range values {
		if err := qSingle.Put(v, 0); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	bufBatch := make([]int, len(values))
	bufSingle := make([]int, len(values))
	if _, err := qBatch.GetN(bufBatch, len(values), 0); err != nil {
		t.Fatalf("get_n batch: %v", err)
	}
	if _, err := qSingle.GetN(bufSingle, len(values), 0); err != nil {
		t.Fatalf("get_n single: %v", err)
	}
	for i := range values {
		if bufBatch[i] != bufSingle[i] {
			t.Fatalf("batch/single divergence at %d: %d vs %d", i, bufBatch[i], bufSingle[i])
		}
	}
}

// P5
func TestPropertyPeekIdempotence(t *testing.T) {
	q := mustNew[int](t, 10, nil)
	values := []int{7, 8, 9}
	if _, err := q.PutN(values, 0); err != nil {
		t.Fatalf("put_n: %v", err)
	}

	peekBuf := make([]int, 3)
	peekN, err := q.PeekN(peekBuf, 3, 0)
	if err != nil {
		t.Fatalf("peek_n: %v", err)
	}

	getBuf := make([]int, 3)
	getN, err := q.GetN(getBuf, 3, 0)
	if err != nil {
		t.Fatalf("get_n: %v", err)
	}

	if peekN != getN {
		t.Fatalf("peek_n count %d != get_n count %d", peekN, getN)
	}
	for i := range peekBuf {
		if peekBuf[i] != getBuf[i] {
			t.Fatalf("peek/get divergence at %d: %d vs %d", i, peekBuf[i], getBuf[i])
		}
	}
}

// Regression: a PeekN call that must wait across more than one wakeup used
// to re-copy from the unmoved read_index on every resumed iteration,
// landing each iteration's copy at the wrong source offset and duplicating
// already-peeked elements instead of reading the ones after them.
func TestPropertyPeekNAcrossMultipleWakeupsDoesNotDuplicate(t *testing.T) {
	q := mustNew[int](t, 10, nil)

	peekBuf := make([]int, 3)
	done := make(chan struct{})
	var peekN int
	var peekErr error
	go func() {
		peekN, peekErr = q.PeekN(peekBuf, 3, -1)
		close(done)
	}()

	// Three separate puts, spaced out, so PeekN's wait loop resumes more
	// than once before min is satisfied.
	if err := q.Put(7, -1); err != nil {
		t.Fatalf("put 0: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := q.Put(8, -1); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := q.Put(9, -1); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("PeekN did not return")
	}
	if peekErr != nil {
		t.Fatalf("peek_n: %v", peekErr)
	}
	if peekN != 3 {
		t.Fatalf("peek_n count = %d, want 3", peekN)
	}
	want := []int{7, 8, 9}
	for i := range want {
		if peekBuf[i] != want[i] {
			t.Fatalf("peek_n result = %v, want %v", peekBuf, want)
		}
	}

	// The elements must still be resident (peek never advances read_index).
	getBuf := make([]int, 3)
	getN, err := q.GetN(getBuf, 3, 0)
	if err != nil {
		t.Fatalf("get_n: %v", err)
	}
	if getN != 3 {
		t.Fatalf("get_n count = %d, want 3", getN)
	}
	for i := range want {
		if getBuf[i] != want[i] {
			t.Fatalf("get_n result = %v, want %v", getBuf, want)
		}
	}
}

// P6
func TestPropertyShutdownTerminality(t *testing.T) {
	q := mustNew[int](t, 1, nil)
	if err := q.Shutdown(false); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if err := q.Put(1, -1); !errs.Is(err, errs.KindNotOperational) {
		t.Fatalf("put after shutdown: want not-operational, got %v", err)
	}
	if _, err := q.Get(-1); !errs.Is(err, errs.KindNotOperational) {
		t.Fatalf("get after shutdown: want not-operational, got %v", err)
	}
	if _, err := q.Size(); !errs.Is(err, errs.KindNotOperational) {
		t.Fatalf("size after shutdown: want not-operational, got %v", err)
	}
	if q.IsOperational() {
		t.Fatal("queue reports operational after shutdown")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	q := mustNew[int](t, 1, nil)
	if err := q.Shutdown(false); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := q.Shutdown(false); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestClearNotifiesBothInterests(t *testing.T) {
	q := mustNew[int](t, 2, nil)
	if err := q.Put(1, 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	sig := &countingObserver{}
	q.mu.Lock()
	q.obs = sig
	q.obsInterest = InterestR | InterestW
	q.mu.Unlock()

	if err := q.Clear(false); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if sig.count != 1 {
		t.Fatalf("observer signalled %d times, want 1", sig.count)
	}
}

type countingObserver struct {
	mu    sync.Mutex
	count int
}

func (c *countingObserver) Signal() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func TestGetNInvalidArgs(t *testing.T) {
	q := mustNew[int](t, 4, nil)
	buf := make([]int, 2)
	if _, err := q.GetN(buf, 0, 0); !errs.Is(err, errs.KindInvalidArgs) {
		t.Fatalf("min=0: want invalid-args, got %v", err)
	}
	if _, err := q.GetN(buf, 3, 0); !errs.Is(err, errs.KindInvalidArgs) {
		t.Fatalf("min>max: want invalid-args, got %v", err)
	}
}

func TestPutNTimeoutReportsPartialActual(t *testing.T) {
	q := mustNew[int](t, 2, nil)
	n, err := q.PutN([]int{1, 2, 3}, 30*time.Millisecond)
	if !errs.Is(err, errs.KindTimedOut) {
		t.Fatalf("want timed-out, got %v", err)
	}
	if n != 2 {
		t.Fatalf("actual = %d, want 2", n)
	}
}
