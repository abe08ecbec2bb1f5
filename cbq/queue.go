// Package cbq implements the bounded, blocking multi-producer/multi-consumer
// circular queue that underlies the rest of this module. A Queue[T] is a
// fixed-capacity ring of T; put/get block (optionally with a deadline) when
// the ring is full/empty, and a Queue may be bound to a single qmux.Mux
// observer at a time so callers can multiplex reads/writes across many
// queues without per-queue polling goroutines.
//
// The locking shape here is the same one used for the commit and flush
// barriers elsewhere in this codebase: hold the mutex, loop on a predicate
// with sync.Cond.Wait, mutate state and signal the counterpart condvar
// before releasing the lock.
package cbq

import (
	"sync"
	"time"

	"github.com/lagopus-go/dpqueue/errs"
	"github.com/lagopus-go/dpqueue/qmux"
)

// Disposer is invoked for every element discarded by Clear or Shutdown when
// the caller asks for disposal. It is never called concurrently with itself
// on the same queue.
type Disposer[T any] func(T)

// Queue is a bounded circular buffer of T. The zero value is not usable;
// construct with New.
type Queue[T any] struct {
	mu           sync.Mutex
	condPut      *sync.Cond
	condGet      *sync.Cond
	condAwakened *sync.Cond

	slots      []T
	capacity   int
	readIndex  uint64
	writeIndex uint64
	count      int

	operational bool
	waking      bool
	waiters     int

	disposer Disposer[T]

	obs         qmux.Observer
	obsInterest Interest
}

// New constructs a Queue with the given logical capacity (the backing store
// is sized capacity+1, a sentinel slot that lets index arithmetic stay
// wrap-safe under plain modulo math — see copyInLocked). disposer may
// be nil.
func New[T any](capacity int, disposer Disposer[T]) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, errs.New("cbq.New", errs.KindInvalidArgs, nil)
	}
	q := &Queue[T]{
		slots:       make([]T, capacity+1),
		capacity:    capacity,
		operational: true,
		disposer:    disposer,
	}
	q.condPut = sync.NewCond(&q.mu)
	q.condGet = sync.NewCond(&q.mu)
	q.condAwakened = sync.NewCond(&q.mu)
	return q, nil
}

// ---- state observers ----

func (q *Queue[T]) Size() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.operational {
		return 0, errs.New("cbq.Size", errs.KindNotOperational, nil)
	}
	return q.count, nil
}

func (q *Queue[T]) RemainingCapacity() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.operational {
		return 0, errs.New("cbq.RemainingCapacity", errs.KindNotOperational, nil)
	}
	return q.capacity - q.count, nil
}

// MaxCapacity never fails; it reflects construction-time configuration, not
// live state.
func (q *Queue[T]) MaxCapacity() int {
	return q.capacity
}

func (q *Queue[T]) IsFull() (bool, error) {
	n, err := q.Size()
	if err != nil {
		return false, err
	}
	return n == q.capacity, nil
}

func (q *Queue[T]) IsEmpty() (bool, error) {
	n, err := q.Size()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// IsOperational never fails, per spec: it's the one state observer still
// meaningful after shutdown.
func (q *Queue[T]) IsOperational() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.operational
}

// ---- put/get/peek ----

// Put inserts exactly one element, or fails: timed-out if the deadline
// (including timeout == 0, the non-blocking case) elapses with no room,
// not-operational if shut down, wakeup-requested if externally woken.
func (q *Queue[T]) Put(elt T, timeout time.Duration) error {
	var buf [1]T
	buf[0] = elt
	_, err := q.putCore("cbq.Put", buf[:], timeout, true)
	return err
}

// PutN inserts up to len(elts). timeout == 0 inserts as many as fit right
// now and always reports ok (actual may be less than len(elts), even zero);
// timeout < 0 waits as needed to insert all of them; timeout > 0 does the
// same but bounded, returning timed-out with a partial actual count if the
// deadline elapses first.
func (q *Queue[T]) PutN(elts []T, timeout time.Duration) (int, error) {
	return q.putCore("cbq.PutN", elts, timeout, false)
}

// Get removes and returns exactly one element, under the same timeout
// conventions as Put.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	var buf [1]T
	_, err := q.getCore("cbq.Get", buf[:], 1, timeout, true, true)
	return buf[0], err
}

// GetN fills dst with up to len(dst) elements, waiting (per timeout) until
// at least min are available. timeout == 0 never waits on min: it returns
// whatever is available right now, even zero, as ok.
func (q *Queue[T]) GetN(dst []T, min int, timeout time.Duration) (int, error) {
	return q.getCore("cbq.GetN", dst, min, timeout, false, true)
}

// Peek is Get without advancing read_index and without signalling
// writable-interest observers.
func (q *Queue[T]) Peek(timeout time.Duration) (T, error) {
	var buf [1]T
	_, err := q.getCore("cbq.Peek", buf[:], 1, timeout, true, false)
	return buf[0], err
}

// PeekN is GetN without advancing read_index and without signalling
// writable-interest observers.
func (q *Queue[T]) PeekN(dst []T, min int, timeout time.Duration) (int, error) {
	return q.getCore("cbq.PeekN", dst, min, timeout, false, false)
}

// putCore implements the blocking algorithm shared by Put and PutN.
// strictZero distinguishes Put's all-or-nothing contract (timeout == 0 with
// nothing inserted is timed-out) from PutN's best-effort one (timeout == 0
// always succeeds, possibly with actual == 0).
func (q *Queue[T]) putCore(op string, elts []T, timeout time.Duration, strictZero bool) (int, error) {
	if len(elts) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	infinite := timeout < 0
	nonblocking := timeout == 0
	var deadline time.Time
	if !infinite && !nonblocking {
		deadline = time.Now().Add(timeout)
	}

	total := 0
	remaining := elts

	for {
		if !q.operational {
			return total, errs.New(op, errs.KindNotOperational, nil)
		}

		if n := q.copyInLocked(remaining); n > 0 {
			total += n
			remaining = remaining[n:]
			q.condGet.Broadcast()
			q.notifyObserverLocked(InterestR)
		}

		if len(remaining) == 0 {
			return total, nil
		}
		if nonblocking {
			if strictZero {
				return total, errs.New(op, errs.KindTimedOut, nil)
			}
			return total, nil
		}

		wait := time.Duration(-1)
		if !infinite {
			wait = time.Until(deadline)
			if wait <= 0 {
				return total, errs.New(op, errs.KindTimedOut, nil)
			}
		}

		if stop, kind := q.waitOrParticipate(q.condPut, wait); stop {
			return total, errs.New(op, kind, nil)
		}
	}
}

// getCore implements the blocking algorithm shared by Get, GetN, Peek and
// PeekN. advance controls whether read_index/count move and whether
// writable-interest observers are signalled (false for the peek variants).
// An advancing call takes nothing out of the ring until at least min
// elements are live (timeout == 0 takes whatever is there), so elements stay
// resident, and subject to Clear/Shutdown disposal, while it waits.
func (q *Queue[T]) getCore(op string, dst []T, min int, timeout time.Duration, strictZero bool, advance bool) (int, error) {
	max := len(dst)
	if max == 0 {
		return 0, nil
	}
	if min < 1 || min > max {
		return 0, errs.New(op, errs.KindInvalidArgs, nil)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	infinite := timeout < 0
	nonblocking := timeout == 0
	var deadline time.Time
	if !infinite && !nonblocking {
		deadline = time.Now().Add(timeout)
	}

	total := 0

	for {
		if !q.operational {
			return total, errs.New(op, errs.KindNotOperational, nil)
		}

		if total < max && (!advance || nonblocking || q.count >= min) {
			skip := 0
			if !advance {
				skip = total
			}
			if n := q.copyOutLocked(dst[total:], advance, skip); n > 0 {
				total += n
				if advance {
					q.condPut.Broadcast()
					q.notifyObserverLocked(InterestW)
				}
			}
		}

		if total >= min {
			return total, nil
		}
		if nonblocking {
			if strictZero {
				return total, errs.New(op, errs.KindTimedOut, nil)
			}
			return total, nil
		}

		wait := time.Duration(-1)
		if !infinite {
			wait = time.Until(deadline)
			if wait <= 0 {
				return total, errs.New(op, errs.KindTimedOut, nil)
			}
		}

		cond := q.condGet
		if stop, kind := q.waitOrParticipate(cond, wait); stop {
			return total, errs.New(op, kind, nil)
		}
	}
}

// ---- ring buffer mechanics ----

func (q *Queue[T]) slotCount() uint64 {
	return uint64(len(q.slots))
}

func (q *Queue[T]) remainingLocked() int {
	return q.capacity - q.count
}

// copyInLocked copies as many of src as fit into the remaining capacity,
// wrapping around slot 0 as needed, and advances write_index/count. I4 (no
// silent wraparound) is satisfied by keeping read_index/write_index as
// ever-increasing counters and only ever taking them modulo len(slots) at
// the point of physical addressing — wrap-safe unsigned arithmetic, which
// the design explicitly allows in place of periodic rebasing.
func (q *Queue[T]) copyInLocked(src []T) int {
	n := len(src)
	if room := q.remainingLocked(); n > room {
		n = room
	}
	m := q.slotCount()
	for i := 0; i < n; i++ {
		q.slots[(q.writeIndex+uint64(i))%m] = src[i]
	}
	q.writeIndex += uint64(n)
	q.count += n
	return n
}

// copyOutLocked copies as many live elements as fit into dst, reading
// starting skip elements past read_index. skip only matters for non-
// advancing (peek) calls: since those never move read_index, a caller
// that has already captured some elements in an earlier wait iteration
// of the same PeekN must pass the count already captured so this call
// resumes from the right physical offset instead of re-reading the same
// elements. Advancing calls always pass skip 0, since read_index itself
// already reflects everything captured so far. When advance is true it
// also moves read_index/count forward and zeroes the vacated slots so
// the ring doesn't pin element references behind the read cursor.
func (q *Queue[T]) copyOutLocked(dst []T, advance bool, skip int) int {
	n := len(dst)
	if n > q.count-skip {
		n = q.count - skip
	}
	if n < 0 {
		n = 0
	}
	m := q.slotCount()
	for i := 0; i < n; i++ {
		idx := (q.readIndex + uint64(skip) + uint64(i)) % m
		dst[i] = q.slots[idx]
		if advance {
			var zero T
			q.slots[idx] = zero
		}
	}
	if advance {
		q.readIndex += uint64(n)
		q.count -= n
	}
	return n
}

func (q *Queue[T]) disposeResidualLocked(dispose bool) {
	m := q.slotCount()
	for i := 0; i < q.count; i++ {
		idx := (q.readIndex + uint64(i)) % m
		if dispose && q.disposer != nil {
			q.disposer(q.slots[idx])
		}
		var zero T
		q.slots[idx] = zero
	}
}

// ---- observer notification ----

// notifyObserverLocked delivers and erases the current observer binding if
// its registered interest intersects event. Must be called with q.mu held;
// the queue lock stays held across the signal, matching the put-then-notify
// ordering guarantee QMUX's linearisability depends on (§4.3).
func (q *Queue[T]) notifyObserverLocked(event Interest) {
	if q.obs == nil || q.obsInterest&event == 0 {
		return
	}
	obs := q.obs
	q.obs = nil
	q.obsInterest = 0
	obs.Signal()
}

// ---- clear / shutdown / destroy ----

// Clear drops all live elements, resetting indices to zero, and notifies
// both readable- and writable-interest observers plus every blocked waiter
// on either side (clearing makes the queue simultaneously "now empty" and
// "now has room").
func (q *Queue[T]) Clear(dispose bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.operational {
		return errs.New("cbq.Clear", errs.KindNotOperational, nil)
	}
	q.disposeResidualLocked(dispose)
	q.readIndex = 0
	q.writeIndex = 0
	q.count = 0
	q.condPut.Broadcast()
	q.condGet.Broadcast()
	q.notifyObserverLocked(InterestR | InterestW)
	return nil
}

// Shutdown sets is_operational to false, clears as Clear does, and wakes
// every blocked thread plus the bound observer (if any). Idempotent.
func (q *Queue[T]) Shutdown(dispose bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.operational {
		return nil
	}
	q.operational = false
	q.disposeResidualLocked(dispose)
	q.readIndex = 0
	q.writeIndex = 0
	q.count = 0
	q.condPut.Broadcast()
	q.condGet.Broadcast()
	q.condAwakened.Broadcast()
	if q.obs != nil {
		obs := q.obs
		q.obs = nil
		q.obsInterest = 0
		obs.Signal()
	}
	return nil
}

// Destroy shuts the queue down and releases it for garbage collection; the
// caller must drop its last reference afterward.
func (q *Queue[T]) Destroy(dispose bool) {
	_ = q.Shutdown(dispose)
}

// ---- external wakeup barrier ----

// Wakeup wakes every thread currently blocked in this queue and waits for
// all of them to actually leave their wait before returning. If another
// wakeup is already in flight this call joins it rather than starting a
// second one. A queue with no blocked waiters at the moment of the call
// returns immediately: there is nothing to wait for.
func (q *Queue[T]) Wakeup(timeout time.Duration) error {
	const op = "cbq.Wakeup"
	q.mu.Lock()
	defer q.mu.Unlock()

	infinite := timeout < 0
	var deadline time.Time
	if !infinite {
		deadline = time.Now().Add(timeout)
	}

	if !q.waking {
		if !q.operational {
			return errs.New(op, errs.KindNotOperational, nil)
		}
		q.waking = true
		q.condPut.Broadcast()
		q.condGet.Broadcast()
		if q.waiters == 0 {
			q.waking = false
			return nil
		}
	}

	for q.waking {
		wait := time.Duration(-1)
		if !infinite {
			wait = time.Until(deadline)
			if wait <= 0 {
				return errs.New(op, errs.KindTimedOut, nil)
			}
		}
		q.condWait(q.condAwakened, wait)
	}

	if !q.operational {
		return errs.New(op, errs.KindNotOperational, nil)
	}
	return nil
}

// waitOrParticipate blocks the caller on cond for up to d (d < 0 means
// forever), then handles the external wakeup protocol. Must be called with
// q.mu held. A waiter that observes waking == true either on entry (before
// ever calling Wait) or upon actually waking is treated identically:
// normalizing the two avoids a fresh entrant missing a wakeup broadcast
// that already fired before it arrived.
//
// Returns stop == true when the caller must return immediately with kind;
// stop == false means loop back and retry the operation.
func (q *Queue[T]) waitOrParticipate(cond *sync.Cond, d time.Duration) (stop bool, kind errs.Kind) {
	q.waiters++
	if !q.waking {
		q.condWait(cond, d)
	}
	q.waiters--

	if q.waking {
		if !q.operational {
			q.waking = false
			q.condAwakened.Broadcast()
			return true, errs.KindNotOperational
		}
		if q.waiters == 0 {
			q.waking = false
			q.condAwakened.Broadcast()
		}
		return true, errs.KindWakeupRequested
	}
	return false, 0
}

// condWait blocks on cond for at most d (d < 0 forever). sync.Cond has no
// timed wait, so a timer goroutine broadcasts the same condvar after d
// elapses; callers distinguish a genuine event from a timeout by re-checking
// their own predicate/deadline once Wait returns.
func (q *Queue[T]) condWait(cond *sync.Cond, d time.Duration) {
	if d < 0 {
		cond.Wait()
		return
	}
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
