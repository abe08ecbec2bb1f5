// Package qmux implements the queue multiplexer: a single observer can
// wait on readability or writability of an arbitrary set of bounded
// queues (see package cbq) without polling each one individually.
//
// A Mux is stateless beyond its own lock/condvar; the poll set is passed
// per call to Poll. Handle is the narrow interface a queue's poll handle
// must satisfy to participate — it lets qmux stay generic-free (a single
// Poll call commonly spans queues of different element types, which a
// type-parameterized Mux could not express).
package qmux

import (
	"sync"
	"time"

	"github.com/lagopus-go/dpqueue/errs"
)

// Mode distinguishes the pre-wait snapshot pass from the post-wait pass.
// Only the observer-binding behavior differs between the two: the
// post-wait pass always erases any binding it finds, pre-wait only
// erases it when the handle turns out to already be ready.
type Mode int

const (
	ModePre Mode = iota
	ModePost
)

// Observer is the notification sink a queue signals when its state
// changes in a way that might satisfy a handle bound to it. Mux
// implements Observer so cbq.Queue can hold a plain Observer reference
// without depending on qmux's Mux... the queue imports qmux for the
// Observer, Mode and Handle types only, not vice versa.
type Observer interface {
	Signal()
}

// Handle is the narrow contract a (queue, interest) poll handle exposes
// to the multiplexer. Implementations live in package cbq
// (*cbq.PollHandle[T]).
//
// Prepare is called once per handle per pass (pre-wait or post-wait)
// while Mux.Poll is deciding whether to sleep. It must:
//   - acquire the underlying queue's lock (if any),
//   - refresh whatever snapshot fields the handle exposes to callers,
//   - report whether the handle's interest is currently satisfiable,
//   - report whether the handle even has a non-nil queue attached,
//   - bind or unbind obs as the single observer on the queue following
//     the rules described on Mode above,
//   - release the queue's lock.
type Handle interface {
	Prepare(mode Mode, obs Observer) (ready bool, hasQueue bool)
}

// Mux is the multiplexer. Its zero value is not usable; construct with
// New.
type Mux struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// New constructs a ready-to-use Mux.
func New() *Mux {
	m := &Mux{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Signal implements Observer. Queues call this while still holding their
// own lock whenever a state change might satisfy a handle bound to this
// Mux; Signal takes only the Mux's lock, and the Mux never acquires a
// queue lock while holding its own, so the two locks always nest the
// same way.
func (m *Mux) Signal() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Poll waits until at least one handle in handles is ready, or timeout
// elapses. timeout follows the convention: negative means wait
// indefinitely, zero means do not block at all, positive is a bound in
// nanoseconds.
//
// On success, Poll returns the number of handles that were ready at the
// moment of the last snapshot; it never returns 0 with a nil error.
// Every handle, ready or not, has its snapshot fields refreshed before
// Poll returns.
func (m *Mux) Poll(handles []Handle, timeout time.Duration) (int, error) {
	if len(handles) == 0 {
		return 0, errs.New("qmux.Poll", errs.KindInvalidArgs, nil)
	}

	ready, hasQueue := m.snapshot(handles, ModePre)
	if !hasQueue {
		return 0, errs.New("qmux.Poll", errs.KindInvalidArgs, nil)
	}
	if ready > 0 {
		return ready, nil
	}
	if timeout == 0 {
		return 0, errs.New("qmux.Poll", errs.KindTimedOut, nil)
	}

	var deadline time.Time
	infinite := timeout < 0
	if !infinite {
		deadline = time.Now().Add(timeout)
	}

	for {
		remaining := time.Duration(-1)
		if !infinite {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				// Still take one more post-wait snapshot: a notification
				// may have landed exactly as the deadline expired.
				ready, _ = m.snapshot(handles, ModePost)
				if ready > 0 {
					return ready, nil
				}
				return 0, errs.New("qmux.Poll", errs.KindTimedOut, nil)
			}
		}

		m.wait(remaining)

		ready, _ = m.snapshot(handles, ModePost)
		if ready > 0 {
			return ready, nil
		}
		if !infinite && time.Now().After(deadline) {
			return 0, errs.New("qmux.Poll", errs.KindTimedOut, nil)
		}
		// Spurious wakeup or wakeup-steal by another handle's event:
		// loop back and wait out the remaining deadline.
	}
}

// wait blocks on the multiplexer's condvar for at most d (d < 0 means
// forever). sync.Cond has no built-in timed wait, so a timer goroutine
// broadcasts the same condvar when d elapses; the caller distinguishes
// a real event from a timeout by re-checking deadlines/readiness itself.
func (m *Mux) wait(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		m.cond.Wait()
		return
	}

	timer := time.AfterFunc(d, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()
	m.cond.Wait()
}

// snapshot runs Prepare over every handle and tallies readiness and
// whether any handle carries a non-nil queue.
func (m *Mux) snapshot(handles []Handle, mode Mode) (readyCount int, hasQueue bool) {
	for _, h := range handles {
		ready, queued := h.Prepare(mode, m)
		if queued {
			hasQueue = true
		}
		if ready {
			readyCount++
		}
	}
	return readyCount, hasQueue
}
