package cbq

import (
	"github.com/lagopus-go/dpqueue/errs"
	"github.com/lagopus-go/dpqueue/qmux"
)

// Interest is the bitmask a PollHandle registers with a queue: readability,
// writability, or both.
type Interest uint8

const (
	InterestR Interest = 1 << iota
	InterestW
)

func (i Interest) has(bit Interest) bool { return i&bit != 0 }

// PollHandle binds a *Queue[T] and an interest mask for use with a
// qmux.Mux. It is a value-ish object: create once, reuse across many Poll
// calls, and reset its snapshot fields between polls with Reset.
//
// PollHandle implements qmux.Handle without cbq importing qmux's Mux type,
// which is what lets a single qmux.Mux.Poll call span PollHandle[T] values
// of differing T.
type PollHandle[T any] struct {
	queue     *Queue[T]
	interest  Interest
	size      int
	remaining int
}

// NewPollHandle constructs a handle bound to queue (which may be nil) with
// the given interest.
func NewPollHandle[T any](queue *Queue[T], interest Interest) *PollHandle[T] {
	h := &PollHandle[T]{}
	_ = h.SetQueue(queue)
	h.SetInterest(interest)
	return h
}

// SetQueue rebinds the handle to a different queue, or to nil (a
// placeholder that always reports 0/0 and is skipped by the multiplexer).
// Rebinding to a non-operational queue is rejected.
func (h *PollHandle[T]) SetQueue(queue *Queue[T]) error {
	if queue != nil && !queue.IsOperational() {
		return errs.New("cbq.PollHandle.SetQueue", errs.KindInvalidArgs, nil)
	}
	h.queue = queue
	if queue == nil {
		h.interest = 0
	}
	return nil
}

// SetInterest changes the handle's interest mask. A nil-queue handle always
// downgrades to no interest, regardless of what's requested.
func (h *PollHandle[T]) SetInterest(interest Interest) {
	if h.queue == nil {
		h.interest = 0
		return
	}
	h.interest = interest
}

func (h *PollHandle[T]) GetQueue() *Queue[T] { return h.queue }

// Size and RemainingCapacity report the values captured by the handle's
// most recent Prepare call (i.e. the last qmux.Mux.Poll it participated
// in), not a live read of the queue.
func (h *PollHandle[T]) Size() int              { return h.size }
func (h *PollHandle[T]) RemainingCapacity() int { return h.remaining }

// Reset zeroes both snapshot fields.
func (h *PollHandle[T]) Reset() {
	h.size = 0
	h.remaining = 0
}

// Prepare implements qmux.Handle. See qmux.Handle's doc for the contract;
// this is the concrete realization of spec §4.3 step 1/4 for a cbq-backed
// handle.
func (h *PollHandle[T]) Prepare(mode qmux.Mode, obs qmux.Observer) (ready bool, hasQueue bool) {
	q := h.queue
	if q == nil {
		h.size = 0
		h.remaining = 0
		return false, false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.operational {
		h.size = 0
		h.remaining = 0
		if q.obs == obs {
			q.obs = nil
			q.obsInterest = 0
		}
		return false, true
	}

	h.size = q.count
	h.remaining = q.capacity - q.count

	readyR := h.interest.has(InterestR) && h.size > 0
	readyW := h.interest.has(InterestW) && h.remaining > 0
	ready = readyR || readyW

	if mode == qmux.ModePost {
		if q.obs == obs {
			q.obs = nil
			q.obsInterest = 0
		}
		return ready, true
	}

	if ready {
		if q.obs == obs {
			q.obs = nil
			q.obsInterest = 0
		}
		return ready, true
	}

	var unsatisfied Interest
	if h.interest.has(InterestR) {
		unsatisfied |= InterestR
	}
	if h.interest.has(InterestW) {
		unsatisfied |= InterestW
	}
	q.obs = obs
	q.obsInterest = unsatisfied
	return ready, true
}
