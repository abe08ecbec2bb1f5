package registry

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lagopus-go/dpqueue/cbq"
	"github.com/lagopus-go/dpqueue/errs"
	"github.com/lagopus-go/dpqueue/qmux"
)

// Registry owns every registered bridge's queue triple behind a single
// RWMutex-guarded map, the same shape the teacher uses for its runtime
// config guard (pkg/config.Config's runtimeMu).
type Registry struct {
	mu      sync.RWMutex
	entries map[uint64]*entry

	// limiter throttles Register, guarding against a misbehaving or
	// compromised control channel registering bridges faster than the
	// rest of the system can provision for them. nil disables throttling.
	limiter *rate.Limiter

	// onRegistrationFail, if set, is invoked once for every Register call
	// that returns a non-nil error. It exists so a telemetry layer can
	// count registration failures without this package importing one.
	onRegistrationFail func()
}

// SetRegistrationFailHook installs fn to be called once per failed
// Register call. Pass nil to disable. Not safe to call concurrently with
// Register.
func (r *Registry) SetRegistrationFailHook(fn func()) {
	r.onRegistrationFail = fn
}

// New constructs an empty Registry. registrationBurst, if > 0, configures a
// token-bucket limiter (rate == burst, i.e. the bucket refills to capacity
// once per second) that Register consults before doing any work; <= 0
// disables rate limiting entirely.
func New(registrationBurst int) *Registry {
	r := &Registry{entries: make(map[uint64]*entry)}
	if registrationBurst > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(registrationBurst), registrationBurst)
	}
	return r
}

// Register creates the three CBQs for dpid with the capacities/batch sizes
// in qi and adds the entry to the registry. Fails already-exists if dpid is
// taken, no-memory if MaxBridges entries already exist, invalid-args if ctx
// is cancelled while waiting on the rate limiter or a queue capacity is
// invalid.
func (r *Registry) Register(ctx context.Context, dpid uint64, name, info string, qi QueueInfo) (err error) {
	const op = "registry.Register"

	defer func() {
		if err != nil && r.onRegistrationFail != nil {
			r.onRegistrationFail()
		}
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return errs.New(op, errs.KindInvalidArgs, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[dpid]; exists {
		return errs.New(op, errs.KindAlreadyExists, nil)
	}
	if len(r.entries) >= MaxBridges {
		return errs.New(op, errs.KindNoMemory, nil)
	}

	upQ, err := cbq.New[EventRecord](qi.UpCapacity, disposeEvent)
	if err != nil {
		return errs.New(op, errs.KindInvalidArgs, err)
	}
	dataQ, err := cbq.New[PacketRecord](qi.DataCapacity, disposePacket)
	if err != nil {
		upQ.Destroy(false)
		return errs.New(op, errs.KindInvalidArgs, err)
	}
	downQ, err := cbq.New[EventRecord](qi.DownCapacity, disposeEvent)
	if err != nil {
		upQ.Destroy(false)
		dataQ.Destroy(false)
		return errs.New(op, errs.KindInvalidArgs, err)
	}

	e := &entry{
		dpid:  dpid,
		name:  name,
		info:  info,
		upQ:   upQ,
		dataQ: dataQ,
		downQ: downQ,
	}
	// up_q and data_q are inbound to the agent (controller-plane events,
	// packet-in records); its poll handles on them are readable-interest
	// so the agent loop drains them. down_q is outbound from the agent to
	// the dataplane, so the agent's own handle on it is writable-interest
	// (room-to-write awareness) while the dataplane's dedicated handle is
	// the one with readable interest -- this is also what keeps the two
	// sides from both trying to bind a readable observer on the same
	// queue, which the single-observer discipline forbids in practice.
	e.upPoll = cbq.NewPollHandle(upQ, cbq.InterestR)
	e.dataPoll = cbq.NewPollHandle(dataQ, cbq.InterestR)
	e.downPoll = cbq.NewPollHandle(downQ, cbq.InterestW)
	e.downPollDP = cbq.NewPollHandle(downQ, cbq.InterestR)
	e.upMaxBatch.Store(int64(orDefault(qi.UpMaxBatch, 32)))
	e.dataMaxBatch.Store(int64(orDefault(qi.DataMaxBatch, 32)))
	e.downMaxBatch.Store(int64(orDefault(qi.DownMaxBatch, 32)))
	e.refcount.Store(1) // the registry's own reference

	r.entries[dpid] = e
	return nil
}

func orDefault(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

// Unregister shuts down all three of dpid's queues (running their
// disposers over any residual elements) and drops the entry from the map.
// Callers still holding an Entry from a prior Lookup/SnapshotEntries keep a
// valid, if now non-operational, view until they call EntryFree.
func (r *Registry) Unregister(dpid uint64) error {
	const op = "registry.Unregister"

	r.mu.Lock()
	e, ok := r.entries[dpid]
	if !ok {
		r.mu.Unlock()
		return errs.New(op, errs.KindNotFound, nil)
	}
	delete(r.entries, dpid)
	r.mu.Unlock()

	e.unregistered.Store(true)
	_ = e.upQ.Shutdown(true)
	_ = e.dataQ.Shutdown(true)
	_ = e.downQ.Shutdown(true)
	r.releaseEntry(e)
	return nil
}

// Lookup finds dpid's entry and increments its refcount. The caller must
// call EntryFree when done with it.
func (r *Registry) Lookup(dpid uint64) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.entries[dpid]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New("registry.Lookup", errs.KindNotFound, nil)
	}
	e.refcount.Add(1)
	return &Entry{e: e}, nil
}

// EntryFree releases a reference obtained from Lookup or SnapshotEntries.
func (r *Registry) EntryFree(ent *Entry) {
	if ent == nil {
		return
	}
	r.releaseEntry(ent.e)
}

func (r *Registry) releaseEntry(e *entry) {
	// Go's GC reclaims the entry once unreferenced; the refcount here is
	// bookkeeping only. Nothing in this package reads it, and reaching
	// zero triggers no deallocation or other action.
	e.refcount.Add(-1)
}

// SnapshotEntries copies up to len(out) live entries into out, incrementing
// each one's refcount, and returns the count written. The agent wait loop
// calls this once per iteration to build its poll set.
func (r *Registry) SnapshotEntries(out []*Entry) (int, error) {
	if len(out) == 0 {
		return 0, errs.New("registry.SnapshotEntries", errs.KindInvalidArgs, nil)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if n >= len(out) {
			break
		}
		e.refcount.Add(1)
		out[n] = &Entry{e: e}
		n++
	}
	return n, nil
}

// SnapshotPolls fills out with the poll handles for the requested side:
// three handles per entry (up, data, down) for SideAgent, one (the
// dataplane-dedicated down handle) per entry for SideDataplane.
func SnapshotPolls(side Side, entries []*Entry, out []qmux.Handle) (int, error) {
	const op = "registry.SnapshotPolls"

	need := len(entries)
	if side == SideAgent {
		need *= 3
	}
	if len(out) < need {
		return 0, errs.New(op, errs.KindInvalidArgs, nil)
	}

	n := 0
	for _, ent := range entries {
		switch side {
		case SideAgent:
			out[n] = ent.e.upPoll
			out[n+1] = ent.e.dataPoll
			out[n+2] = ent.e.downPoll
			n += 3
		case SideDataplane:
			out[n] = ent.e.downPollDP
			n++
		default:
			return n, errs.New(op, errs.KindInvalidArgs, nil)
		}
	}
	return n, nil
}

// SetMaxBatches changes the per-queue batch ceiling a drain loop should
// honor for role's queue on dpid.
func (r *Registry) SetMaxBatches(dpid uint64, role Role, n int) error {
	const op = "registry.SetMaxBatches"
	if n <= 0 {
		return errs.New(op, errs.KindInvalidArgs, nil)
	}

	r.mu.RLock()
	e, ok := r.entries[dpid]
	r.mu.RUnlock()
	if !ok {
		return errs.New(op, errs.KindNotFound, nil)
	}

	switch role {
	case RoleUp:
		e.upMaxBatch.Store(int64(n))
	case RoleData:
		e.dataMaxBatch.Store(int64(n))
	case RoleDown:
		e.downMaxBatch.Store(int64(n))
	default:
		return errs.New(op, errs.KindInvalidArgs, nil)
	}
	return nil
}

// Clear drops all elements from one of dpid's queues.
func (r *Registry) Clear(dpid uint64, role Role, dispose bool) error {
	const op = "registry.Clear"

	r.mu.RLock()
	e, ok := r.entries[dpid]
	r.mu.RUnlock()
	if !ok {
		return errs.New(op, errs.KindNotFound, nil)
	}

	switch role {
	case RoleUp:
		return e.upQ.Clear(dispose)
	case RoleData:
		return e.dataQ.Clear(dispose)
	case RoleDown:
		return e.downQ.Clear(dispose)
	default:
		return errs.New(op, errs.KindInvalidArgs, nil)
	}
}

// Stats returns a point-in-time size/remaining-capacity snapshot of all
// three of dpid's queues, for telemetry and the debug HTTP surface.
func (r *Registry) Stats(dpid uint64) (Stats, error) {
	const op = "registry.Stats"

	r.mu.RLock()
	e, ok := r.entries[dpid]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, errs.New(op, errs.KindNotFound, nil)
	}

	st := Stats{DPID: dpid}
	st.UpSize, _ = e.upQ.Size()
	st.UpRemaining, _ = e.upQ.RemainingCapacity()
	st.DataSize, _ = e.dataQ.Size()
	st.DataRemaining, _ = e.dataQ.RemainingCapacity()
	st.DownSize, _ = e.downQ.Size()
	st.DownRemaining, _ = e.downQ.RemainingCapacity()
	return st, nil
}

// ClearAll clears every registered bridge's three queues without
// unregistering them.
func (r *Registry) ClearAll(dispose bool) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		_ = e.upQ.Clear(dispose)
		_ = e.dataQ.Clear(dispose)
		_ = e.downQ.Clear(dispose)
	}
}

// Destroy shuts down and drops every registered bridge.
func (r *Registry) Destroy(dispose bool) {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for dpid, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, dpid)
	}
	r.mu.Unlock()

	for _, e := range entries {
		e.unregistered.Store(true)
		_ = e.upQ.Shutdown(dispose)
		_ = e.dataQ.Shutdown(dispose)
		_ = e.downQ.Shutdown(dispose)
	}
}
