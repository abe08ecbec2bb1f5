package registry

import (
	"time"

	"github.com/lagopus-go/dpqueue/qmux"
)

// AgentEventHandler is invoked once per drained element from an entry's
// upstream-event or downstream-event queue.
type AgentEventHandler func(dpid uint64, role Role, rec EventRecord)

// AgentPacketHandler is invoked once per drained element from an entry's
// packet-in-data queue.
type AgentPacketHandler func(dpid uint64, rec PacketRecord)

// RunAgentLoop is the canonical agent-side consumer from spec §4.4: each
// iteration snapshots the registry's live entries, builds a poll set over
// all three queues of every entry, waits on a single qmux.Mux, and
// batch-drains whichever queues came back ready. It returns when stop is
// closed.
func RunAgentLoop(stop <-chan struct{}, r *Registry, mux *qmux.Mux, pollTimeout time.Duration, onEvent AgentEventHandler, onPacket AgentPacketHandler) {
	entryBuf := make([]*Entry, MaxBridges)
	pollBuf := make([]qmux.Handle, MaxBridges*3)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := r.SnapshotEntries(entryBuf)
		if err != nil || n == 0 {
			if waitOrStop(stop, pollTimeout) {
				return
			}
			continue
		}
		entries := entryBuf[:n]

		pn, err := SnapshotPolls(SideAgent, entries, pollBuf)
		if err != nil {
			releaseAll(r, entries)
			continue
		}
		polls := pollBuf[:pn]
		for _, p := range polls {
			p.(interface{ Reset() }).Reset()
		}

		// down_q is outbound from the agent (the agent produces into it;
		// the dataplane consumes it via RunDataplaneDrainLoop), so the
		// agent loop only ever drains up_q and data_q here. down_poll
		// carries writable interest and is polled only so a future
		// backpressure-aware producer path can observe room-to-write; it
		// is never drained.
		ready, err := mux.Poll(polls, pollTimeout)
		if err == nil && ready > 0 {
			for _, ent := range entries {
				if ent.e.upPoll.Size() > 0 {
					drainEvents(ent, ent.UpQueue(), RoleUp, ent.UpMaxBatch(), onEvent)
				}
				if ent.e.dataPoll.Size() > 0 {
					drainPackets(ent, ent.DataMaxBatch(), onPacket)
				}
			}
		}

		releaseAll(r, entries)
	}
}

// DataplaneDrainHandler is invoked once per drained downstream event.
type DataplaneDrainHandler func(dpid uint64, rec EventRecord)

// RunDataplaneDrainLoop mirrors RunAgentLoop's shape but only ever touches
// the downstream queue's dataplane-dedicated poll handle.
func RunDataplaneDrainLoop(stop <-chan struct{}, r *Registry, mux *qmux.Mux, pollTimeout time.Duration, onEvent DataplaneDrainHandler) {
	entryBuf := make([]*Entry, MaxBridges)
	pollBuf := make([]qmux.Handle, MaxBridges)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := r.SnapshotEntries(entryBuf)
		if err != nil || n == 0 {
			if waitOrStop(stop, pollTimeout) {
				return
			}
			continue
		}
		entries := entryBuf[:n]

		pn, err := SnapshotPolls(SideDataplane, entries, pollBuf)
		if err != nil {
			releaseAll(r, entries)
			continue
		}
		polls := pollBuf[:pn]
		for _, p := range polls {
			p.(interface{ Reset() }).Reset()
		}

		ready, err := mux.Poll(polls, pollTimeout)
		if err == nil && ready > 0 {
			for _, ent := range entries {
				if ent.e.downPollDP.Size() > 0 {
					drainEvents(ent, ent.DownQueue(), RoleDown, ent.DownMaxBatch(), onEvent2Adapter(onEvent))
				}
			}
		}

		releaseAll(r, entries)
	}
}

func onEvent2Adapter(h DataplaneDrainHandler) AgentEventHandler {
	if h == nil {
		return nil
	}
	return func(dpid uint64, _ Role, rec EventRecord) { h(dpid, rec) }
}

func drainEvents(ent *Entry, q interface {
	GetN([]EventRecord, int, time.Duration) (int, error)
}, role Role, maxBatch int, onEvent AgentEventHandler) {
	if onEvent == nil || maxBatch <= 0 {
		return
	}
	buf := make([]EventRecord, maxBatch)
	n, err := q.GetN(buf, 1, 0)
	if err != nil || n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		onEvent(ent.DPID(), role, buf[i])
		if buf[i].FreeProc != nil {
			buf[i].FreeProc()
		}
	}
}

func drainPackets(ent *Entry, maxBatch int, onPacket AgentPacketHandler) {
	if onPacket == nil || maxBatch <= 0 {
		return
	}
	buf := make([]PacketRecord, maxBatch)
	n, err := ent.DataQueue().GetN(buf, 1, 0)
	if err != nil || n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		onPacket(ent.DPID(), buf[i])
		if buf[i].FreeProc != nil {
			buf[i].FreeProc()
		}
	}
}

func releaseAll(r *Registry, entries []*Entry) {
	for _, e := range entries {
		r.EntryFree(e)
	}
}

func waitOrStop(stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		d = 100 * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return true
	case <-timer.C:
		return false
	}
}
