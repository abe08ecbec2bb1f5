// Package registry implements the bridge-queue registry: a process-wide
// mapping from a virtual switch's datapath id (dpid) to the triple of CBQs
// (upstream-event, packet-in-data, downstream-event) that carry traffic
// between the OpenFlow agent and the dataplane for that bridge.
package registry

import (
	"sync/atomic"

	"github.com/lagopus-go/dpqueue/cbq"
)

// MaxBridges bounds how many bridges may be registered at once. It mirrors
// the fixed-size scratch arrays the original dataplane pre-allocates for
// snapshot operations (512 bridges); Register returns a no-memory error
// once this many entries exist, the closest Go analogue to that original
// fixed-capacity allocation filling up.
const MaxBridges = 512

// EventRecord is the element type carried by the upstream-event and
// downstream-event queues: control events on the way up, flow-mod and
// reply events on the way down. A record may own a FreeProc; per the
// consumer contract, whoever successfully drains a record (get/get_n) is
// responsible for calling it, not the queue itself.
type EventRecord struct {
	Kind    string
	Seq     uint64
	Payload []byte

	FreeProc func()
}

// PacketRecord is the element type carried by the packet-in-data queue,
// carrying the same consumer-owned FreeProc contract as EventRecord.
type PacketRecord struct {
	Data     []byte
	InPort   uint32
	FreeProc func()
}

// disposeEvent/disposePacket are the queues' own disposers, invoked only on
// residual (never-consumed) elements during Clear/Shutdown -- not on every
// normal Get/GetN, which is why the drain loops in loops.go additionally
// invoke each consumed record's FreeProc themselves.
func disposeEvent(r EventRecord) {
	if r.FreeProc != nil {
		r.FreeProc()
	}
}

func disposePacket(p PacketRecord) {
	if p.FreeProc != nil {
		p.FreeProc()
	}
}

// Role selects one of the three queues owned by a bridge entry.
type Role int

const (
	RoleUp Role = iota
	RoleData
	RoleDown
)

// Side selects which consumer's poll-handle view SnapshotPolls fills: the
// agent side needs all three queues per bridge, the dataplane side only
// needs the downstream queue.
type Side int

const (
	SideAgent Side = iota
	SideDataplane
)

// QueueInfo configures the three CBQs created by Register.
type QueueInfo struct {
	UpCapacity, DataCapacity, DownCapacity       int
	UpMaxBatch, DataMaxBatch, DownMaxBatch       int
}

// entry is the registry's internal bookkeeping for one bridge. Entry (below)
// is the refcounted handle callers actually receive.
type entry struct {
	dpid uint64
	name string
	info string

	upQ   *cbq.Queue[EventRecord]
	dataQ *cbq.Queue[PacketRecord]
	downQ *cbq.Queue[EventRecord]

	upPoll     *cbq.PollHandle[EventRecord]
	dataPoll   *cbq.PollHandle[PacketRecord]
	downPoll   *cbq.PollHandle[EventRecord]
	downPollDP *cbq.PollHandle[EventRecord]

	upMaxBatch   atomic.Int64
	dataMaxBatch atomic.Int64
	downMaxBatch atomic.Int64

	refcount     atomic.Int64
	unregistered atomic.Bool
}

// Entry is a refcounted, borrowed view of one bridge's queue triple. Obtain
// one from Registry.Lookup or Registry.SnapshotEntries and release it with
// Registry.EntryFree exactly once.
type Entry struct {
	e *entry
}

func (ent *Entry) DPID() uint64 { return ent.e.dpid }
func (ent *Entry) Name() string { return ent.e.name }
func (ent *Entry) Info() string { return ent.e.info }

func (ent *Entry) UpQueue() *cbq.Queue[EventRecord]     { return ent.e.upQ }
func (ent *Entry) DataQueue() *cbq.Queue[PacketRecord]  { return ent.e.dataQ }
func (ent *Entry) DownQueue() *cbq.Queue[EventRecord]   { return ent.e.downQ }

func (ent *Entry) UpMaxBatch() int   { return int(ent.e.upMaxBatch.Load()) }
func (ent *Entry) DataMaxBatch() int { return int(ent.e.dataMaxBatch.Load()) }
func (ent *Entry) DownMaxBatch() int { return int(ent.e.downMaxBatch.Load()) }

// Stats is the telemetry/debug snapshot returned by Registry.Stats.
type Stats struct {
	DPID uint64

	UpSize, UpRemaining     int
	DataSize, DataRemaining int
	DownSize, DownRemaining int
}
