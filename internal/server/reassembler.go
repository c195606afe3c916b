package server

import (
	"container/heap"
	"time"

	"github.com/1ureka/adrnaln/internal/protocol"
	"github.com/1ureka/adrnaln/internal/util"
)

// entry is the Collecting state of one transfer.
type entry struct {
	packets  map[uint32]*protocol.Packet // keyed by index; duplicates overwrite
	final    uint32                      // index of the Final packet, valid if hasFinal
	hasFinal bool
	lastSeen time.Time
}

// complete reports whether every index 0..final is present. Indices above
// final are never stored, so a count check is enough.
func (e *entry) complete() bool {
	return e.hasFinal && uint64(len(e.packets)) == uint64(e.final)+1
}

// Reassembler turns packets of many interleaved transfers into complete
// Sequences. It is owned by the server's receive loop and needs no locking.
type Reassembler struct {
	idle      time.Duration
	inflight  map[uint64]*entry
	completed map[uint64]time.Time // recently completed ids, to ignore stragglers
}

// NewReassembler creates a reassembler that evicts transfers idle for longer
// than idle.
func NewReassembler(idle time.Duration) *Reassembler {
	return &Reassembler{
		idle:      idle,
		inflight:  make(map[uint64]*entry),
		completed: make(map[uint64]time.Time),
	}
}

// InFlight returns the number of transfers still collecting.
func (r *Reassembler) InFlight() int {
	return len(r.inflight)
}

// Feed inserts pkt and returns the completed Sequence if pkt was the last
// missing piece of its transfer. Returns nil otherwise.
func (r *Reassembler) Feed(pkt *protocol.Packet, now time.Time) *protocol.Sequence {
	id := pkt.SequenceID

	if _, done := r.completed[id]; done {
		util.LogDebug("[%016x] packet %d arrived after completion, ignoring", id, pkt.Index)
		util.Stats.AddDropped()
		return nil
	}

	e, ok := r.inflight[id]
	if !ok {
		e = &entry{packets: make(map[uint32]*protocol.Packet)}
		r.inflight[id] = e
	}
	e.lastSeen = now

	if e.hasFinal && pkt.Index > e.final {
		util.LogDebug("[%016x] packet %d is beyond final index %d, ignoring", id, pkt.Index, e.final)
		util.Stats.AddDropped()
		return nil
	}

	if pkt.Final {
		if e.hasFinal && pkt.Index != e.final {
			util.LogDebug("[%016x] conflicting final index %d (have %d), ignoring", id, pkt.Index, e.final)
			util.Stats.AddDropped()
			return nil
		}
		e.final, e.hasFinal = pkt.Index, true
		for idx := range e.packets {
			if idx > e.final {
				delete(e.packets, idx)
			}
		}
	}

	e.packets[pkt.Index] = pkt

	if !e.complete() {
		return nil
	}

	delete(r.inflight, id)
	r.completed[id] = now
	return assemble(e)
}

// Sweep evicts transfers that made no progress within the idle window and
// forgets completed ids older than it. Returns the number of evictions.
func (r *Reassembler) Sweep(now time.Time) int {
	evicted := 0
	for id, e := range r.inflight {
		if now.Sub(e.lastSeen) > r.idle {
			util.LogWarning("[%016x] evicting incomplete transfer (%d packets, idle %v)",
				id, len(e.packets), now.Sub(e.lastSeen).Round(time.Millisecond))
			util.Stats.AddEvicted()
			delete(r.inflight, id)
			evicted++
		}
	}

	for id, at := range r.completed {
		if now.Sub(at) > r.idle {
			delete(r.completed, id)
		}
	}
	return evicted
}

// assemble drains the entry through a min-heap into index order.
func assemble(e *entry) *protocol.Sequence {
	h := make(packetHeap, 0, len(e.packets))
	for _, pkt := range e.packets {
		h = append(h, pkt)
	}
	heap.Init(&h)

	seq := &protocol.Sequence{Packets: make([]*protocol.Packet, 0, len(h))}
	for h.Len() > 0 {
		seq.Packets = append(seq.Packets, heap.Pop(&h).(*protocol.Packet))
	}
	return seq
}

// ---------------------------------------------------------------------------
// packetHeap implements a min-heap sorted by Index.
// ---------------------------------------------------------------------------

type packetHeap []*protocol.Packet

func (h packetHeap) Len() int           { return len(h) }
func (h packetHeap) Less(i, j int) bool { return h[i].Index < h[j].Index }
func (h packetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x any)        { *h = append(*h, x.(*protocol.Packet)) }

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[:n-1]
	return item
}
