package geyserstream

import (
	"sync"
	"time"

	"github.com/google/btree"
)

type correlationEntry struct {
	slot       uint64
	blockTime  *time.Time
	signatures []string
}

func lessEntry(a, b *correlationEntry) bool { return a.slot < b.slot }

// CorrelationBuffer pairs transaction signatures with the time of the block that
// contains them. Only the most recent depth slots are kept: signatures of a slot
// whose block time never arrives inside the window are dropped unresolved.
//
// The buffer belongs to the caller and outlives reconnects of the stream feeding it.
type CorrelationBuffer struct {
	mu         sync.Mutex
	depth      uint64
	entries    *btree.BTreeG[*correlationEntry]
	unresolved uint64
}

// NewCorrelationBuffer creates a buffer keeping depth slots behind the newest block.
func NewCorrelationBuffer(depth uint64) *CorrelationBuffer {
	if depth == 0 {
		depth = DefaultCorrelationDepth
	}
	return &CorrelationBuffer{
		depth:   depth,
		entries: btree.NewG(8, lessEntry),
	}
}

func (c *CorrelationBuffer) entry(slot uint64) *correlationEntry {
	if e, ok := c.entries.Get(&correlationEntry{slot: slot}); ok {
		return e
	}
	e := &correlationEntry{slot: slot}
	c.entries.ReplaceOrInsert(e)
	return e
}

// AddStatus records a confirmed signature for slot. If the slot's block time is
// already known the pairing is returned right away.
func (c *CorrelationBuffer) AddStatus(slot uint64, signature string) []CorrelationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(slot)
	if e.blockTime != nil {
		return []CorrelationRecord{{Slot: slot, Signature: signature, BlockTime: *e.blockTime}}
	}
	e.signatures = append(e.signatures, signature)
	return nil
}

// SetBlockTime stores the block time of slot, resolves every signature buffered
// for it and evicts slots older than slot-depth. A nil blockTime only triggers eviction.
func (c *CorrelationBuffer) SetBlockTime(slot uint64, blockTime *time.Time) []CorrelationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []CorrelationRecord
	e := c.entry(slot)
	if blockTime != nil {
		t := *blockTime
		e.blockTime = &t
		for _, sig := range e.signatures {
			out = append(out, CorrelationRecord{Slot: slot, Signature: sig, BlockTime: t})
		}
		e.signatures = nil
	}

	if slot > c.depth {
		c.evictBelow(slot - c.depth)
	}
	return out
}

func (c *CorrelationBuffer) evictBelow(floor uint64) {
	for {
		minEntry, ok := c.entries.Min()
		if !ok || minEntry.slot >= floor {
			return
		}
		c.entries.DeleteMin()
		c.unresolved += uint64(len(minEntry.signatures))
	}
}

// Len returns the number of tracked slots.
func (c *CorrelationBuffer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Has reports whether slot is still tracked.
func (c *CorrelationBuffer) Has(slot uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Has(&correlationEntry{slot: slot})
}

// Unresolved returns how many signatures were evicted before their block time arrived.
func (c *CorrelationBuffer) Unresolved() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unresolved
}

// CorrelatingSink routes transaction status and block meta records through a
// CorrelationBuffer and forwards the resulting correlation records. Every other
// record passes through unchanged.
type CorrelatingSink struct {
	buf  *CorrelationBuffer
	next Sink
}

func NewCorrelatingSink(buf *CorrelationBuffer, next Sink) *CorrelatingSink {
	return &CorrelatingSink{buf: buf, next: next}
}

func (s *CorrelatingSink) Accept(r Record) {
	var resolved []CorrelationRecord
	switch rec := r.(type) {
	case TransactionStatusRecord:
		resolved = s.buf.AddStatus(rec.Slot, rec.Signature)
	case BlockMetaRecord:
		resolved = s.buf.SetBlockTime(rec.Slot, rec.BlockTime)
	default:
		s.next.Accept(r)
		return
	}
	for _, cr := range resolved {
		s.next.Accept(cr)
	}
}
