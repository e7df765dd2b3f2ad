package geyserstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationBuffer_StatusThenBlockTime(t *testing.T) {
	buf := NewCorrelationBuffer(20)
	blockTime := time.Unix(1_700_000_000, 0).UTC()

	assert.Empty(t, buf.AddStatus(100, "A"))

	got := buf.SetBlockTime(100, &blockTime)
	assert.Equal(t, []CorrelationRecord{{Slot: 100, Signature: "A", BlockTime: blockTime}}, got)

	// A repeated block meta must not emit the pairing again.
	assert.Empty(t, buf.SetBlockTime(100, &blockTime))
}

func TestCorrelationBuffer_BlockTimeThenStatus(t *testing.T) {
	buf := NewCorrelationBuffer(20)
	blockTime := time.Unix(1_700_000_100, 0).UTC()

	assert.Empty(t, buf.SetBlockTime(50, &blockTime))
	assert.Equal(t,
		[]CorrelationRecord{{Slot: 50, Signature: "B", BlockTime: blockTime}},
		buf.AddStatus(50, "B"),
	)
}

func TestCorrelationBuffer_NilBlockTime(t *testing.T) {
	buf := NewCorrelationBuffer(20)

	buf.AddStatus(10, "A")
	assert.Empty(t, buf.SetBlockTime(10, nil))
	assert.True(t, buf.Has(10))

	blockTime := time.Unix(5, 0).UTC()
	assert.Len(t, buf.SetBlockTime(10, &blockTime), 1)
}

func TestCorrelationBuffer_Eviction(t *testing.T) {
	buf := NewCorrelationBuffer(20)
	blockTime := time.Unix(1_700_000_000, 0).UTC()

	buf.AddStatus(100, "A")
	buf.SetBlockTime(100, &blockTime)
	buf.AddStatus(101, "pending")
	require.True(t, buf.Has(100))

	// 120 - 20 = 100 is still inside the window.
	buf.SetBlockTime(120, &blockTime)
	assert.True(t, buf.Has(100))

	buf.SetBlockTime(121, &blockTime)
	assert.False(t, buf.Has(100))
	assert.True(t, buf.Has(101))
	assert.Equal(t, uint64(0), buf.Unresolved())

	buf.SetBlockTime(122, &blockTime)
	assert.False(t, buf.Has(101))
	assert.Equal(t, uint64(1), buf.Unresolved())
	assert.Equal(t, 3, buf.Len())
}

func TestCorrelationBuffer_LowSlotsDoNotUnderflow(t *testing.T) {
	buf := NewCorrelationBuffer(20)
	blockTime := time.Unix(1, 0).UTC()

	buf.AddStatus(0, "genesis")
	buf.SetBlockTime(5, &blockTime)
	buf.SetBlockTime(20, &blockTime)
	assert.True(t, buf.Has(0))

	buf.SetBlockTime(21, &blockTime)
	assert.False(t, buf.Has(0))
}

func TestCorrelationBuffer_DefaultDepth(t *testing.T) {
	buf := NewCorrelationBuffer(0)
	blockTime := time.Unix(1, 0).UTC()

	buf.AddStatus(1000, "A")
	buf.SetBlockTime(1000+DefaultCorrelationDepth, &blockTime)
	assert.True(t, buf.Has(1000))
	buf.SetBlockTime(1001+DefaultCorrelationDepth, &blockTime)
	assert.False(t, buf.Has(1000))
}

func TestCorrelatingSink(t *testing.T) {
	var got []Record
	sink := NewCorrelatingSink(NewCorrelationBuffer(20), SinkFunc(func(r Record) {
		got = append(got, r)
	}))
	blockTime := time.Unix(1_700_000_000, 0).UTC()

	sink.Accept(TransactionStatusRecord{Slot: 100, Signature: "A"})
	sink.Accept(SlotRecord{Slot: 100})
	sink.Accept(BlockMetaRecord{Slot: 100, BlockTime: &blockTime})

	assert.Equal(t, []Record{
		SlotRecord{Slot: 100},
		CorrelationRecord{Slot: 100, Signature: "A", BlockTime: blockTime},
	}, got)
}
