package geyserstream

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gagliardetto/solana-go"
	"google.golang.org/protobuf/testing/protocmp"
)

var cmpOpts = []cmp.Option{
	protocmp.Transform(),
	cmpopts.EquateEmpty(),
}

const (
	systemProgram = "11111111111111111111111111111111"
	tokenProgram  = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	wrappedSOL    = "So11111111111111111111111111111111111111112"
)

func boolPtr(v bool) *bool { return &v }

func uint64Ptr(v uint64) *uint64 { return &v }

func commitmentPtr(c CommitmentLevel) *CommitmentLevel { return &c }

// key returns a 32-byte value filled with b.
func key(b byte) []byte {
	out := make([]byte, solana.PublicKeyLength)
	for i := range out {
		out[i] = b
	}
	return out
}

// sig returns a 64-byte signature filled with b.
func sig(b byte) []byte {
	out := make([]byte, solana.SignatureLength)
	for i := range out {
		out[i] = b
	}
	return out
}

func sigString(b byte) string { return solana.SignatureFromBytes(sig(b)).String() }

func mustFilter(b *FilterBuilder) *FilterSpec {
	f, err := b.Build()
	if err != nil {
		panic(err)
	}
	return f
}

func statusUpdate(slot uint64, signature byte) *SubscribeUpdate {
	return &SubscribeUpdate{UpdateOneof: &SubscribeUpdate_TransactionStatus{
		TransactionStatus: &SubscribeUpdateTransactionStatus{Slot: slot, Signature: sig(signature)},
	}}
}

func pingUpdate() *SubscribeUpdate {
	return &SubscribeUpdate{UpdateOneof: &SubscribeUpdate_Ping{Ping: &SubscribeUpdatePing{}}}
}

func slotUpdate(slot uint64) *SubscribeUpdate {
	return &SubscribeUpdate{UpdateOneof: &SubscribeUpdate_Slot{Slot: &SubscribeUpdateSlot{Slot: slot}}}
}
