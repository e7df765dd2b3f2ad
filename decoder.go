package geyserstream

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	// sqrtPriceLen is the width of the packed Q64.64 square-root price.
	sqrtPriceLen = 16

	// Token pair decimals of the price feed: 9 for the base, 6 for the quote.
	baseDecimals  = 9
	quoteDecimals = 6
)

const q64 = float64(1 << 64)

// Record is a value derived from one inbound frame. The set of implementations is closed.
type Record interface {
	isRecord()
}

type AccountRecord struct {
	Slot         uint64
	Pubkey       string
	Owner        string
	Lamports     uint64
	Data         []byte
	WriteVersion uint64
	TxnSignature string // empty when the write carries no signature
	IsStartup    bool
}

type PriceRecord struct {
	Slot   uint64
	Pubkey string
	Value  float64
}

// TransactionRecord is a transaction rendered for inspection. Pretty holds the
// full transaction with status meta as indented JSON.
type TransactionRecord struct {
	Slot      uint64
	Signature string
	IsVote    bool
	Index     uint64
	Pretty    string
}

type TransactionStatusRecord struct {
	Slot      uint64
	Signature string
	IsVote    bool
	Failed    bool
}

type BlockMetaRecord struct {
	Slot        uint64
	ParentSlot  uint64
	Blockhash   string
	BlockHeight uint64
	BlockTime   *time.Time
}

type SlotRecord struct {
	Slot   uint64
	Parent *uint64
	Status string
}

type BlockRecord struct {
	Slot             uint64
	Blockhash        string
	BlockTime        *time.Time
	TransactionCount uint64
}

type EntryRecord struct {
	Slot                     uint64
	Index                    uint64
	NumHashes                uint64
	ExecutedTransactionCount uint64
}

// CorrelationRecord pairs a confirmed signature with the time of its block.
type CorrelationRecord struct {
	Slot      uint64
	Signature string
	BlockTime time.Time
}

// PingRecord is a service ping. The session answers it; it never reaches a sink.
type PingRecord struct{}

// PongRecord acknowledges a client ping. It never reaches a sink.
type PongRecord struct {
	ID int32
}

func (AccountRecord) isRecord()           {}
func (PriceRecord) isRecord()             {}
func (TransactionRecord) isRecord()       {}
func (TransactionStatusRecord) isRecord() {}
func (BlockMetaRecord) isRecord()         {}
func (SlotRecord) isRecord()              {}
func (BlockRecord) isRecord()             {}
func (EntryRecord) isRecord()             {}
func (CorrelationRecord) isRecord()       {}
func (PingRecord) isRecord()              {}
func (PongRecord) isRecord()              {}

// Decoder turns inbound frames into records. It holds no mutable state and is
// safe for concurrent use.
type Decoder struct {
	priceOffset *uint64
}

// NewDecoder returns a decoder. When priceOffset is non-nil, account updates are
// decoded as prices read at that offset of the received data.
func NewDecoder(priceOffset *uint64) *Decoder {
	d := &Decoder{}
	if priceOffset != nil {
		off := *priceOffset
		d.priceOffset = &off
	}
	return d
}

// Decode maps one frame to its record.
func (d *Decoder) Decode(update *SubscribeUpdate) (Record, error) {
	if update == nil {
		return nil, fmt.Errorf("%w: nil update", ErrMalformedPayload)
	}
	switch u := update.UpdateOneof.(type) {
	case *SubscribeUpdate_Ping:
		return PingRecord{}, nil
	case *SubscribeUpdate_Pong:
		return PongRecord{ID: u.Pong.GetId()}, nil
	case *SubscribeUpdate_Account:
		return d.decodeAccount(u.Account)
	case *SubscribeUpdate_Transaction:
		return decodeTransaction(u.Transaction)
	case *SubscribeUpdate_TransactionStatus:
		return decodeTransactionStatus(u.TransactionStatus)
	case *SubscribeUpdate_BlockMeta:
		return decodeBlockMeta(u.BlockMeta)
	case *SubscribeUpdate_Slot:
		return decodeSlot(u.Slot)
	case *SubscribeUpdate_Block:
		return decodeBlock(u.Block)
	case *SubscribeUpdate_Entry:
		return decodeEntry(u.Entry)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedFrame, update.UpdateOneof)
	}
}

func (d *Decoder) decodeAccount(acc *SubscribeUpdateAccount) (Record, error) {
	info := acc.GetAccount()
	if info == nil {
		return nil, fmt.Errorf("%w: account update without account", ErrMalformedPayload)
	}
	pubkey, err := encodePublicKey(info.GetPubkey(), "pubkey")
	if err != nil {
		return nil, err
	}

	if d.priceOffset != nil {
		price, err := priceAt(info.GetData(), *d.priceOffset)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", pubkey, err)
		}
		return PriceRecord{Slot: acc.GetSlot(), Pubkey: pubkey, Value: price}, nil
	}

	owner, err := encodePublicKey(info.GetOwner(), "owner")
	if err != nil {
		return nil, err
	}
	rec := AccountRecord{
		Slot:         acc.GetSlot(),
		Pubkey:       pubkey,
		Owner:        owner,
		Lamports:     info.GetLamports(),
		Data:         info.GetData(),
		WriteVersion: info.GetWriteVersion(),
		IsStartup:    acc.GetIsStartup(),
	}
	if sig := info.GetTxnSignature(); len(sig) > 0 {
		if rec.TxnSignature, err = encodeSignature(sig, "txn signature"); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// priceAt reads a little-endian Q64.64 square-root price at offset and returns
// sqrtPrice^2 scaled from quote to base decimals.
func priceAt(data []byte, offset uint64) (float64, error) {
	if offset > uint64(len(data)) || uint64(len(data))-offset < sqrtPriceLen {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedPayload, sqrtPriceLen, offset, len(data))
	}
	return PriceFromSqrtPriceX64(data[offset : offset+sqrtPriceLen])
}

// PriceFromSqrtPriceX64 converts 16 little-endian bytes holding sqrtPrice·2^64
// into a price.
func PriceFromSqrtPriceX64(b []byte) (float64, error) {
	if len(b) < sqrtPriceLen {
		return 0, fmt.Errorf("%w: sqrt price needs %d bytes, have %d", ErrMalformedPayload, sqrtPriceLen, len(b))
	}
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := binary.LittleEndian.Uint64(b[8:16])
	sqrtPrice := float64(hi) + float64(lo)/q64
	return sqrtPrice * sqrtPrice * math.Pow10(baseDecimals) / math.Pow10(quoteDecimals), nil
}

var prettyJSON = protojson.MarshalOptions{Multiline: true, Indent: "  "}

func decodeTransaction(tx *SubscribeUpdateTransaction) (Record, error) {
	info := tx.GetTransaction()
	if info == nil || info.GetTransaction() == nil {
		return nil, fmt.Errorf("%w: transaction update at slot %d without transaction", ErrMalformedPayload, tx.GetSlot())
	}
	sig, err := encodeSignature(info.GetSignature(), "signature")
	if err != nil {
		return nil, err
	}
	pretty, err := prettyJSON.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("%w: encode transaction %s: %v", ErrMalformedPayload, sig, err)
	}
	return TransactionRecord{
		Slot:      tx.GetSlot(),
		Signature: sig,
		IsVote:    info.GetIsVote(),
		Index:     info.GetIndex(),
		Pretty:    string(pretty),
	}, nil
}

func decodeTransactionStatus(st *SubscribeUpdateTransactionStatus) (Record, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: empty transaction status", ErrMalformedPayload)
	}
	sig, err := encodeSignature(st.GetSignature(), "signature")
	if err != nil {
		return nil, err
	}
	return TransactionStatusRecord{
		Slot:      st.GetSlot(),
		Signature: sig,
		IsVote:    st.GetIsVote(),
		Failed:    st.GetErr() != nil,
	}, nil
}

func decodeBlockMeta(meta *SubscribeUpdateBlockMeta) (Record, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: empty block meta", ErrMalformedPayload)
	}
	rec := BlockMetaRecord{
		Slot:        meta.GetSlot(),
		ParentSlot:  meta.GetParentSlot(),
		Blockhash:   meta.GetBlockhash(),
		BlockHeight: meta.GetBlockHeight().GetBlockHeight(),
	}
	if bt := meta.GetBlockTime(); bt != nil {
		t := time.Unix(bt.GetTimestamp(), 0).UTC()
		rec.BlockTime = &t
	}
	return rec, nil
}

func decodeSlot(s *SubscribeUpdateSlot) (Record, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: empty slot update", ErrMalformedPayload)
	}
	rec := SlotRecord{Slot: s.GetSlot(), Status: s.GetStatus().String()}
	if s.Parent != nil {
		parent := s.GetParent()
		rec.Parent = &parent
	}
	return rec, nil
}

func decodeBlock(b *SubscribeUpdateBlock) (Record, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: empty block", ErrMalformedPayload)
	}
	rec := BlockRecord{
		Slot:             b.GetSlot(),
		Blockhash:        b.GetBlockhash(),
		TransactionCount: b.GetExecutedTransactionCount(),
	}
	if bt := b.GetBlockTime(); bt != nil {
		t := time.Unix(bt.GetTimestamp(), 0).UTC()
		rec.BlockTime = &t
	}
	return rec, nil
}

func decodeEntry(e *SubscribeUpdateEntry) (Record, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: empty entry", ErrMalformedPayload)
	}
	return EntryRecord{
		Slot:                     e.GetSlot(),
		Index:                    e.GetIndex(),
		NumHashes:                e.GetNumHashes(),
		ExecutedTransactionCount: e.GetExecutedTransactionCount(),
	}, nil
}

func encodePublicKey(b []byte, what string) (string, error) {
	if len(b) != solana.PublicKeyLength {
		return "", fmt.Errorf("%w: %s has %d bytes, want %d", ErrMalformedPayload, what, len(b), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(b).String(), nil
}

func encodeSignature(b []byte, what string) (string, error) {
	if len(b) != solana.SignatureLength {
		return "", fmt.Errorf("%w: %s has %d bytes, want %d", ErrMalformedPayload, what, len(b), solana.SignatureLength)
	}
	return solana.SignatureFromBytes(b).String(), nil
}

// frameKind names the variant of an inbound frame for logs and metrics.
func frameKind(update *SubscribeUpdate) string {
	switch update.GetUpdateOneof().(type) {
	case *SubscribeUpdate_Account:
		return "account"
	case *SubscribeUpdate_Transaction:
		return "transaction"
	case *SubscribeUpdate_TransactionStatus:
		return "transaction_status"
	case *SubscribeUpdate_BlockMeta:
		return "block_meta"
	case *SubscribeUpdate_Slot:
		return "slot"
	case *SubscribeUpdate_Block:
		return "block"
	case *SubscribeUpdate_Entry:
		return "entry"
	case *SubscribeUpdate_Ping:
		return "ping"
	case *SubscribeUpdate_Pong:
		return "pong"
	default:
		return "unknown"
	}
}
