package main

import (
	"time"

	"go.uber.org/zap"

	geyserstream "github.com/geyserstream/geyserstream"
)

// logSink writes every record it receives to the logger.
type logSink struct {
	log *zap.SugaredLogger
}

func (s logSink) Accept(rec geyserstream.Record) {
	switch r := rec.(type) {
	case geyserstream.TransactionRecord:
		s.log.Infow("transaction",
			"slot", r.Slot,
			"signature", r.Signature,
			"isVote", r.IsVote,
			"index", r.Index,
		)
		s.log.Debug(r.Pretty)
	case geyserstream.TransactionStatusRecord:
		s.log.Infow("transaction status", "slot", r.Slot, "signature", r.Signature, "failed", r.Failed)
	case geyserstream.AccountRecord:
		s.log.Infow("account",
			"slot", r.Slot,
			"pubkey", r.Pubkey,
			"owner", r.Owner,
			"lamports", r.Lamports,
			"dataLen", len(r.Data),
			"writeVersion", r.WriteVersion,
			"txnSignature", r.TxnSignature,
		)
	case geyserstream.PriceRecord:
		s.log.Infow("price", "slot", r.Slot, "pubkey", r.Pubkey, "price", r.Value)
	case geyserstream.CorrelationRecord:
		s.log.Infow("received txn", "signature", r.Signature, "slot", r.Slot, "blockTime", r.BlockTime.UTC().Format(time.RFC3339))
	case geyserstream.BlockMetaRecord:
		s.log.Debugw("block meta", "slot", r.Slot, "blockhash", r.Blockhash, "blockHeight", r.BlockHeight)
	case geyserstream.SlotRecord:
		s.log.Infow("slot received", "slot", r.Slot, "status", r.Status)
	case geyserstream.BlockRecord:
		s.log.Infow("block", "slot", r.Slot, "blockhash", r.Blockhash, "transactions", r.TransactionCount)
	case geyserstream.EntryRecord:
		s.log.Debugw("entry", "slot", r.Slot, "index", r.Index)
	default:
		s.log.Debugw("record", "value", rec)
	}
}
