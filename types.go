package geyserstream

import (
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// Re-export protobuf types so callers don't need to import yellowstone-grpc directly

type (
	SubscribeRequest = pb.SubscribeRequest
	SubscribeUpdate  = pb.SubscribeUpdate
)

type CommitmentLevel = pb.CommitmentLevel

const (
	CommitmentLevel_PROCESSED = pb.CommitmentLevel_PROCESSED
	CommitmentLevel_CONFIRMED = pb.CommitmentLevel_CONFIRMED
	CommitmentLevel_FINALIZED = pb.CommitmentLevel_FINALIZED
)

var CommitmentLevel_name = pb.CommitmentLevel_name

// Filter types used by FilterSpec.Request
type (
	SubscribeRequestFilterTransactions = pb.SubscribeRequestFilterTransactions
	SubscribeRequestFilterSlots        = pb.SubscribeRequestFilterSlots
	SubscribeRequestFilterAccounts     = pb.SubscribeRequestFilterAccounts
	SubscribeRequestFilterBlocksMeta   = pb.SubscribeRequestFilterBlocksMeta
	SubscribeRequestAccountsDataSlice  = pb.SubscribeRequestAccountsDataSlice
	SubscribeRequestPing               = pb.SubscribeRequestPing
)

// SubscribeUpdate variants handled by the decoder
type (
	SubscribeUpdate_Account           = pb.SubscribeUpdate_Account
	SubscribeUpdate_Slot              = pb.SubscribeUpdate_Slot
	SubscribeUpdate_Transaction       = pb.SubscribeUpdate_Transaction
	SubscribeUpdate_TransactionStatus = pb.SubscribeUpdate_TransactionStatus
	SubscribeUpdate_Block             = pb.SubscribeUpdate_Block
	SubscribeUpdate_BlockMeta         = pb.SubscribeUpdate_BlockMeta
	SubscribeUpdate_Entry             = pb.SubscribeUpdate_Entry
	SubscribeUpdate_Ping              = pb.SubscribeUpdate_Ping
	SubscribeUpdate_Pong              = pb.SubscribeUpdate_Pong
)

type (
	SubscribeUpdateAccount           = pb.SubscribeUpdateAccount
	SubscribeUpdateAccountInfo       = pb.SubscribeUpdateAccountInfo
	SubscribeUpdateSlot              = pb.SubscribeUpdateSlot
	SubscribeUpdateTransaction       = pb.SubscribeUpdateTransaction
	SubscribeUpdateTransactionInfo   = pb.SubscribeUpdateTransactionInfo
	SubscribeUpdateTransactionStatus = pb.SubscribeUpdateTransactionStatus
	SubscribeUpdateBlock             = pb.SubscribeUpdateBlock
	SubscribeUpdateBlockMeta         = pb.SubscribeUpdateBlockMeta
	SubscribeUpdateEntry             = pb.SubscribeUpdateEntry
	SubscribeUpdatePing              = pb.SubscribeUpdatePing
	SubscribeUpdatePong              = pb.SubscribeUpdatePong
)
