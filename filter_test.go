package geyserstream

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/google/go-cmp/cmp"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gproto "google.golang.org/protobuf/proto"
)

func TestFilterBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		builder *FilterBuilder
		wantErr bool
	}{
		{
			name:    "empty filter",
			builder: NewFilterBuilder(),
			wantErr: true,
		},
		{
			name:    "slots only",
			builder: NewFilterBuilder().Slots(),
		},
		{
			name:    "invalid base58 account",
			builder: NewFilterBuilder().Accounts("0OIl"),
			wantErr: true,
		},
		{
			name:    "address of wrong length",
			builder: NewFilterBuilder().Accounts("abc"),
			wantErr: true,
		},
		{
			name:    "invalid owner",
			builder: NewFilterBuilder().Owners("not an address"),
			wantErr: true,
		},
		{
			name:    "invalid transaction include",
			builder: NewFilterBuilder().Transactions().AccountInclude("xyz"),
			wantErr: true,
		},
		{
			name:    "zero-length data slice",
			builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(10, 0),
			wantErr: true,
		},
		{
			name:    "data slice beyond 10 MiB",
			builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(MaxDataSliceEnd-8, 16),
			wantErr: true,
		},
		{
			name:    "data slice ending exactly at 10 MiB",
			builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(MaxDataSliceEnd-16, 16),
		},
		{
			name:    "overlapping data slices",
			builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(32, 16).DataSlice(0, 40),
			wantErr: true,
		},
		{
			name:    "adjacent data slices",
			builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(16, 16).DataSlice(0, 16),
		},
		{
			name:    "unknown commitment",
			builder: NewFilterBuilder().Slots().Commitment(CommitmentLevel(42)),
			wantErr: true,
		},
		{
			name:    "malformed signature",
			builder: NewFilterBuilder().Transactions().Signature("abc"),
			wantErr: true,
		},
		{
			name:    "signature one byte short",
			builder: NewFilterBuilder().Transactions().Signature(base58.Encode(sig(7)[:solana.SignatureLength-1])),
			wantErr: true,
		},
		{
			name:    "public key used as signature",
			builder: NewFilterBuilder().Transactions().Signature(wrappedSOL),
			wantErr: true,
		},
		{
			name:    "account one byte short",
			builder: NewFilterBuilder().Accounts(base58.Encode(key(3)[:solana.PublicKeyLength-1])),
			wantErr: true,
		},
		{
			name:    "signature used as account",
			builder: NewFilterBuilder().Accounts(sigString(7)),
			wantErr: true,
		},
		{
			name:    "valid signature",
			builder: NewFilterBuilder().TransactionStatus().Signature(sigString(7)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.builder.Build()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFilter)
				assert.Nil(t, f)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, f)
		})
	}
}

func TestFilterSpec_Request(t *testing.T) {
	tests := []struct {
		name    string
		builder *FilterBuilder
		want    *SubscribeRequest
	}{
		{
			name:    "accounts with data slices keep given order",
			builder: NewFilterBuilder().Accounts(wrappedSOL, wrappedSOL).Owners(tokenProgram).DataSlice(64, 8).DataSlice(0, 16),
			want: &SubscribeRequest{
				Accounts: map[string]*SubscribeRequestFilterAccounts{
					"client": {Account: []string{wrappedSOL}, Owner: []string{tokenProgram}},
				},
				AccountsDataSlice: []*SubscribeRequestAccountsDataSlice{
					{Offset: 64, Length: 8},
					{Offset: 0, Length: 16},
				},
				Commitment: commitmentPtr(CommitmentLevel_PROCESSED),
			},
		},
		{
			name:    "transactions with account filters",
			builder: NewFilterBuilder().Transactions().AccountInclude(tokenProgram, systemProgram).AccountRequired(wrappedSOL).Vote(false).Commitment(CommitmentLevel_CONFIRMED),
			want: &SubscribeRequest{
				Transactions: map[string]*SubscribeRequestFilterTransactions{
					"client": {
						Vote:            boolPtr(false),
						AccountInclude:  []string{systemProgram, tokenProgram},
						AccountRequired: []string{wrappedSOL},
					},
				},
				Commitment: commitmentPtr(CommitmentLevel_CONFIRMED),
			},
		},
		{
			name:    "bare account include means full transactions",
			builder: NewFilterBuilder().AccountExclude(systemProgram),
			want: &SubscribeRequest{
				Transactions: map[string]*SubscribeRequestFilterTransactions{
					"client": {AccountExclude: []string{systemProgram}},
				},
				Commitment: commitmentPtr(CommitmentLevel_PROCESSED),
			},
		},
		{
			name:    "status with blocks meta",
			builder: NewFilterBuilder().TransactionStatus().BlocksMeta().Failed(true).Signature(sigString(3)),
			want: &SubscribeRequest{
				TransactionsStatus: map[string]*SubscribeRequestFilterTransactions{
					"client": {Failed: boolPtr(true), Signature: gproto.String(sigString(3))},
				},
				BlocksMeta: map[string]*SubscribeRequestFilterBlocksMeta{"client": {}},
				Commitment: commitmentPtr(CommitmentLevel_PROCESSED),
			},
		},
		{
			name:    "slots",
			builder: NewFilterBuilder().Slots().Commitment(CommitmentLevel_FINALIZED),
			want: &SubscribeRequest{
				Slots: map[string]*SubscribeRequestFilterSlots{
					"client": {FilterByCommitment: boolPtr(true), InterslotUpdates: boolPtr(false)},
				},
				Commitment: commitmentPtr(CommitmentLevel_FINALIZED),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.builder.Build()
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, f.Request(), cmpOpts...); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFilterSpec_RequestIsFresh(t *testing.T) {
	f := mustFilter(NewFilterBuilder().Accounts(wrappedSOL).Transactions().AccountInclude(tokenProgram))

	first := f.Request()
	first.Accounts["client"].Account[0] = "mutated"
	first.Transactions["client"].AccountInclude = nil
	*first.Commitment = CommitmentLevel_FINALIZED

	second := f.Request()
	assert.Equal(t, []string{wrappedSOL}, second.GetAccounts()["client"].GetAccount())
	assert.Equal(t, []string{tokenProgram}, second.GetTransactions()["client"].GetAccountInclude())
	assert.Equal(t, CommitmentLevel_PROCESSED, second.GetCommitment())
}

func TestFilterSpec_ImmutableAfterBuild(t *testing.T) {
	b := NewFilterBuilder().Accounts(wrappedSOL).DataSlice(0, 16)
	f, err := b.Build()
	require.NoError(t, err)

	b.Accounts(tokenProgram).DataSlice(32, 16).Commitment(CommitmentLevel_FINALIZED)

	assert.Equal(t, []string{wrappedSOL}, f.Request().GetAccounts()["client"].GetAccount())
	assert.Equal(t, []DataSlice{{Offset: 0, Length: 16}}, f.DataSlices())
	assert.Equal(t, CommitmentLevel_PROCESSED, f.Commitment())
}

func TestParseCommitment(t *testing.T) {
	tests := []struct {
		in      string
		want    CommitmentLevel
		wantErr bool
	}{
		{in: "", want: CommitmentLevel_PROCESSED},
		{in: "processed", want: CommitmentLevel_PROCESSED},
		{in: "Confirmed", want: CommitmentLevel_CONFIRMED},
		{in: " finalized ", want: CommitmentLevel_FINALIZED},
		{in: "rooted", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommitment(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterBuilder_AddressesAreCanonicalPublicKeys(t *testing.T) {
	f := mustFilter(NewFilterBuilder().
		Accounts(" "+wrappedSOL+" ").
		Transactions().
		AccountRequired(solana.SystemProgramID.String()))

	req := f.Request()
	assert.Equal(t, []string{solana.WrappedSol.String()}, req.GetAccounts()["client"].GetAccount())
	assert.Equal(t, []string{systemProgram}, req.GetTransactions()["client"].GetAccountRequired())
}

func TestFilterSpec_ReceivedOffset(t *testing.T) {
	tests := []struct {
		name    string
		builder *FilterBuilder
		offset  uint64
		n       uint64
		want    uint64
		wantOK  bool
	}{
		{name: "no slices", builder: NewFilterBuilder().Accounts(wrappedSOL), offset: 253, n: 16, want: 253, wantOK: true},
		{name: "exact slice", builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(253, 16), offset: 253, n: 16, want: 0, wantOK: true},
		{name: "inside wider slice", builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(200, 100), offset: 253, n: 16, want: 53, wantOK: true},
		{name: "second slice in request order", builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(300, 8).DataSlice(253, 16), offset: 253, n: 16, want: 8, wantOK: true},
		{name: "not covered", builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(0, 32), offset: 253, n: 16},
		{name: "straddles two slices", builder: NewFilterBuilder().Accounts(wrappedSOL).DataSlice(245, 16).DataSlice(261, 16), offset: 253, n: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := mustFilter(tt.builder).ReceivedOffset(tt.offset, tt.n)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
