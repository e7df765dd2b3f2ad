package geyserstream

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
)

const (
	// MaxDataSliceEnd bounds offset+length of any requested account data slice.
	MaxDataSliceEnd = 10 * 1024 * 1024

	// filterName is the key used for every filter map entry in the request.
	filterName = "client"
)

// DataSlice is a byte range of an account's data the service should send instead of the full payload.
type DataSlice struct {
	Offset uint64
	Length uint64
}

// FilterSpec describes what a subscription receives. It is immutable once built;
// use FilterBuilder to create one.
type FilterSpec struct {
	accounts []string
	owners   []string
	slices   []DataSlice

	txInclude  []string
	txExclude  []string
	txRequired []string
	vote       *bool
	failed     *bool
	signature  *string

	transactions      bool
	transactionStatus bool
	slots             bool
	blocksMeta        bool

	commitment CommitmentLevel
}

// FilterBuilder accumulates filter parameters. Build validates them.
type FilterBuilder struct {
	spec FilterSpec
}

// NewFilterBuilder returns a builder with processed commitment.
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{spec: FilterSpec{commitment: CommitmentLevel_PROCESSED}}
}

func (b *FilterBuilder) Accounts(addrs ...string) *FilterBuilder {
	b.spec.accounts = append(b.spec.accounts, addrs...)
	return b
}

func (b *FilterBuilder) Owners(addrs ...string) *FilterBuilder {
	b.spec.owners = append(b.spec.owners, addrs...)
	return b
}

// DataSlice requests only length bytes at offset of every matching account.
func (b *FilterBuilder) DataSlice(offset, length uint64) *FilterBuilder {
	b.spec.slices = append(b.spec.slices, DataSlice{Offset: offset, Length: length})
	return b
}

// Transactions subscribes to full transactions matching the transaction account filters.
func (b *FilterBuilder) Transactions() *FilterBuilder {
	b.spec.transactions = true
	return b
}

// TransactionStatus subscribes to confirmation signals matching the transaction account filters.
func (b *FilterBuilder) TransactionStatus() *FilterBuilder {
	b.spec.transactionStatus = true
	return b
}

func (b *FilterBuilder) AccountInclude(addrs ...string) *FilterBuilder {
	b.spec.txInclude = append(b.spec.txInclude, addrs...)
	return b
}

func (b *FilterBuilder) AccountExclude(addrs ...string) *FilterBuilder {
	b.spec.txExclude = append(b.spec.txExclude, addrs...)
	return b
}

func (b *FilterBuilder) AccountRequired(addrs ...string) *FilterBuilder {
	b.spec.txRequired = append(b.spec.txRequired, addrs...)
	return b
}

func (b *FilterBuilder) Vote(v bool) *FilterBuilder {
	b.spec.vote = &v
	return b
}

func (b *FilterBuilder) Failed(v bool) *FilterBuilder {
	b.spec.failed = &v
	return b
}

func (b *FilterBuilder) Signature(sig string) *FilterBuilder {
	b.spec.signature = &sig
	return b
}

func (b *FilterBuilder) Slots() *FilterBuilder {
	b.spec.slots = true
	return b
}

func (b *FilterBuilder) BlocksMeta() *FilterBuilder {
	b.spec.blocksMeta = true
	return b
}

func (b *FilterBuilder) Commitment(level CommitmentLevel) *FilterBuilder {
	b.spec.commitment = level
	return b
}

// Build validates the accumulated parameters and returns an immutable FilterSpec.
func (b *FilterBuilder) Build() (*FilterSpec, error) {
	spec := FilterSpec{
		slices:            slices.Clone(b.spec.slices),
		vote:              b.spec.vote,
		failed:            b.spec.failed,
		signature:         b.spec.signature,
		transactions:      b.spec.transactions,
		transactionStatus: b.spec.transactionStatus,
		slots:             b.spec.slots,
		blocksMeta:        b.spec.blocksMeta,
		commitment:        b.spec.commitment,
	}

	var err error
	sets := []struct {
		name string
		in   []string
		out  *[]string
	}{
		{"account", b.spec.accounts, &spec.accounts},
		{"owner", b.spec.owners, &spec.owners},
		{"account-include", b.spec.txInclude, &spec.txInclude},
		{"account-exclude", b.spec.txExclude, &spec.txExclude},
		{"account-required", b.spec.txRequired, &spec.txRequired},
	}
	for _, s := range sets {
		if *s.out, err = addressSet(s.name, s.in); err != nil {
			return nil, err
		}
	}

	if spec.signature != nil {
		if _, err := solana.SignatureFromBase58(*spec.signature); err != nil {
			return nil, fmt.Errorf("%w: signature %q: %v", ErrInvalidFilter, *spec.signature, err)
		}
	}
	if _, ok := CommitmentLevel_name[int32(spec.commitment)]; !ok {
		return nil, fmt.Errorf("%w: unknown commitment level %d", ErrInvalidFilter, spec.commitment)
	}
	if err := validateDataSlices(spec.slices); err != nil {
		return nil, err
	}
	if spec.isEmpty() {
		return nil, fmt.Errorf("%w: nothing to subscribe to", ErrInvalidFilter)
	}
	return &spec, nil
}

func (f *FilterSpec) hasTransactionFilter() bool {
	return len(f.txInclude) > 0 || len(f.txExclude) > 0 || len(f.txRequired) > 0 || f.signature != nil
}

func (f *FilterSpec) wantsTransactions() bool {
	return f.transactions || f.transactionStatus || f.hasTransactionFilter()
}

func (f *FilterSpec) isEmpty() bool {
	return len(f.accounts) == 0 && len(f.owners) == 0 && !f.wantsTransactions() && !f.slots && !f.blocksMeta
}

// Commitment returns the commitment level sent with the subscription.
func (f *FilterSpec) Commitment() CommitmentLevel { return f.commitment }

// DataSlices returns a copy of the requested data slices in the order given.
func (f *FilterSpec) DataSlices() []DataSlice { return slices.Clone(f.slices) }

// ReceivedOffset maps an offset into the on-chain account data to the position
// of the same bytes in the data the service sends for this filter, which is the
// concatenation of the requested slices. ok is false when no single slice covers
// the n bytes at offset.
func (f *FilterSpec) ReceivedOffset(offset, n uint64) (pos uint64, ok bool) {
	if len(f.slices) == 0 {
		return offset, true
	}
	for _, s := range f.slices {
		if offset >= s.Offset && offset+n <= s.Offset+s.Length {
			return pos + offset - s.Offset, true
		}
		pos += s.Length
	}
	return 0, false
}

// Request renders the filter as a new SubscribeRequest. Every call returns a fresh
// message so callers may hand it to a stream without sharing state.
func (f *FilterSpec) Request() *SubscribeRequest {
	commitment := f.commitment
	req := &SubscribeRequest{Commitment: &commitment}

	if len(f.accounts) > 0 || len(f.owners) > 0 {
		req.Accounts = map[string]*SubscribeRequestFilterAccounts{
			filterName: {
				Account: slices.Clone(f.accounts),
				Owner:   slices.Clone(f.owners),
			},
		}
	}
	for _, s := range f.slices {
		req.AccountsDataSlice = append(req.AccountsDataSlice, &SubscribeRequestAccountsDataSlice{
			Offset: s.Offset,
			Length: s.Length,
		})
	}

	if f.wantsTransactions() {
		txFilter := func() *SubscribeRequestFilterTransactions {
			return &SubscribeRequestFilterTransactions{
				Vote:            cloneBool(f.vote),
				Failed:          cloneBool(f.failed),
				Signature:       cloneString(f.signature),
				AccountInclude:  slices.Clone(f.txInclude),
				AccountExclude:  slices.Clone(f.txExclude),
				AccountRequired: slices.Clone(f.txRequired),
			}
		}
		// A bare transaction filter without an explicit stream means full transactions.
		if f.transactions || !f.transactionStatus {
			req.Transactions = map[string]*SubscribeRequestFilterTransactions{filterName: txFilter()}
		}
		if f.transactionStatus {
			req.TransactionsStatus = map[string]*SubscribeRequestFilterTransactions{filterName: txFilter()}
		}
	}

	if f.slots {
		filterByCommitment := true
		interslot := false
		req.Slots = map[string]*SubscribeRequestFilterSlots{
			filterName: {
				FilterByCommitment: &filterByCommitment,
				InterslotUpdates:   &interslot,
			},
		}
	}
	if f.blocksMeta {
		req.BlocksMeta = map[string]*SubscribeRequestFilterBlocksMeta{filterName: {}}
	}
	return req
}

// addressSet validates, deduplicates and sorts base58 public keys.
func addressSet(name string, addrs []string) ([]string, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		pk, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidFilter, name, a, err)
		}
		out = append(out, pk.String())
	}
	sort.Strings(out)
	return slices.Compact(out), nil
}

func validateDataSlices(in []DataSlice) error {
	sorted := slices.Clone(in)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var prevEnd uint64
	for i, s := range sorted {
		if s.Length == 0 {
			return fmt.Errorf("%w: data slice at offset %d has zero length", ErrInvalidFilter, s.Offset)
		}
		if s.Offset > MaxDataSliceEnd || s.Length > MaxDataSliceEnd-s.Offset {
			return fmt.Errorf("%w: data slice %d+%d exceeds %d bytes", ErrInvalidFilter, s.Offset, s.Length, MaxDataSliceEnd)
		}
		if i > 0 && s.Offset < prevEnd {
			return fmt.Errorf("%w: data slice at offset %d overlaps previous slice ending at %d", ErrInvalidFilter, s.Offset, prevEnd)
		}
		prevEnd = s.Offset + s.Length
	}
	return nil
}

// ParseCommitment maps processed, confirmed or finalized to a commitment level.
func ParseCommitment(s string) (CommitmentLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "processed":
		return CommitmentLevel_PROCESSED, nil
	case "confirmed":
		return CommitmentLevel_CONFIRMED, nil
	case "finalized":
		return CommitmentLevel_FINALIZED, nil
	default:
		return CommitmentLevel_PROCESSED, fmt.Errorf("unknown commitment level %q", s)
	}
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
