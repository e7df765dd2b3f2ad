package main

import (
	geyserstream "github.com/geyserstream/geyserstream"
)

// priceSliceLen is the width of the packed square-root price read by subscribe-token-price.
const priceSliceLen = 16

func txFilter(accounts []string, commitment geyserstream.CommitmentLevel) (*geyserstream.FilterSpec, error) {
	return geyserstream.NewFilterBuilder().
		Transactions().
		AccountInclude(accounts...).
		Commitment(commitment).
		Build()
}

func accountFilter(accounts []string, commitment geyserstream.CommitmentLevel) (*geyserstream.FilterSpec, error) {
	return geyserstream.NewFilterBuilder().
		Accounts(accounts...).
		Commitment(commitment).
		Build()
}

// tokenPriceFilter requests only the 16 price bytes of each pool account, so
// the price is decoded at offset 0 of the received data.
func tokenPriceFilter(accounts []string, offset uint64, commitment geyserstream.CommitmentLevel) (*geyserstream.FilterSpec, error) {
	return geyserstream.NewFilterBuilder().
		Accounts(accounts...).
		DataSlice(offset, priceSliceLen).
		Commitment(commitment).
		Build()
}

func txBlocktimeFilter(opts txFilterOptions, commitment geyserstream.CommitmentLevel) (*geyserstream.FilterSpec, error) {
	b := geyserstream.NewFilterBuilder().
		TransactionStatus().
		BlocksMeta().
		Commitment(commitment)
	return opts.apply(b).Build()
}

func slotFilter(commitment geyserstream.CommitmentLevel) (*geyserstream.FilterSpec, error) {
	return geyserstream.NewFilterBuilder().
		Slots().
		Commitment(commitment).
		Build()
}
