package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Payout is one transfer produced by the fee splitter.
type Payout struct {
	Recipient  common.Address
	Amount     *big.Int
	Partner    bool
	Collection common.Address
}

// FeeSplitter divides a fixed fee pool between the partner collections of a
// bundle and the protocol fee sink.
type FeeSplitter struct {
	Policy PolicyGate
	Share  *big.Int
	Sink   common.Address
}

// Split deduplicates collections in first-occurrence order and assigns the
// fixed share to every unique partner collection. The residual goes to the
// sink. Zero-value payouts are omitted, so the payout amounts always sum to
// pool. Split fails with ErrFeePoolExhausted when the partner shares exceed the
// pool.
func (s FeeSplitter) Split(collections []common.Address, pool *big.Int) ([]Payout, error) {
	if s.Policy == nil {
		return nil, errNilPolicy
	}
	remaining, overflow := uint256.FromBig(amountOrZero(pool))
	if overflow || amountOrZero(pool).Sign() < 0 {
		return nil, fmt.Errorf("exchange: fee pool out of range")
	}
	share, overflow := uint256.FromBig(amountOrZero(s.Share))
	if overflow || amountOrZero(s.Share).Sign() < 0 {
		return nil, fmt.Errorf("exchange: partner share out of range")
	}

	var payouts []Payout
	for _, collection := range UniqueCollections(collections) {
		recipient, ok, err := s.Policy.PartnerFeeRecipient(collection)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if remaining.Lt(share) {
			return nil, ErrFeePoolExhausted
		}
		remaining.Sub(remaining, share)
		if share.IsZero() {
			continue
		}
		payouts = append(payouts, Payout{
			Recipient:  recipient,
			Amount:     share.ToBig(),
			Partner:    true,
			Collection: collection,
		})
	}
	if !remaining.IsZero() {
		payouts = append(payouts, Payout{Recipient: s.Sink, Amount: remaining.ToBig()})
	}
	return payouts, nil
}

// UniqueCollections returns collections without duplicates, keeping the first
// occurrence of each.
func UniqueCollections(collections []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(collections))
	out := make([]common.Address, 0, len(collections))
	for _, c := range collections {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
