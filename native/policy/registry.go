package policy

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	swapstate "nftswap/core/state"
)

var (
	// ErrPartnerCapacity is returned when registering another partner would
	// let the fixed partner shares exceed the listing fee pool.
	ErrPartnerCapacity = errors.New("policy: partner shares would exceed listing fee")
	ErrZeroAddress     = errors.New("policy: zero address")
)

// Partner is a collection that receives a share of listing fees.
type Partner struct {
	Collection common.Address `json:"collection"`
	Recipient  common.Address `json:"recipient"`
}

// Registry is the state-backed policy gate of the exchange.
type Registry struct {
	state *swapstate.Manager
	pool  *big.Int
	share *big.Int
}

// NewRegistry binds the registry to state. pool and share are the listing fee
// and per-partner share used for capacity checks.
func NewRegistry(manager *swapstate.Manager, pool, share *big.Int) (*Registry, error) {
	if manager == nil {
		return nil, fmt.Errorf("policy: state manager required")
	}
	r := &Registry{state: manager, pool: big.NewInt(0), share: big.NewInt(0)}
	if pool != nil {
		r.pool = new(big.Int).Set(pool)
	}
	if share != nil {
		r.share = new(big.Int).Set(share)
	}
	return r, nil
}

// IsBlacklisted reports whether trading the collection is barred.
func (r *Registry) IsBlacklisted(collection common.Address) (bool, error) {
	return r.state.IsBlacklisted(collection)
}

// IsAllowedToken reports whether the token is on the payment allow-list.
func (r *Registry) IsAllowedToken(token common.Address) (bool, error) {
	return r.state.IsAllowedToken(token)
}

// PartnerFeeRecipient resolves the fee recipient of a partner collection.
func (r *Registry) PartnerFeeRecipient(collection common.Address) (common.Address, bool, error) {
	return r.state.PartnerRecipient(collection)
}

// SetBlacklisted updates a collection's blacklist entry.
func (r *Registry) SetBlacklisted(collection common.Address, blacklisted bool) error {
	if collection == (common.Address{}) {
		return ErrZeroAddress
	}
	return r.state.SetBlacklisted(collection, blacklisted)
}

// SetAllowedToken updates the payment allow-list.
func (r *Registry) SetAllowedToken(token common.Address, allowed bool) error {
	if token == (common.Address{}) {
		return ErrZeroAddress
	}
	return r.state.SetAllowedToken(token, allowed)
}

// RegisterPartner adds or re-targets a partner collection. Adding a new
// collection fails with ErrPartnerCapacity once the pool cannot fund one more
// share.
func (r *Registry) RegisterPartner(collection, recipient common.Address) error {
	if collection == (common.Address{}) || recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	_, exists, err := r.state.PartnerRecipient(collection)
	if err != nil {
		return err
	}
	if !exists {
		partners, err := r.state.Partners()
		if err != nil {
			return err
		}
		if capacity, bounded := r.Capacity(); bounded && uint64(len(partners)) >= capacity {
			return fmt.Errorf("%w: capacity %d", ErrPartnerCapacity, capacity)
		}
	}
	return r.state.SetPartner(collection, recipient)
}

// RemovePartner unregisters a partner collection.
func (r *Registry) RemovePartner(collection common.Address) error {
	return r.state.RemovePartner(collection)
}

// Partners lists registered partners in registration order.
func (r *Registry) Partners() ([]Partner, error) {
	collections, err := r.state.Partners()
	if err != nil {
		return nil, err
	}
	out := make([]Partner, 0, len(collections))
	for _, c := range collections {
		recipient, ok, err := r.state.PartnerRecipient(c)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Partner{Collection: c, Recipient: recipient})
		}
	}
	return out, nil
}

// Capacity reports how many partners the listing fee can fund. bounded is
// false when the share is zero, in which case any number is allowed.
func (r *Registry) Capacity() (capacity uint64, bounded bool) {
	share, overflow := uint256.FromBig(r.share)
	if overflow || share.IsZero() {
		return 0, false
	}
	pool, overflow := uint256.FromBig(r.pool)
	if overflow {
		return ^uint64(0), true
	}
	q := new(uint256.Int).Div(pool, share)
	if !q.IsUint64() {
		return ^uint64(0), true
	}
	return q.Uint64(), true
}
