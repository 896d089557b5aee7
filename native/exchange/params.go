package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Params is the fee schedule and routing configuration of the exchange.
type Params struct {
	// ListingFee is collected by ListOffer and later split between partner
	// collections and the fee sink when the listing is filled.
	ListingFee *big.Int
	// BuyingFee is collected by MakeOffer and forwarded to the fee sink.
	BuyingFee *big.Int
	// PartnerShare is paid from the listing fee to each unique partner
	// collection in a filled listing.
	PartnerShare *big.Int
	FeeSink      common.Address
	// Vault is the account holding attached value, listing fees and native
	// price escrows. Traders approve it as operator of their assets.
	Vault common.Address
	// WrappedNative is the zero-fee wrapped native token always accepted as
	// payment.
	WrappedNative common.Address
	// RequireOpenForAccept extends the trading gate to AcceptOffer.
	RequireOpenForAccept bool
}

// DefaultParams returns a zero-fee schedule.
func DefaultParams() Params {
	return Params{
		ListingFee:   big.NewInt(0),
		BuyingFee:    big.NewInt(0),
		PartnerShare: big.NewInt(0),
	}
}

// Validate reports configuration errors in the schedule.
func (p Params) Validate() error {
	for name, v := range map[string]*big.Int{
		"listing fee":   p.ListingFee,
		"buying fee":    p.BuyingFee,
		"partner share": p.PartnerShare,
	} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("exchange: %s must not be negative", name)
		}
	}
	if p.Vault == (common.Address{}) {
		return fmt.Errorf("exchange: vault address required")
	}
	if amountOrZero(p.PartnerShare).Cmp(amountOrZero(p.ListingFee)) > 0 {
		return fmt.Errorf("exchange: partner share exceeds listing fee")
	}
	return nil
}

// Call describes the invoking party of an engine operation and the native
// value attached to it.
type Call struct {
	Caller common.Address
	Value  *big.Int
}

func (c Call) value() *big.Int { return amountOrZero(c.Value) }

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
