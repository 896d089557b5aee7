package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxBundleSize bounds the number of assets a single offer may carry.
const MaxBundleSize = 8

// Side discriminates listings from counter-offers.
type Side uint8

const (
	SideSell Side = iota
	SideBuy
)

func (s Side) String() string {
	switch s {
	case SideSell:
		return "sell"
	case SideBuy:
		return "buy"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether the side value is supported.
func (s Side) Valid() bool { return s == SideSell || s == SideBuy }

// ParseSide converts the textual representation used by the API.
func ParseSide(v string) (Side, error) {
	switch v {
	case "sell", "SELL", "0":
		return SideSell, nil
	case "buy", "BUY", "1":
		return SideBuy, nil
	default:
		return 0, fmt.Errorf("unknown side %q", v)
	}
}

// AssetType identifies the token standard of a bundle entry.
type AssetType uint8

const (
	AssetERC721 AssetType = iota
	AssetERC1155
)

func (a AssetType) String() string {
	switch a {
	case AssetERC721:
		return "erc721"
	case AssetERC1155:
		return "erc1155"
	default:
		return fmt.Sprintf("asset(%d)", uint8(a))
	}
}

// Valid reports whether the asset type is supported.
func (a AssetType) Valid() bool { return a == AssetERC721 || a == AssetERC1155 }

// Role selects which leg of a trade an offer is validated as. The numeric
// value doubles as the error tag reported to callers.
type Role uint8

const (
	RoleListing Role = iota
	RoleMatching
)

func (r Role) String() string {
	if r == RoleMatching {
		return "matching"
	}
	return "listing"
}

// NativeCurrency is the payment token sentinel for the chain's native coin.
var NativeCurrency = common.Address{}

// Offer is the caller-constructed trade intent shared by listings (sell side)
// and counter-offers (buy side). The three asset slices are parallel.
type Offer struct {
	Trader         common.Address   `json:"trader"`
	Side           Side             `json:"side"`
	Collections    []common.Address `json:"collections"`
	TokenIDs       []*big.Int       `json:"tokenIds"`
	AssetTypes     []AssetType      `json:"assetTypes"`
	PaymentToken   common.Address   `json:"paymentToken"`
	Price          *big.Int         `json:"price"`
	ListingTime    uint64           `json:"listingTime"`
	ExpirationTime uint64           `json:"expirationTime"`
	MatchingID     uint64           `json:"matchingId"`
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Collections = append([]common.Address(nil), o.Collections...)
	clone.AssetTypes = append([]AssetType(nil), o.AssetTypes...)
	clone.TokenIDs = make([]*big.Int, len(o.TokenIDs))
	for i, id := range o.TokenIDs {
		if id != nil {
			clone.TokenIDs[i] = new(big.Int).Set(id)
		} else {
			clone.TokenIDs[i] = big.NewInt(0)
		}
	}
	if o.Price != nil {
		clone.Price = new(big.Int).Set(o.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// PriceOrZero returns the offer price, treating nil as zero.
func (o *Offer) PriceOrZero() *big.Int {
	if o == nil || o.Price == nil {
		return big.NewInt(0)
	}
	return o.Price
}

// PaysNative reports whether the currency leg settles in the native coin.
func (o *Offer) PaysNative() bool { return o != nil && o.PaymentToken == NativeCurrency }

// BundleShapeValid reports whether the parallel asset slices have equal
// length within the bundle bound.
func (o *Offer) BundleShapeValid() bool {
	if o == nil {
		return false
	}
	n := len(o.Collections)
	return n <= MaxBundleSize && len(o.TokenIDs) == n && len(o.AssetTypes) == n
}
