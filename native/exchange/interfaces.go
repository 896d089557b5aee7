package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/state"
	"nftswap/core/types"
)

// PolicyGate answers the collection and currency policy questions asked by
// the validation pipeline and the fee splitter.
type PolicyGate interface {
	IsBlacklisted(collection common.Address) (bool, error)
	IsAllowedToken(token common.Address) (bool, error)
	PartnerFeeRecipient(collection common.Address) (common.Address, bool, error)
}

// AssetExecutor moves value once the engine has decided what moves between
// whom. Implementations enforce their own approval rules and fail when the
// vault is not approved or the owner revoked approval.
type AssetExecutor interface {
	// ReceiveNative moves native value attached to a call into the vault.
	ReceiveNative(from common.Address, amount *big.Int) error
	// TransferNative pays native value out of the vault.
	TransferNative(to common.Address, amount *big.Int) error
	TransferCurrencyUnits(token, from, to common.Address, amount *big.Int) error
	TransferSingleUnitAsset(collection, from, to common.Address, id *big.Int) error
	TransferFungibleUnits(collection, from, to common.Address, id, amount *big.Int) error
}

// Reverter is implemented by executors that keep their own journal outside
// the engine state. The engine reverts them together with its own state when
// an operation fails.
type Reverter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

type engineState interface {
	Snapshot() int
	RevertToSnapshot(id int)

	OfferSettled(hash common.Hash) (bool, error)
	SetOfferSettled(hash common.Hash) error
	OfferNonce(trader common.Address) (uint64, error)
	SetOfferNonce(trader common.Address, nonce uint64) error
	SwapID() (uint64, error)
	OfferAppend(offer *types.Offer, hash common.Hash) (uint64, error)
	OfferGet(id uint64) (*state.OfferRecord, bool, error)
	OfferIDByHash(hash common.Hash) (uint64, bool, error)
	OfferIDsByTrader(trader common.Address) ([]uint64, error)
	TradingOpen() (bool, error)
	SetTradingOpen(open bool) error
	NativeEscrow(hash common.Hash) (*big.Int, error)
	SetNativeEscrow(hash common.Hash, amount *big.Int) error
	ListingFeeHeld(hash common.Hash) (*big.Int, bool, error)
	SetListingFeeHeld(hash common.Hash, amount *big.Int) error
}

var _ engineState = (*state.Manager)(nil)
