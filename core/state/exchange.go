package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/types"
)

var (
	settledPrefix      = []byte("exchange/settled")
	offerNoncePrefix   = []byte("exchange/nonce")
	offerPrefix        = []byte("exchange/offer")
	traderOffersPrefix = []byte("exchange/trader-offers")
	escrowPrefix       = []byte("exchange/escrow")
	listingFeePrefix   = []byte("exchange/listing-fee")
	hashIDPrefix       = []byte("exchange/hash-id")
	swapIDKey          = key([]byte("exchange/swap-id"))
	tradingOpenKey     = key([]byte("exchange/open"))
	genesisKey         = key([]byte("exchange/genesis"))
)

// OfferRecord is a registered offer together with the identity hash it had
// when it was assigned its sequential id.
type OfferRecord struct {
	ID    uint64
	Offer *types.Offer
	Hash  common.Hash
}

type storedOffer struct {
	Trader         common.Address
	Side           uint8
	Collections    []common.Address
	TokenIDs       []*big.Int
	AssetTypes     []byte
	PaymentToken   common.Address
	Price          *big.Int
	ListingTime    uint64
	ExpirationTime uint64
	MatchingID     uint64
	Hash           common.Hash
}

func newStoredOffer(o *types.Offer, hash common.Hash) *storedOffer {
	clone := o.Clone()
	assetTypes := make([]byte, len(clone.AssetTypes))
	for i, t := range clone.AssetTypes {
		assetTypes[i] = byte(t)
	}
	return &storedOffer{
		Trader:         clone.Trader,
		Side:           uint8(clone.Side),
		Collections:    clone.Collections,
		TokenIDs:       clone.TokenIDs,
		AssetTypes:     assetTypes,
		PaymentToken:   clone.PaymentToken,
		Price:          clone.Price,
		ListingTime:    clone.ListingTime,
		ExpirationTime: clone.ExpirationTime,
		MatchingID:     clone.MatchingID,
		Hash:           hash,
	}
}

func (s *storedOffer) offer() *types.Offer {
	assetTypes := make([]types.AssetType, len(s.AssetTypes))
	for i, t := range s.AssetTypes {
		assetTypes[i] = types.AssetType(t)
	}
	tokenIDs := s.TokenIDs
	if tokenIDs == nil {
		tokenIDs = []*big.Int{}
	}
	collections := s.Collections
	if collections == nil {
		collections = []common.Address{}
	}
	price := s.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return &types.Offer{
		Trader:         s.Trader,
		Side:           types.Side(s.Side),
		Collections:    collections,
		TokenIDs:       tokenIDs,
		AssetTypes:     assetTypes,
		PaymentToken:   s.PaymentToken,
		Price:          price,
		ListingTime:    s.ListingTime,
		ExpirationTime: s.ExpirationTime,
		MatchingID:     s.MatchingID,
	}
}

// OfferSettled reports whether the identity hash has been cancelled or filled.
func (m *Manager) OfferSettled(hash common.Hash) (bool, error) {
	return m.getFlag(key(settledPrefix, hash.Bytes()))
}

// SetOfferSettled marks the identity hash as cancelled or filled. The flag is
// monotonic; there is no way to clear it.
func (m *Manager) SetOfferSettled(hash common.Hash) error {
	return m.putFlag(key(settledPrefix, hash.Bytes()), true)
}

// OfferNonce returns the trader's current offer nonce.
func (m *Manager) OfferNonce(trader common.Address) (uint64, error) {
	return m.getUint64(key(offerNoncePrefix, trader.Bytes()))
}

// SetOfferNonce stores the trader's offer nonce.
func (m *Manager) SetOfferNonce(trader common.Address, nonce uint64) error {
	return m.putRLP(key(offerNoncePrefix, trader.Bytes()), nonce)
}

// SwapID returns the last assigned sequential offer id.
func (m *Manager) SwapID() (uint64, error) {
	return m.getUint64(swapIDKey)
}

// OfferAppend registers the offer under the next sequential id, indexes it by
// trader and returns the assigned id.
func (m *Manager) OfferAppend(offer *types.Offer, hash common.Hash) (uint64, error) {
	if offer == nil {
		return 0, fmt.Errorf("state: nil offer")
	}
	last, err := m.SwapID()
	if err != nil {
		return 0, err
	}
	id := last + 1
	if err := m.putRLP(key(offerPrefix, uint64Bytes(id)), newStoredOffer(offer, hash)); err != nil {
		return 0, err
	}
	ids, err := m.OfferIDsByTrader(offer.Trader)
	if err != nil {
		return 0, err
	}
	ids = append(ids, id)
	if err := m.putRLP(key(traderOffersPrefix, offer.Trader.Bytes()), ids); err != nil {
		return 0, err
	}
	if err := m.putRLP(key(hashIDPrefix, hash.Bytes()), id); err != nil {
		return 0, err
	}
	if err := m.putRLP(swapIDKey, id); err != nil {
		return 0, err
	}
	return id, nil
}

// OfferIDByHash returns the latest id registered under the identity hash.
func (m *Manager) OfferIDByHash(hash common.Hash) (uint64, bool, error) {
	var id uint64
	ok, err := m.getRLP(key(hashIDPrefix, hash.Bytes()), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	return id, true, nil
}

// OfferGet resolves a registered offer by id.
func (m *Manager) OfferGet(id uint64) (*OfferRecord, bool, error) {
	if id == 0 {
		return nil, false, nil
	}
	stored := new(storedOffer)
	ok, err := m.getRLP(key(offerPrefix, uint64Bytes(id)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &OfferRecord{ID: id, Offer: stored.offer(), Hash: stored.Hash}, true, nil
}

// OfferIDsByTrader returns the ids registered by the trader in assignment order.
func (m *Manager) OfferIDsByTrader(trader common.Address) ([]uint64, error) {
	var ids []uint64
	if _, err := m.getRLP(key(traderOffersPrefix, trader.Bytes()), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// TradingOpen reports the global trading gate.
func (m *Manager) TradingOpen() (bool, error) {
	return m.getFlag(tradingOpenKey)
}

// SetTradingOpen toggles the global trading gate.
func (m *Manager) SetTradingOpen(open bool) error {
	return m.putFlag(tradingOpenKey, open)
}

// Initialized reports whether genesis setup has been committed.
func (m *Manager) Initialized() (bool, error) {
	return m.getFlag(genesisKey)
}

// MarkInitialized records that genesis setup ran.
func (m *Manager) MarkInitialized() error {
	return m.putFlag(genesisKey, true)
}

// NativeEscrow returns the native amount escrowed for a buy offer hash.
func (m *Manager) NativeEscrow(hash common.Hash) (*big.Int, error) {
	return m.getBig(key(escrowPrefix, hash.Bytes()))
}

// SetNativeEscrow stores the escrowed amount; zero removes the entry.
func (m *Manager) SetNativeEscrow(hash common.Hash, amount *big.Int) error {
	return m.putBig(key(escrowPrefix, hash.Bytes()), amount)
}

// ListingFeeHeld returns the listing fee collected when the sell offer hash
// was registered. ok is false for listings registered before fees were
// recorded per listing.
func (m *Manager) ListingFeeHeld(hash common.Hash) (*big.Int, bool, error) {
	v := new(big.Int)
	ok, err := m.getRLP(key(listingFeePrefix, hash.Bytes()), v)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return big.NewInt(0), false, nil
	}
	return v, true, nil
}

// SetListingFeeHeld records the fee collected for a listing. Zero is stored
// as such; nil removes the entry.
func (m *Manager) SetListingFeeHeld(hash common.Hash, amount *big.Int) error {
	k := key(listingFeePrefix, hash.Bytes())
	if amount == nil {
		m.cache.Delete(k)
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount not allowed")
	}
	return m.putRLP(k, amount)
}
