package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftswap/core/types"
)

// OfferTypeHash domain-separates offer identities from other keccak digests.
var OfferTypeHash = ethcrypto.Keccak256Hash([]byte(
	"Offer(address trader,uint8 side,bytes32 collections,bytes32 tokenIds,bytes32 assetTypes," +
		"address paymentToken,uint256 price,uint256 listingTime,uint256 expirationTime," +
		"uint256 matchingId,uint256 nonce)",
))

var offerArguments = func() abi.Arguments {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	uint8Type, _ := abi.NewType("uint8", "", nil)
	return abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // trader
		{Type: uint8Type},   // side
		{Type: bytes32Type}, // collections digest
		{Type: bytes32Type}, // tokenIds digest
		{Type: bytes32Type}, // assetTypes digest
		{Type: addressType}, // paymentToken
		{Type: uint256Type}, // price
		{Type: uint256Type}, // listingTime
		{Type: uint256Type}, // expirationTime
		{Type: uint256Type}, // matchingId
		{Type: uint256Type}, // nonce
	}
}()

// ErrWordOutOfRange reports a price or token id outside [0, 2^256).
var ErrWordOutOfRange = errors.New("exchange: value outside uint256 range")

// IdentityHash computes the content address of an offer at the supplied
// trader nonce. The bundle sequences are digested element by element in order
// before inclusion, so reordering a bundle changes the identity. A nil offer
// hashes as the empty offer. Values that do not fit a uint256 word are
// rejected, never reduced, so distinct offers cannot share an identity.
func IdentityHash(offer *types.Offer, nonce uint64) (common.Hash, error) {
	if offer == nil {
		offer = &types.Offer{}
	}
	if reason := wordsOutOfRange(offer); reason != "" {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrWordOutOfRange, reason)
	}
	encoded, err := offerArguments.Pack(
		OfferTypeHash,
		offer.Trader,
		uint8(offer.Side),
		collectionsDigest(offer.Collections),
		tokenIDsDigest(offer.TokenIDs),
		assetTypesDigest(offer.AssetTypes),
		offer.PaymentToken,
		word(offer.Price),
		new(big.Int).SetUint64(offer.ListingTime),
		new(big.Int).SetUint64(offer.ExpirationTime),
		new(big.Int).SetUint64(offer.MatchingID),
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("exchange: encode offer identity: %w", err)
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// wordsOutOfRange names the first big-integer field that is not a uint256.
// Nil values encode as zero.
func wordsOutOfRange(offer *types.Offer) string {
	for _, id := range offer.TokenIDs {
		if !wordInRange(id) {
			return "token id out of range"
		}
	}
	if !wordInRange(offer.Price) {
		return "price out of range"
	}
	return ""
}

func wordInRange(v *big.Int) bool {
	return v == nil || (v.Sign() >= 0 && v.BitLen() <= 256)
}

func collectionsDigest(collections []common.Address) common.Hash {
	buf := make([]byte, 0, 32*len(collections))
	for _, c := range collections {
		buf = append(buf, common.LeftPadBytes(c.Bytes(), 32)...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func tokenIDsDigest(ids []*big.Int) common.Hash {
	buf := make([]byte, 0, 32*len(ids))
	for _, id := range ids {
		buf = append(buf, math.PaddedBigBytes(word(id), 32)...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func assetTypesDigest(kinds []types.AssetType) common.Hash {
	buf := make([]byte, 0, 32*len(kinds))
	for _, k := range kinds {
		w := make([]byte, 32)
		w[31] = byte(k)
		buf = append(buf, w...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

// word returns a private copy of v suitable for 256-bit encoding; nil is zero.
func word(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
