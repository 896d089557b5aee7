package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/types"
)

// ValidateParameters reports whether the offer, identified by hash, is
// acceptable in the given role right now. It is read-only. Callers that need
// the failure reason use the engine operations, which report it through
// InvalidParametersError.
func (e *Engine) ValidateParameters(offer *types.Offer, hash common.Hash, role types.Role) bool {
	reason, err := e.checkParameters(offer, hash, role)
	return err == nil && reason == ""
}

// checkParameters evaluates the validation pipeline, short-circuiting on the
// first failing check. It returns an empty reason when the offer is valid and
// an error only when state or policy could not be read.
func (e *Engine) checkParameters(offer *types.Offer, hash common.Hash, role types.Role) (string, error) {
	if offer == nil {
		return "offer missing", nil
	}
	switch role {
	case types.RoleListing:
		if offer.MatchingID != 0 {
			return "listing must not reference another offer", nil
		}
	case types.RoleMatching:
		if offer.MatchingID == 0 {
			return "matching offer must reference a listing", nil
		}
	default:
		return "unknown role", nil
	}

	if reason := bundleShape(offer); reason != "" {
		return reason, nil
	}

	settled, err := e.state.OfferSettled(hash)
	if err != nil {
		return "", err
	}
	if settled {
		return "offer already cancelled or filled", nil
	}

	now := e.nowUnix()
	if offer.ListingTime >= now {
		return "offer not yet listed", nil
	}
	if offer.ExpirationTime != 0 && now >= offer.ExpirationTime {
		return "offer expired", nil
	}

	if e.policy == nil {
		return "", errNilPolicy
	}
	for _, collection := range offer.Collections {
		blacklisted, err := e.policy.IsBlacklisted(collection)
		if err != nil {
			return "", err
		}
		if blacklisted {
			return "collection " + collection.Hex() + " is blacklisted", nil
		}
	}

	switch offer.PaymentToken {
	case types.NativeCurrency, e.params.WrappedNative:
		return "", nil
	}
	allowed, err := e.policy.IsAllowedToken(offer.PaymentToken)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "payment token " + offer.PaymentToken.Hex() + " not allowed", nil
	}
	return "", nil
}

func bundleShape(offer *types.Offer) string {
	if !offer.BundleShapeValid() {
		return "bundle shape invalid"
	}
	for i, kind := range offer.AssetTypes {
		if !kind.Valid() {
			return "unknown asset type"
		}
		if offer.TokenIDs[i] == nil {
			return "token id out of range"
		}
	}
	return wordsOutOfRange(offer)
}
