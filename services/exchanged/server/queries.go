package server

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"nftswap/core/types"
	"nftswap/native/policy"
	"nftswap/services/exchanged/indexer"
)

type statusView struct {
	ChainID              uint64         `json:"chainId"`
	TradingOpen          bool           `json:"tradingOpen"`
	SwapID               uint64         `json:"swapId"`
	ListingFee           string         `json:"listingFee"`
	BuyingFee            string         `json:"buyingFee"`
	PartnerShare         string         `json:"partnerShare"`
	FeeSink              common.Address `json:"feeSink"`
	Vault                common.Address `json:"vault"`
	WrappedNative        common.Address `json:"wrappedNative"`
	RequireOpenForAccept bool           `json:"requireOpenForAccept"`
	PartnerCapacity      *uint64        `json:"partnerCapacity,omitempty"`
}

// Status reports the trading gate, the id counter and the fee schedule.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	params := s.engine.Params()
	view := statusView{
		ChainID:              s.chainID,
		ListingFee:           params.ListingFee.String(),
		BuyingFee:            params.BuyingFee.String(),
		PartnerShare:         params.PartnerShare.String(),
		FeeSink:              params.FeeSink,
		Vault:                params.Vault,
		WrappedNative:        params.WrappedNative,
		RequireOpenForAccept: params.RequireOpenForAccept,
	}
	if capacity, bounded := s.policy.Capacity(); bounded {
		view.PartnerCapacity = &capacity
	}
	err := s.read(func() error {
		var err error
		if view.TradingOpen, err = s.engine.TradingOpen(); err != nil {
			return err
		}
		view.SwapID, err = s.engine.SwapID()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

type offerView struct {
	ID      uint64       `json:"id"`
	Hash    common.Hash  `json:"hash"`
	Offer   *types.Offer `json:"offer"`
	Settled bool         `json:"settled"`
	Escrow  string       `json:"escrow"`
}

// GetOffer returns a registered offer with its registration hash and status.
func (s *Server) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var view offerView
	err = s.read(func() error {
		record, err := s.engine.Offer(id)
		if err != nil {
			return err
		}
		view = offerView{ID: record.ID, Hash: record.Hash, Offer: record.Offer}
		if view.Settled, err = s.engine.IsSettled(record.Hash); err != nil {
			return err
		}
		escrow, err := s.engine.Escrow(record.Hash)
		if err != nil {
			return err
		}
		view.Escrow = escrow.String()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetOfferAssets returns the collections and token ids of a registered offer.
func (s *Server) GetOfferAssets(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var collections []common.Address
	var tokenIDs []*big.Int
	err = s.read(func() error {
		var err error
		collections, tokenIDs, err = s.engine.OfferAssets(id)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"collections": collections, "tokenIds": tokenIDs})
}

// HashOffer computes the identity hash of an offer at its trader's current
// offer nonce.
func (s *Server) HashOffer(w http.ResponseWriter, r *http.Request) {
	var req OfferPayload
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Offer == nil {
		s.writeError(w, badRequest("offer required"))
		return
	}
	var hash common.Hash
	var nonce uint64
	err := s.read(func() error {
		var err error
		if nonce, err = s.engine.Nonce(req.Offer.Trader); err != nil {
			return err
		}
		hash, err = s.engine.IdentityHash(req.Offer)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"hash": hash, "nonce": nonce})
}

// MatchOffers reports whether taker satisfies maker's terms and references a
// registered listing.
func (s *Server) MatchOffers(w http.ResponseWriter, r *http.Request) {
	var req PairPayload
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	var matches bool
	err := s.read(func() error {
		var err error
		matches, err = s.engine.Matches(req.Maker, req.Taker)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"matches": matches})
}

// GetHash reports the settled flag, escrow and registration of an identity
// hash.
func (s *Server) GetHash(w http.ResponseWriter, r *http.Request) {
	hashParam := chi.URLParam(r, "hash")
	raw := common.FromHex(hashParam)
	if len(raw) != common.HashLength {
		s.writeError(w, badRequest("invalid hash %q", hashParam))
		return
	}
	hash := common.BytesToHash(raw)
	view := map[string]interface{}{"hash": hash}
	err := s.read(func() error {
		settled, err := s.engine.IsSettled(hash)
		if err != nil {
			return err
		}
		escrow, err := s.engine.Escrow(hash)
		if err != nil {
			return err
		}
		view["settled"] = settled
		view["escrow"] = escrow.String()
		if id, ok, err := s.state.OfferIDByHash(hash); err != nil {
			return err
		} else if ok {
			view["offerId"] = id
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetTrader returns the offer nonce, transaction nonce and native balance.
func (s *Server) GetTrader(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := map[string]interface{}{"address": addr}
	err = s.read(func() error {
		offerNonce, err := s.engine.Nonce(addr)
		if err != nil {
			return err
		}
		account, err := s.state.Account(addr)
		if err != nil {
			return err
		}
		balance, err := s.ledger.NativeBalance(addr)
		if err != nil {
			return err
		}
		view["offerNonce"] = offerNonce
		view["txNonce"] = account.Nonce
		view["nativeBalance"] = balance.String()
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// GetTraderOffers lists the ids registered by a trader in registration order.
func (s *Server) GetTraderOffers(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var ids []uint64
	err = s.read(func() error {
		var err error
		ids, err = s.engine.OffersByTrader(addr)
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trader": addr, "offerIds": ids})
}

// GetBalance returns the native balance, or a token balance with ?token=.
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	tokenParam := strings.TrimSpace(r.URL.Query().Get("token"))
	var token common.Address
	if tokenParam != "" {
		if !common.IsHexAddress(tokenParam) {
			s.writeError(w, badRequest("invalid token %q", tokenParam))
			return
		}
		token = common.HexToAddress(tokenParam)
	}
	var balance *big.Int
	err = s.read(func() error {
		var err error
		if token == types.NativeCurrency {
			balance, err = s.ledger.NativeBalance(addr)
		} else {
			balance, err = s.ledger.TokenBalance(token, addr)
		}
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"address": addr, "token": token, "balance": balance.String()})
}

// GetToken returns the owner of a single-unit token and, with ?holder=, the
// holder's multi-unit balance.
func (s *Server) GetToken(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, ok := new(big.Int).SetString(chi.URLParam(r, "id"), 10)
	if !ok || id.Sign() < 0 {
		s.writeError(w, badRequest("invalid token id"))
		return
	}
	holderParam := strings.TrimSpace(r.URL.Query().Get("holder"))
	if holderParam != "" && !common.IsHexAddress(holderParam) {
		s.writeError(w, badRequest("invalid holder %q", holderParam))
		return
	}
	view := map[string]interface{}{"collection": collection, "tokenId": id.String()}
	err = s.read(func() error {
		owner, err := s.ledger.OwnerOf(collection, id)
		if err != nil {
			return err
		}
		if owner != (common.Address{}) {
			view["owner"] = owner
		}
		if holderParam != "" {
			balance, err := s.ledger.MultiBalance(collection, id, common.HexToAddress(holderParam))
			if err != nil {
				return err
			}
			view["balance"] = balance.String()
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// ListPartners returns the partner collections and fee recipients.
func (s *Server) ListPartners(w http.ResponseWriter, r *http.Request) {
	var partners []policy.Partner
	err := s.read(func() error {
		var err error
		partners, err = s.policy.Partners()
		return err
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if partners == nil {
		partners = []policy.Partner{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"partners": partners})
}

// ListActivity serves the indexed event history.
func (s *Server) ListActivity(w http.ResponseWriter, r *http.Request) {
	if s.indexer == nil {
		s.writeError(w, badRequest("activity index disabled"))
		return
	}
	q := r.URL.Query()
	filter := indexer.Filter{
		Trader:    normaliseHex(q.Get("trader"), common.AddressLength),
		OfferHash: normaliseHex(q.Get("hash"), common.HashLength),
		Type:      strings.TrimSpace(q.Get("type")),
	}
	var err error
	if filter.OfferID, err = optionalUint(q.Get("offerId")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.Before, err = optionalUint(q.Get("before")); err != nil {
		s.writeError(w, err)
		return
	}
	limit, err := optionalUint(q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter.Limit = int(limit)
	records, err := s.indexer.Activity(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"activity": records})
}

// normaliseHex canonicalises addresses to checksum form and hashes to
// lowercase hex so they compare equal to the indexed values.
func normaliseHex(raw string, size int) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if size == common.AddressLength && common.IsHexAddress(raw) {
		return common.HexToAddress(raw).Hex()
	}
	if size == common.HashLength {
		return common.HexToHash(raw).Hex()
	}
	return raw
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

func optionalUint(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid number %q", raw)
	}
	return v, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
