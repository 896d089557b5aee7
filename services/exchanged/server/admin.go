package server

import (
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/services/exchanged/middleware"
)

type tradingRequest struct {
	Open bool `json:"open"`
}

// AdminSetTrading opens or closes the trading gate.
func (s *Server) AdminSetTrading(w http.ResponseWriter, r *http.Request) {
	var req tradingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.mutate(func() error { return s.engine.SetTradingOpen(req.Open) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "trading toggled", slog.Bool("open", req.Open))
	s.writeJSON(w, http.StatusOK, map[string]bool{"tradingOpen": req.Open})
}

type blacklistRequest struct {
	Collection  common.Address `json:"collection"`
	Blacklisted bool           `json:"blacklisted"`
}

// AdminSetBlacklist adds or removes a collection from the blacklist.
func (s *Server) AdminSetBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.mutate(func() error { return s.policy.SetBlacklisted(req.Collection, req.Blacklisted) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "blacklist updated", slog.String("collection", req.Collection.Hex()), slog.Bool("blacklisted", req.Blacklisted))
	s.writeJSON(w, http.StatusOK, req)
}

type tokenRequest struct {
	Token   common.Address `json:"token"`
	Allowed bool           `json:"allowed"`
}

// AdminSetToken updates the payment token allow-list.
func (s *Server) AdminSetToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.mutate(func() error { return s.policy.SetAllowedToken(req.Token, req.Allowed) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "payment token updated", slog.String("token", req.Token.Hex()), slog.Bool("allowed", req.Allowed))
	s.writeJSON(w, http.StatusOK, req)
}

type partnerRequest struct {
	Collection common.Address `json:"collection"`
	Recipient  common.Address `json:"recipient"`
}

// AdminRegisterPartner registers or updates a partner collection. Registration
// fails once the listing fee cannot fund one more partner share.
func (s *Server) AdminRegisterPartner(w http.ResponseWriter, r *http.Request) {
	var req partnerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.mutate(func() error { return s.policy.RegisterPartner(req.Collection, req.Recipient) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "partner registered", slog.String("collection", req.Collection.Hex()), slog.String("recipient", req.Recipient.Hex()))
	s.writeJSON(w, http.StatusOK, req)
}

// AdminRemovePartner drops a partner collection.
func (s *Server) AdminRemovePartner(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.mutate(func() error { return s.policy.RemovePartner(collection) }); err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "partner removed", slog.String("collection", collection.Hex()))
	w.WriteHeader(http.StatusNoContent)
}

type mintRequest struct {
	Kind       string         `json:"kind"`
	To         common.Address `json:"to"`
	Token      common.Address `json:"token"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"tokenId"`
	Amount     *big.Int       `json:"amount"`
}

// AdminMint credits balances on the built-in ledger. It exists for devnets
// where the ledger stands in for external token contracts.
func (s *Server) AdminMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	err := s.mutate(func() error {
		switch kind {
		case "native":
			return s.ledger.MintNative(req.To, req.Amount)
		case "token":
			return s.ledger.MintToken(req.Token, req.To, req.Amount)
		case "erc721":
			if req.TokenID == nil {
				return badRequest("tokenId required")
			}
			return s.ledger.MintNFT(req.Collection, req.TokenID, req.To)
		case "erc1155":
			if req.TokenID == nil {
				return badRequest("tokenId required")
			}
			return s.ledger.MintMulti(req.Collection, req.TokenID, req.To, req.Amount)
		default:
			return badRequest("unknown mint kind %q", req.Kind)
		}
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.audit(r, "ledger mint", slog.String("kind", kind), slog.String("to", req.To.Hex()))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

func (s *Server) audit(r *http.Request, msg string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("subject", middleware.Subject(r.Context())))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	s.logger.Info(msg, args...)
}
