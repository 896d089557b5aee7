package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/types"
	"nftswap/native/exchange"
)

// Payloads carried in Transaction.Data, keyed by transaction type.
type (
	OfferPayload struct {
		Offer *types.Offer `json:"offer"`
	}
	PairPayload struct {
		Maker *types.Offer `json:"maker"`
		Taker *types.Offer `json:"taker"`
	}
	BatchPayload struct {
		Offers []*types.Offer `json:"offers"`
	}
	ReclaimPayload struct {
		ID uint64 `json:"id"`
	}
	ApproveAllPayload struct {
		Collection common.Address `json:"collection"`
		// Operator defaults to the exchange vault.
		Operator *common.Address `json:"operator,omitempty"`
		Approved bool            `json:"approved"`
	}
	ApproveTokenPayload struct {
		Token   common.Address  `json:"token"`
		Spender *common.Address `json:"spender,omitempty"`
		Amount  *big.Int        `json:"amount"`
	}
)

// TxResponse reports the outcome of a committed transaction.
type TxResponse struct {
	Hash   common.Hash    `json:"hash"`
	Type   string         `json:"type"`
	Sender common.Address `json:"sender"`
	Result interface{}    `json:"result,omitempty"`
}

// SubmitTx verifies a signed transaction, dispatches it to the engine and
// commits the resulting state. Failed operations leave no trace and do not
// consume the sender's transaction nonce.
func (s *Server) SubmitTx(w http.ResponseWriter, r *http.Request) {
	var tx types.Transaction
	if err := decodeJSON(w, r, &tx); err != nil {
		s.writeError(w, err)
		return
	}
	if tx.ChainID != s.chainID {
		s.writeError(w, badRequest("chain id %d does not match %d", tx.ChainID, s.chainID))
		return
	}
	sender, err := tx.From()
	if err != nil {
		s.writeError(w, badRequest("invalid signature: %v", err))
		return
	}
	hash, err := tx.Hash()
	if err != nil {
		s.writeError(w, badRequest("hash transaction: %v", err))
		return
	}

	start := time.Now()
	var result interface{}
	err = s.mutate(func() error {
		account, err := s.state.Account(sender)
		if err != nil {
			return err
		}
		if tx.Nonce != account.Nonce {
			return badNonce(account.Nonce, tx.Nonce)
		}
		result, err = s.dispatch(exchange.Call{Caller: sender, Value: tx.Value}, &tx)
		if err != nil {
			return err
		}
		account.Nonce++
		return s.state.PutAccount(sender, account)
	})
	_, code := errorStatus(err)
	s.metrics.RecordOperation(tx.Type.String(), code, time.Since(start))
	if err != nil {
		s.logger.Debug("transaction rejected",
			slog.String("hash", hash.Hex()),
			slog.String("type", tx.Type.String()),
			slog.String("sender", sender.Hex()),
			slog.String("error", err.Error()))
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, TxResponse{Hash: hash, Type: tx.Type.String(), Sender: sender, Result: result})
}

func badNonce(expected, got uint64) error {
	return fmt.Errorf("%w: expected %d, got %d", errNonceMismatch, expected, got)
}

func (s *Server) dispatch(call exchange.Call, tx *types.Transaction) (interface{}, error) {
	switch tx.Type {
	case types.TxTypeListOffer:
		var p OfferPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		id, hash, err := s.engine.ListOffer(call, p.Offer)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id, "offerHash": hash}, nil
	case types.TxTypeMakeOffer:
		var p PairPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		id, hash, err := s.engine.MakeOffer(call, p.Maker, p.Taker)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id, "offerHash": hash}, nil
	case types.TxTypeAcceptOffer:
		var p PairPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		settlement, err := s.engine.AcceptOffer(call, p.Maker, p.Taker)
		if err != nil {
			return nil, err
		}
		return settlementView(settlement), nil
	case types.TxTypeCancelOffer:
		var p OfferPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		hash, err := s.engine.CancelOffer(call, p.Offer)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"offerHash": hash}, nil
	case types.TxTypeCancelOffers:
		var p BatchPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		hashes, err := s.engine.CancelOffers(call, p.Offers)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"offerHashes": hashes}, nil
	case types.TxTypeIncrementNonce:
		nonce, err := s.engine.IncrementNonce(call)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"nonce": nonce}, nil
	case types.TxTypeReclaimEscrow:
		var p ReclaimPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		refunded, err := s.engine.ReclaimEscrow(call, p.ID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"refunded": refunded.String()}, nil
	case types.TxTypeApproveAll:
		var p ApproveAllPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		operator := s.ledger.Vault()
		if p.Operator != nil {
			operator = *p.Operator
		}
		if err := s.ledger.SetApprovalForAll(p.Collection, call.Caller, operator, p.Approved); err != nil {
			return nil, err
		}
		return map[string]interface{}{"operator": operator, "approved": p.Approved}, nil
	case types.TxTypeApproveToken:
		var p ApproveTokenPayload
		if err := unmarshalData(tx.Data, &p); err != nil {
			return nil, err
		}
		spender := s.ledger.Vault()
		if p.Spender != nil {
			spender = *p.Spender
		}
		if p.Amount == nil {
			return nil, badRequest("amount required")
		}
		if err := s.ledger.Approve(p.Token, call.Caller, spender, p.Amount); err != nil {
			return nil, err
		}
		return map[string]interface{}{"spender": spender, "amount": p.Amount.String()}, nil
	default:
		return nil, badRequest("unknown transaction type %d", tx.Type)
	}
}

func unmarshalData(data []byte, out interface{}) error {
	if len(data) == 0 {
		return badRequest("transaction data required")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return badRequest("decode transaction data: %v", err)
	}
	return nil
}

type payoutView struct {
	Recipient  common.Address  `json:"recipient"`
	Amount     string          `json:"amount"`
	Partner    bool            `json:"partner"`
	Collection *common.Address `json:"collection,omitempty"`
}

func settlementView(s *exchange.Settlement) map[string]interface{} {
	payouts := make([]payoutView, 0, len(s.Payouts))
	for _, p := range s.Payouts {
		view := payoutView{Recipient: p.Recipient, Amount: p.Amount.String(), Partner: p.Partner}
		if p.Partner {
			collection := p.Collection
			view.Collection = &collection
		}
		payouts = append(payouts, view)
	}
	return map[string]interface{}{
		"sellHash": s.SellHash,
		"buyHash":  s.BuyHash,
		"payouts":  payouts,
	}
}
