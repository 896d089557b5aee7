package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/types"
	swapcrypto "nftswap/crypto"
	"nftswap/services/exchanged/server"
)

var submitTypes = map[string]types.TxType{
	"list":            types.TxTypeListOffer,
	"make":            types.TxTypeMakeOffer,
	"accept":          types.TxTypeAcceptOffer,
	"cancel":          types.TxTypeCancelOffer,
	"cancel-batch":    types.TxTypeCancelOffers,
	"increment-nonce": types.TxTypeIncrementNonce,
	"reclaim":         types.TxTypeReclaimEscrow,
	"approve-all":     types.TxTypeApproveAll,
	"approve-token":   types.TxTypeApproveToken,
}

type submitFlags struct {
	keystore   string
	passEnv    string
	value      string
	nonce      int64
	chainID    uint64
	offer      string
	maker      string
	taker      string
	offers     string
	id         uint64
	collection string
	operator   string
	approved   bool
	token      string
	spender    string
	amount     string
	dryRun     bool
}

func (c *cli) submit(args []string) int {
	if len(args) == 0 {
		return printError(c.stderr, "submit requires a transaction type")
	}
	txType, ok := submitTypes[args[0]]
	if !ok {
		return printError(c.stderr, fmt.Sprintf("unknown transaction type %q", args[0]))
	}
	fs := c.flagSet("submit " + args[0])
	var f submitFlags
	fs.StringVar(&f.keystore, "keystore", "", "trader keystore path")
	fs.StringVar(&f.passEnv, "pass-env", defaultPassEnv, "environment variable holding the passphrase")
	fs.StringVar(&f.value, "value", "0", "native value attached to the transaction")
	fs.Int64Var(&f.nonce, "nonce", -1, "transaction nonce; fetched from the node when negative")
	fs.Uint64Var(&f.chainID, "chain-id", 0, "chain id; fetched from the node when zero")
	fs.StringVar(&f.offer, "offer", "", "offer JSON file (list, cancel)")
	fs.StringVar(&f.maker, "maker", "", "maker offer JSON file (make, accept)")
	fs.StringVar(&f.taker, "taker", "", "taker offer JSON file (make, accept)")
	fs.StringVar(&f.offers, "offers", "", "JSON array of offers (cancel-batch)")
	fs.Uint64Var(&f.id, "id", 0, "offer id (reclaim)")
	fs.StringVar(&f.collection, "collection", "", "collection address (approve-all)")
	fs.StringVar(&f.operator, "operator", "", "operator address; defaults to the vault (approve-all)")
	fs.BoolVar(&f.approved, "approved", true, "grant or revoke (approve-all)")
	fs.StringVar(&f.token, "token", "", "token address (approve-token)")
	fs.StringVar(&f.spender, "spender", "", "spender address; defaults to the vault (approve-token)")
	fs.StringVar(&f.amount, "amount", "", "allowance (approve-token)")
	fs.BoolVar(&f.dryRun, "dry-run", false, "print the signed transaction instead of sending it")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	data, err := buildPayload(txType, f)
	if err != nil {
		return c.fail(err)
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(f.value), 10)
	if !ok || value.Sign() < 0 {
		return printError(c.stderr, fmt.Sprintf("invalid --value %q", f.value))
	}
	key, err := c.loadKey(f.keystore, f.passEnv)
	if err != nil {
		return c.fail(err)
	}

	ctx, cancel := c.ctx()
	defer cancel()
	tx := &types.Transaction{Type: txType, Value: value, Data: data, ChainID: f.chainID}
	if err := c.fillEnvelope(ctx, tx, key, f.nonce); err != nil {
		return c.fail(err)
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return c.fail(err)
	}
	if f.dryRun {
		raw, err := json.Marshal(tx)
		if err != nil {
			return c.fail(err)
		}
		return c.print(raw)
	}
	raw, err := c.client.do(ctx, http.MethodPost, "/v1/tx", tx)
	if err != nil {
		return c.fail(err)
	}
	return c.print(raw)
}

// fillEnvelope resolves the chain id and transaction nonce from the node when
// they were not given on the command line.
func (c *cli) fillEnvelope(ctx context.Context, tx *types.Transaction, key *swapcrypto.PrivateKey, nonce int64) error {
	if tx.ChainID == 0 {
		var status struct {
			ChainID uint64 `json:"chainId"`
		}
		if err := c.client.getJSON(ctx, "/v1/status", &status); err != nil {
			return fmt.Errorf("fetch chain id: %w", err)
		}
		tx.ChainID = status.ChainID
	}
	if nonce >= 0 {
		tx.Nonce = uint64(nonce)
		return nil
	}
	var trader struct {
		TxNonce uint64 `json:"txNonce"`
	}
	if err := c.client.getJSON(ctx, "/v1/traders/"+key.Address().Hex(), &trader); err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	tx.Nonce = trader.TxNonce
	return nil
}

func buildPayload(txType types.TxType, f submitFlags) ([]byte, error) {
	var payload interface{}
	switch txType {
	case types.TxTypeListOffer, types.TxTypeCancelOffer:
		offer, err := readOffer(f.offer)
		if err != nil {
			return nil, err
		}
		payload = server.OfferPayload{Offer: offer}
	case types.TxTypeMakeOffer, types.TxTypeAcceptOffer:
		maker, err := readOffer(f.maker)
		if err != nil {
			return nil, fmt.Errorf("maker: %w", err)
		}
		taker, err := readOffer(f.taker)
		if err != nil {
			return nil, fmt.Errorf("taker: %w", err)
		}
		payload = server.PairPayload{Maker: maker, Taker: taker}
	case types.TxTypeCancelOffers:
		if f.offers == "" {
			return nil, errors.New("--offers is required")
		}
		var offers []*types.Offer
		if err := readJSONFile(f.offers, &offers); err != nil {
			return nil, err
		}
		payload = server.BatchPayload{Offers: offers}
	case types.TxTypeIncrementNonce:
		return nil, nil
	case types.TxTypeReclaimEscrow:
		if f.id == 0 {
			return nil, errors.New("--id is required")
		}
		payload = server.ReclaimPayload{ID: f.id}
	case types.TxTypeApproveAll:
		collection, err := parseAddress(f.collection)
		if err != nil {
			return nil, err
		}
		operator, err := optionalAddress(f.operator)
		if err != nil {
			return nil, err
		}
		payload = server.ApproveAllPayload{Collection: collection, Operator: operator, Approved: f.approved}
	case types.TxTypeApproveToken:
		token, err := parseAddress(f.token)
		if err != nil {
			return nil, err
		}
		spender, err := optionalAddress(f.spender)
		if err != nil {
			return nil, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(f.amount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("invalid --amount %q", f.amount)
		}
		payload = server.ApproveTokenPayload{Token: token, Spender: spender, Amount: amount}
	default:
		return nil, fmt.Errorf("unsupported transaction type %s", txType)
	}
	return json.Marshal(payload)
}

func optionalAddress(raw string) (*common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	addr, err := parseAddress(raw)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}
