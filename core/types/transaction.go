package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the exchange operation a transaction invokes.
type TxType byte

const (
	TxTypeListOffer      TxType = 0x01
	TxTypeMakeOffer      TxType = 0x02
	TxTypeAcceptOffer    TxType = 0x03
	TxTypeCancelOffer    TxType = 0x04
	TxTypeCancelOffers   TxType = 0x05
	TxTypeIncrementNonce TxType = 0x06
	TxTypeReclaimEscrow  TxType = 0x07
	TxTypeApproveAll     TxType = 0x08 // operator approval for a collection
	TxTypeApproveToken   TxType = 0x09 // fungible token allowance
)

var txTypeNames = map[TxType]string{
	TxTypeListOffer:      "list",
	TxTypeMakeOffer:      "make",
	TxTypeAcceptOffer:    "accept",
	TxTypeCancelOffer:    "cancel",
	TxTypeCancelOffers:   "cancel_batch",
	TxTypeIncrementNonce: "increment_nonce",
	TxTypeReclaimEscrow:  "reclaim_escrow",
	TxTypeApproveAll:     "approve_all",
	TxTypeApproveToken:   "approve_token",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTxType resolves the API name of a transaction type.
func ParseTxType(name string) (TxType, bool) {
	for t, n := range txTypeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

var errMissingSignature = errors.New("transaction: missing signature")

// Transaction is the signed envelope submitted by traders. Data carries the
// JSON payload of the operation; Value is the native amount attached to it.
type Transaction struct {
	ChainID uint64   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Value   *big.Int `json:"value"`
	Data    []byte   `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *common.Address
}

// Hash returns the keccak256 digest of the RLP encoded unsigned fields.
func (tx *Transaction) Hash() (common.Hash, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	encoded, err := rlp.EncodeToBytes([]interface{}{tx.ChainID, uint8(tx.Type), tx.Nonce, value, tx.Data})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Sign attaches a secp256k1 signature produced by privKey.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() (common.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return common.Address{}, errMissingSignature
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Address{}, err
	}
	rBytes, sBytes := tx.R.Bytes(), tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 || tx.V.Uint64() < 27 {
		return common.Address{}, errors.New("transaction: malformed signature")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	addr := crypto.PubkeyToAddress(*pubKey)
	tx.from = &addr
	return addr, nil
}
