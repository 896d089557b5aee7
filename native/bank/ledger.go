package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	swapstate "nftswap/core/state"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrNotApproved           = errors.New("bank: operator not approved")
	ErrNotOwner              = errors.New("bank: sender does not own token")
	ErrTokenExists           = errors.New("bank: token already minted")
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInvalidToken          = errors.New("bank: invalid token id")
	ErrZeroRecipient         = errors.New("bank: zero recipient")
)

// Ledger is the reference asset ledger backing the exchange: native coin,
// fungible tokens, single-unit and multi-unit collections. It stores its
// balances in the shared state manager, so exchange rollbacks revert ledger
// movements together with offer state.
//
// Transfers initiated by the exchange vault require the owner to have approved
// the vault; revoking the approval makes them fail.
type Ledger struct {
	state *swapstate.Manager
	vault common.Address
}

// NewLedger binds a ledger to the state manager. vault is the operator whose
// transfers the exchange performs.
func NewLedger(manager *swapstate.Manager, vault common.Address) (*Ledger, error) {
	if manager == nil {
		return nil, fmt.Errorf("bank: state manager required")
	}
	if vault == (common.Address{}) {
		return nil, fmt.Errorf("bank: vault address required")
	}
	return &Ledger{state: manager, vault: vault}, nil
}

// Vault returns the operator address of the exchange.
func (l *Ledger) Vault() common.Address { return l.vault }

// SetApprovalForAll grants or revokes operator rights over every token owner
// holds in collection.
func (l *Ledger) SetApprovalForAll(collection, owner, operator common.Address, approved bool) error {
	return l.state.SetOperatorApproval(collection, owner, operator, approved)
}

// IsApprovedForAll reports the operator approval.
func (l *Ledger) IsApprovedForAll(collection, owner, operator common.Address) (bool, error) {
	return l.state.OperatorApproved(collection, owner, operator)
}

// Approve sets the fungible token allowance of spender. A zero amount revokes.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.state.SetTokenAllowance(token, owner, spender, amount)
}

// Allowance returns the remaining fungible token allowance.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.state.TokenAllowance(token, owner, spender)
}

// MintNative credits native coin to addr.
func (l *Ledger) MintNative(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.credit(to, amount)
}

// MintToken credits fungible tokens to owner.
func (l *Ledger) MintToken(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, new(big.Int).Add(balance, amount))
}

// MintNFT creates a single-unit token owned by to.
func (l *Ledger) MintNFT(collection common.Address, id *big.Int, to common.Address) error {
	if id == nil || id.Sign() < 0 {
		return ErrInvalidToken
	}
	if to == (common.Address{}) {
		return ErrZeroRecipient
	}
	owner, err := l.state.NFTOwner(collection, id)
	if err != nil {
		return err
	}
	if owner != (common.Address{}) {
		return ErrTokenExists
	}
	return l.state.SetNFTOwner(collection, id, to)
}

// MintMulti credits multi-unit tokens of id to owner.
func (l *Ledger) MintMulti(collection common.Address, id *big.Int, to common.Address, amount *big.Int) error {
	if id == nil || id.Sign() < 0 {
		return ErrInvalidToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.MultiTokenBalance(collection, id, to)
	if err != nil {
		return err
	}
	return l.state.SetMultiTokenBalance(collection, id, to, new(big.Int).Add(balance, amount))
}

// NativeBalance returns the native coin balance of addr.
func (l *Ledger) NativeBalance(addr common.Address) (*big.Int, error) {
	return l.state.NativeBalance(addr)
}

// TokenBalance returns the fungible token balance of owner.
func (l *Ledger) TokenBalance(token, owner common.Address) (*big.Int, error) {
	return l.state.TokenBalance(token, owner)
}

// OwnerOf returns the owner of a single-unit token.
func (l *Ledger) OwnerOf(collection common.Address, id *big.Int) (common.Address, error) {
	return l.state.NFTOwner(collection, id)
}

// MultiBalance returns the multi-unit balance of owner for id.
func (l *Ledger) MultiBalance(collection common.Address, id *big.Int, owner common.Address) (*big.Int, error) {
	return l.state.MultiTokenBalance(collection, id, owner)
}
