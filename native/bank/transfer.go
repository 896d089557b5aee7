package bank

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiveNative moves value attached to a call from the sender into the
// vault.
func (l *Ledger) ReceiveNative(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	return l.credit(l.vault, amount)
}

// TransferNative pays native coin out of the vault.
func (l *Ledger) TransferNative(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := l.debit(l.vault, amount); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return l.credit(to, amount)
}

// TransferCurrencyUnits moves fungible tokens on behalf of from, spending the
// allowance granted to the vault.
func (l *Ledger) TransferCurrencyUnits(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := l.state.TokenAllowance(token, from, l.vault)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	balance, err := l.state.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.SetTokenAllowance(token, from, l.vault, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(token, from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	received, err := l.state.TokenBalance(token, to)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(token, to, new(big.Int).Add(received, amount))
}

// TransferSingleUnitAsset moves a single-unit token owned by from.
func (l *Ledger) TransferSingleUnitAsset(collection, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroRecipient
	}
	if err := l.requireOperator(collection, from); err != nil {
		return err
	}
	owner, err := l.state.NFTOwner(collection, id)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotOwner
	}
	return l.state.SetNFTOwner(collection, id, to)
}

// TransferFungibleUnits moves amount units of a multi-unit token.
func (l *Ledger) TransferFungibleUnits(collection, from, to common.Address, id, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := l.requireOperator(collection, from); err != nil {
		return err
	}
	balance, err := l.state.MultiTokenBalance(collection, id, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.state.SetMultiTokenBalance(collection, id, from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	received, err := l.state.MultiTokenBalance(collection, id, to)
	if err != nil {
		return err
	}
	return l.state.SetMultiTokenBalance(collection, id, to, new(big.Int).Add(received, amount))
}

func (l *Ledger) requireOperator(collection, owner common.Address) error {
	approved, err := l.state.OperatorApproved(collection, owner, l.vault)
	if err != nil {
		return err
	}
	if !approved {
		return ErrNotApproved
	}
	return nil
}

func (l *Ledger) debit(addr common.Address, amount *big.Int) error {
	balance, err := l.state.NativeBalance(addr)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetNativeBalance(addr, new(big.Int).Sub(balance, amount))
}

func (l *Ledger) credit(addr common.Address, amount *big.Int) error {
	balance, err := l.state.NativeBalance(addr)
	if err != nil {
		return err
	}
	return l.state.SetNativeBalance(addr, new(big.Int).Add(balance, amount))
}
