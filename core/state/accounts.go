package state

import (
	"github.com/ethereum/go-ethereum/common"

	"nftswap/core/types"
)

var accountPrefix = []byte("account")

// Account loads the transaction account for addr, returning a zero account
// when none is stored.
func (m *Manager) Account(addr common.Address) (*types.Account, error) {
	account := new(types.Account)
	if _, err := m.getRLP(key(accountPrefix, addr.Bytes()), account); err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount stores the transaction account for addr.
func (m *Manager) PutAccount(addr common.Address, account *types.Account) error {
	if account == nil {
		account = &types.Account{}
	}
	return m.putRLP(key(accountPrefix, addr.Bytes()), account)
}
