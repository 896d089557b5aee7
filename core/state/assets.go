package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	nativeBalancePrefix = []byte("bank/native")
	tokenBalancePrefix  = []byte("bank/token")
	allowancePrefix     = []byte("bank/allowance")
	nftOwnerPrefix      = []byte("bank/nft-owner")
	multiBalancePrefix  = []byte("bank/multi")
	operatorPrefix      = []byte("bank/operator")
)

// NativeBalance returns the native coin balance of addr.
func (m *Manager) NativeBalance(addr common.Address) (*big.Int, error) {
	return m.getBig(key(nativeBalancePrefix, addr.Bytes()))
}

// SetNativeBalance stores the native coin balance of addr.
func (m *Manager) SetNativeBalance(addr common.Address, amount *big.Int) error {
	return m.putBig(key(nativeBalancePrefix, addr.Bytes()), amount)
}

// TokenBalance returns the fungible token balance of owner.
func (m *Manager) TokenBalance(token, owner common.Address) (*big.Int, error) {
	return m.getBig(key(tokenBalancePrefix, token.Bytes(), owner.Bytes()))
}

// SetTokenBalance stores the fungible token balance of owner.
func (m *Manager) SetTokenBalance(token, owner common.Address, amount *big.Int) error {
	return m.putBig(key(tokenBalancePrefix, token.Bytes(), owner.Bytes()), amount)
}

// TokenAllowance returns the amount spender may move on behalf of owner.
func (m *Manager) TokenAllowance(token, owner, spender common.Address) (*big.Int, error) {
	return m.getBig(key(allowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes()))
}

// SetTokenAllowance stores the spender allowance.
func (m *Manager) SetTokenAllowance(token, owner, spender common.Address, amount *big.Int) error {
	return m.putBig(key(allowancePrefix, token.Bytes(), owner.Bytes(), spender.Bytes()), amount)
}

// NFTOwner returns the owner of a single-unit token; the zero address means
// the token does not exist.
func (m *Manager) NFTOwner(collection common.Address, id *big.Int) (common.Address, error) {
	owner, _, err := m.getAddress(key(nftOwnerPrefix, collection.Bytes(), bigBytes(id)))
	return owner, err
}

// SetNFTOwner stores the owner of a single-unit token.
func (m *Manager) SetNFTOwner(collection common.Address, id *big.Int, owner common.Address) error {
	k := key(nftOwnerPrefix, collection.Bytes(), bigBytes(id))
	if owner == (common.Address{}) {
		m.cache.Delete(k)
		return nil
	}
	return m.putRLP(k, owner)
}

// MultiTokenBalance returns the fungible-unit balance of owner for id.
func (m *Manager) MultiTokenBalance(collection common.Address, id *big.Int, owner common.Address) (*big.Int, error) {
	return m.getBig(key(multiBalancePrefix, collection.Bytes(), bigBytes(id), owner.Bytes()))
}

// SetMultiTokenBalance stores the fungible-unit balance of owner for id.
func (m *Manager) SetMultiTokenBalance(collection common.Address, id *big.Int, owner common.Address, amount *big.Int) error {
	return m.putBig(key(multiBalancePrefix, collection.Bytes(), bigBytes(id), owner.Bytes()), amount)
}

// OperatorApproved reports whether operator may move every token owner holds
// in collection.
func (m *Manager) OperatorApproved(collection, owner, operator common.Address) (bool, error) {
	return m.getFlag(key(operatorPrefix, collection.Bytes(), owner.Bytes(), operator.Bytes()))
}

// SetOperatorApproval grants or revokes an operator approval.
func (m *Manager) SetOperatorApproval(collection, owner, operator common.Address, approved bool) error {
	return m.putFlag(key(operatorPrefix, collection.Bytes(), owner.Bytes(), operator.Bytes()), approved)
}

func bigBytes(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}
