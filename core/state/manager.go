package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftswap/storage"
)

// Manager provides typed access to the exchange state held in a journaled
// storage cache. All writes are staged until Commit; Snapshot and
// RevertToSnapshot give callers transactional rollback.
//
// Manager is not safe for concurrent use. The host serialises state
// transitions.
type Manager struct {
	cache *storage.Cache
}

// NewManager creates a state manager operating on the provided cache.
func NewManager(cache *storage.Cache) *Manager {
	return &Manager{cache: cache}
}

// NewMemoryManager returns a manager backed by an in-memory database.
func NewMemoryManager() *Manager {
	return NewManager(storage.NewCache(storage.NewMemDB()))
}

// Snapshot returns a revision identifier for the staged state.
func (m *Manager) Snapshot() int { return m.cache.Snapshot() }

// RevertToSnapshot discards every write staged after the revision.
func (m *Manager) RevertToSnapshot(id int) { m.cache.RevertToSnapshot(id) }

// Commit persists staged writes atomically.
func (m *Manager) Commit() error { return m.cache.Commit() }

// Discard drops staged writes.
func (m *Manager) Discard() { m.cache.Discard() }

// key hashes the prefix followed by every part, matching the historical
// keccak-keyed layout of the state store.
func key(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, ':')
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func uint64Bytes(v uint64) []byte {
	return new(big.Int).SetUint64(v).Bytes()
}

func (m *Manager) getRLP(k []byte, out interface{}) (bool, error) {
	data, ok, err := m.cache.Get(k)
	if err != nil || !ok || len(data) == 0 {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", k, err)
	}
	return true, nil
}

func (m *Manager) putRLP(k []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.cache.Put(k, encoded)
	return nil
}

func (m *Manager) getUint64(k []byte) (uint64, error) {
	var v uint64
	if _, err := m.getRLP(k, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (m *Manager) getBig(k []byte) (*big.Int, error) {
	v := new(big.Int)
	ok, err := m.getRLP(k, v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return v, nil
}

func (m *Manager) putBig(k []byte, v *big.Int) error {
	if v == nil || v.Sign() == 0 {
		m.cache.Delete(k)
		return nil
	}
	if v.Sign() < 0 {
		return fmt.Errorf("state: negative amount not allowed")
	}
	return m.putRLP(k, v)
}

func (m *Manager) getFlag(k []byte) (bool, error) {
	var v bool
	if _, err := m.getRLP(k, &v); err != nil {
		return false, err
	}
	return v, nil
}

func (m *Manager) putFlag(k []byte, v bool) error {
	if !v {
		m.cache.Delete(k)
		return nil
	}
	return m.putRLP(k, true)
}

func (m *Manager) getAddress(k []byte) (common.Address, bool, error) {
	var addr common.Address
	ok, err := m.getRLP(k, &addr)
	return addr, ok, err
}
