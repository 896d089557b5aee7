package state

import (
	"github.com/ethereum/go-ethereum/common"
)

var (
	blacklistPrefix    = []byte("policy/blacklist")
	allowedTokenPrefix = []byte("policy/token")
	partnerPrefix      = []byte("policy/partner")
	partnerListKey     = key([]byte("policy/partner-list"))
)

// IsBlacklisted reports whether the collection is barred from trading.
func (m *Manager) IsBlacklisted(collection common.Address) (bool, error) {
	return m.getFlag(key(blacklistPrefix, collection.Bytes()))
}

// SetBlacklisted updates the collection's blacklist flag.
func (m *Manager) SetBlacklisted(collection common.Address, blacklisted bool) error {
	return m.putFlag(key(blacklistPrefix, collection.Bytes()), blacklisted)
}

// IsAllowedToken reports whether the fungible token may be used for payment.
func (m *Manager) IsAllowedToken(token common.Address) (bool, error) {
	return m.getFlag(key(allowedTokenPrefix, token.Bytes()))
}

// SetAllowedToken updates the payment allow-list.
func (m *Manager) SetAllowedToken(token common.Address, allowed bool) error {
	return m.putFlag(key(allowedTokenPrefix, token.Bytes()), allowed)
}

// PartnerRecipient resolves the fee recipient of a partner collection.
func (m *Manager) PartnerRecipient(collection common.Address) (common.Address, bool, error) {
	return m.getAddress(key(partnerPrefix, collection.Bytes()))
}

// Partners returns the registered partner collections in registration order.
func (m *Manager) Partners() ([]common.Address, error) {
	var list []common.Address
	if _, err := m.getRLP(partnerListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetPartner registers or updates the fee recipient of a collection.
func (m *Manager) SetPartner(collection, recipient common.Address) error {
	_, exists, err := m.PartnerRecipient(collection)
	if err != nil {
		return err
	}
	if err := m.putRLP(key(partnerPrefix, collection.Bytes()), recipient); err != nil {
		return err
	}
	if exists {
		return nil
	}
	list, err := m.Partners()
	if err != nil {
		return err
	}
	return m.putRLP(partnerListKey, append(list, collection))
}

// RemovePartner unregisters a partner collection. Removing an unknown
// collection is a no-op.
func (m *Manager) RemovePartner(collection common.Address) error {
	_, exists, err := m.PartnerRecipient(collection)
	if err != nil || !exists {
		return err
	}
	m.cache.Delete(key(partnerPrefix, collection.Bytes()))
	list, err := m.Partners()
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, c := range list {
		if c != collection {
			filtered = append(filtered, c)
		}
	}
	return m.putRLP(partnerListKey, filtered)
}
