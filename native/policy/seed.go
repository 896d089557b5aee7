package policy

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Address wraps common.Address to reject malformed hex in YAML.
type Address struct {
	common.Address
}

// UnmarshalYAML parses a 0x-prefixed hex address.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("address must be string")
	}
	if !common.IsHexAddress(value.Value) {
		return fmt.Errorf("invalid address %q", value.Value)
	}
	a.Address = common.HexToAddress(value.Value)
	return nil
}

// Seed is the initial policy loaded at startup.
type Seed struct {
	Blacklist     []Address     `yaml:"blacklist"`
	AllowedTokens []Address     `yaml:"allowed_tokens"`
	Partners      []PartnerSeed `yaml:"partners"`
}

// PartnerSeed is one partner entry in a seed file.
type PartnerSeed struct {
	Collection Address `yaml:"collection"`
	Recipient  Address `yaml:"recipient"`
}

// LoadSeed reads a YAML policy seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("decode policy seed: %w", err)
	}
	return &seed, nil
}

// Apply writes the seed into the registry. Partner capacity is enforced as for
// any other registration.
func (r *Registry) Apply(seed *Seed) error {
	if seed == nil {
		return nil
	}
	for _, c := range seed.Blacklist {
		if err := r.SetBlacklisted(c.Address, true); err != nil {
			return fmt.Errorf("blacklist %s: %w", c.Hex(), err)
		}
	}
	for _, t := range seed.AllowedTokens {
		if err := r.SetAllowedToken(t.Address, true); err != nil {
			return fmt.Errorf("allow token %s: %w", t.Hex(), err)
		}
	}
	for _, p := range seed.Partners {
		if err := r.RegisterPartner(p.Collection.Address, p.Recipient.Address); err != nil {
			return fmt.Errorf("partner %s: %w", p.Collection.Hex(), err)
		}
	}
	return nil
}
