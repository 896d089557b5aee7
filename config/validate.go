package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftswap/native/exchange"
)

// Validate rejects malformed addresses, amounts and driver names.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be set")
	}
	if _, err := c.Exchange.Params(); err != nil {
		return err
	}
	switch c.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported indexer driver %q", c.Indexer.Driver)
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("config: RateLimit.RequestsPerMinute must not be negative")
	}
	return nil
}

// Params converts the exchange section into engine parameters.
func (e Exchange) Params() (exchange.Params, error) {
	var params exchange.Params
	var err error
	if params.ListingFee, err = parseUintAmount(e.ListingFee); err != nil {
		return params, fmt.Errorf("config: Exchange.ListingFee: %w", err)
	}
	if params.BuyingFee, err = parseUintAmount(e.BuyingFee); err != nil {
		return params, fmt.Errorf("config: Exchange.BuyingFee: %w", err)
	}
	if params.PartnerShare, err = parseUintAmount(e.PartnerShare); err != nil {
		return params, fmt.Errorf("config: Exchange.PartnerShare: %w", err)
	}
	if params.FeeSink, err = parseAddress(e.FeeSink, false); err != nil {
		return params, fmt.Errorf("config: Exchange.FeeSink: %w", err)
	}
	if params.Vault, err = parseAddress(e.Vault, false); err != nil {
		return params, fmt.Errorf("config: Exchange.Vault: %w", err)
	}
	if params.WrappedNative, err = parseAddress(e.WrappedNative, true); err != nil {
		return params, fmt.Errorf("config: Exchange.WrappedNative: %w", err)
	}
	params.RequireOpenForAccept = e.RequireOpenForAccept
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("config: %w", err)
	}
	return params, nil
}

// AdminSecret resolves the HMAC secret for admin tokens.
func (a Admin) AdminSecret() string {
	if s := strings.TrimSpace(a.Secret); s != "" {
		return s
	}
	if a.SecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(a.SecretEnv))
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return v, nil
}

func parseAddress(raw string, optional bool) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return common.Address{}, nil
		}
		return common.Address{}, fmt.Errorf("address required")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
