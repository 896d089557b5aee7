package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8645", cfg.ListenAddress)
	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Exchange, reloaded.Exchange)
	require.Equal(t, cfg.Indexer, reloaded.Indexer)
}

func TestLoadParsesExchangeSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/nftswap"
ChainID = 7

[Exchange]
ListingFee = "1000000000000000000000"
BuyingFee = "5"
PartnerShare = "250"
FeeSink = "0x00000000000000000000000000000000000000f0"
Vault = "0x00000000000000000000000000000000000000a0"
WrappedNative = "0x00000000000000000000000000000000000000e0"
RequireOpenForAccept = true
PausedModules = ["exchange"]

[Indexer]
Driver = "postgres"
DSN = "postgres://localhost/nftswap"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)

	params, err := cfg.Exchange.Params()
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("1000000000000000000000", 10)
	require.Zero(t, params.ListingFee.Cmp(want))
	require.Equal(t, int64(5), params.BuyingFee.Int64())
	require.Equal(t, common.HexToAddress("0xf0"), params.FeeSink)
	require.Equal(t, common.HexToAddress("0xe0"), params.WrappedNative)
	require.True(t, params.RequireOpenForAccept)
	require.Equal(t, []string{"exchange"}, cfg.Exchange.PausedModules)
	require.Equal(t, "postgres://localhost/nftswap", cfg.IndexerDSN())
	require.Equal(t, filepath.Join("/var/lib/nftswap", "state"), cfg.StatePath())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"negative fee":     func(c *Config) { c.Exchange.ListingFee = "-1" },
		"garbage fee":      func(c *Config) { c.Exchange.BuyingFee = "ten" },
		"bad sink":         func(c *Config) { c.Exchange.FeeSink = "0x123" },
		"missing vault":    func(c *Config) { c.Exchange.Vault = "" },
		"share above fee":  func(c *Config) { c.Exchange.ListingFee = "10"; c.Exchange.PartnerShare = "11" },
		"unknown driver":   func(c *Config) { c.Indexer.Driver = "mysql" },
		"zero chain id":    func(c *Config) { c.ChainID = 0 },
		"negative limiter": func(c *Config) { c.RateLimit.RequestsPerMinute = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
	require.NoError(t, Default().Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ChainID = 1\nListenAddr = \"abc\"\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "ListenAddr")
}

func TestRelativeSQLiteDSNResolvesAgainstDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.Indexer.DSN = "activity.db"
	require.Equal(t, filepath.Join("/data", "activity.db"), cfg.IndexerDSN())
	cfg.Indexer.DSN = "file:mem?mode=memory"
	require.Equal(t, "file:mem?mode=memory", cfg.IndexerDSN())
}

func TestAdminSecretFromEnv(t *testing.T) {
	t.Setenv("NFTSWAP_TEST_SECRET", " s3cret ")
	admin := Admin{SecretEnv: "NFTSWAP_TEST_SECRET"}
	require.Equal(t, "s3cret", admin.AdminSecret())
	admin.Secret = "inline"
	require.Equal(t, "inline", admin.AdminSecret())
}
