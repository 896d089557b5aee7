package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration of the exchange daemon.
type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	ChainID       uint64    `toml:"ChainID"`
	Environment   string    `toml:"Environment"`
	Exchange      Exchange  `toml:"Exchange"`
	Policy        Policy    `toml:"Policy"`
	Indexer       Indexer   `toml:"Indexer"`
	Admin         Admin     `toml:"Admin"`
	RateLimit     RateLimit `toml:"RateLimit"`
	Stream        Stream    `toml:"Stream"`
	Telemetry     Telemetry `toml:"Telemetry"`
	Log           Log       `toml:"Log"`
}

// Load loads the configuration from the given path. A missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: ":8645",
		DataDir:       "./nftswap-data",
		ChainID:       1337,
		Environment:   "dev",
		Exchange: Exchange{
			ListingFee:    "0",
			BuyingFee:     "0",
			PartnerShare:  "0",
			FeeSink:       "0x000000000000000000000000000000000000fee1",
			Vault:         "0x00000000000000000000000000000000000000a1",
			StartOpen:     true,
			PausedModules: []string{},
		},
		Indexer: Indexer{Driver: "sqlite", DSN: "activity.db"},
		Admin: Admin{
			Issuer:    "nftswap",
			Audience:  "nftswap-admin",
			SecretEnv: "NFTSWAP_ADMIN_SECRET",
		},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
		Stream:    Stream{Enabled: true, Buffer: 64},
		Log:       Log{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if c.Stream.Buffer <= 0 {
		c.Stream.Buffer = def.Stream.Buffer
	}
	if c.Exchange.PausedModules == nil {
		c.Exchange.PausedModules = []string{}
	}
	if strings.TrimSpace(c.Indexer.Driver) == "" {
		c.Indexer.Driver = def.Indexer.Driver
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// StatePath returns the leveldb directory inside DataDir.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state") }

// IndexerDSN resolves a relative sqlite DSN against DataDir.
func (c *Config) IndexerDSN() string {
	dsn := strings.TrimSpace(c.Indexer.DSN)
	if c.Indexer.Driver != "sqlite" || dsn == "" || filepath.IsAbs(dsn) ||
		strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return dsn
	}
	return filepath.Join(c.DataDir, dsn)
}
