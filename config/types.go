package config

// Exchange holds the fee schedule and routing addresses. Amounts are base-10
// integer strings so values above 2^64 survive TOML.
type Exchange struct {
	ListingFee           string
	BuyingFee            string
	PartnerShare         string
	FeeSink              string
	Vault                string
	WrappedNative        string
	RequireOpenForAccept bool
	StartOpen            bool
	PausedModules        []string
}

// Policy points at the YAML seed applied on first start.
type Policy struct {
	SeedFile string
}

// Indexer selects the activity database.
type Indexer struct {
	Driver string // sqlite or postgres
	DSN    string
}

// Admin configures bearer authentication of the admin endpoints. The HMAC
// secret is read from SecretEnv, or Secret when set directly.
type Admin struct {
	Secret    string
	SecretEnv string
	Issuer    string
	Audience  string
}

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// Stream configures the websocket event feed. Buffer is the per-subscriber
// queue length.
type Stream struct {
	Enabled bool
	Buffer  int
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string
	Insecure bool
	Traces   bool
	Metrics  bool
	Headers  string
}

// Log configures optional rotated file output next to stdout.
type Log struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}
