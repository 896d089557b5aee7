package types

// Account tracks the replay-protection counter of a transaction sender.
type Account struct {
	Nonce uint64 `json:"nonce"`
}
