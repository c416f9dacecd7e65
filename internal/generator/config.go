package generator

// Config drives the synthetic wallet generator.
type Config struct {
	NumWallets   int
	NumTransfers int
	// InternalChance is the share of wallets belonging to internal sellers.
	InternalChance float64
	// BlockedChance is the share of wallets that start out blocked.
	BlockedChance float64
	// HighScoreChance is the share of transfers whose score exceeds the sender ceiling.
	HighScoreChance float64
	MaxRiskRank     float64
	Seed            int64
}

// DefaultConfig returns a dataset that exercises every gate decision.
func DefaultConfig() Config {
	return Config{
		NumWallets:      1000,
		NumTransfers:    10000,
		InternalChance:  0.3,
		BlockedChance:   0.05,
		HighScoreChance: 0.02,
		MaxRiskRank:     120,
		Seed:            42,
	}
}
