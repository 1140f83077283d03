// Package app holds the coordinator's operator-facing configuration:
// AdminConfig, the exact set of recognized options, and its atomic
// load/save on disk. It generalizes the reference repo's AppConfig
// (wallet/provider/settings metadata persisted as app_config.enc) into
// the coordinator's own recognized-options surface, dropping the
// wallet-specific AES-256-GCM/Argon2id encryption: coordinator
// configuration holds no key material of its own (signing strategy
// only names where keys live), so it is not secret and is stored as
// plain JSON.
package app

import (
	"encoding/json"
	"time"
)

// SigningStrategyKind selects between a locally held key and an
// external threshold-signing service, matching signer.KeyID's closed
// sum type one level up.
type SigningStrategyKind string

const (
	SigningStrategyLocal   SigningStrategyKind = "Local"
	SigningStrategyManaged SigningStrategyKind = "Managed"
)

// SigningStrategy is AdminConfig's signing_strategy option:
// Local(bytes) carries a hex-encoded private key, Managed(key_id)
// names a ThresholdBackend key id.
type SigningStrategy struct {
	Kind      SigningStrategyKind `json:"kind"`
	LocalKey  string              `json:"local_key,omitempty"`  // hex-encoded, only set when Kind == Local
	ManagedID string              `json:"managed_id,omitempty"` // KeyID.String(), only set when Kind == Managed
}

// AdminConfig is the coordinator's complete set of recognized options.
type AdminConfig struct {
	MinConfirmations  uint32          `json:"min_confirmations"`
	MaxBatch          uint32          `json:"max_batch"`
	MaxBlocksPerScan  uint32          `json:"max_blocks_per_scan"`
	RetryBaseMs       uint64          `json:"retry_base_ms"`
	RetryCapMs        uint64          `json:"retry_cap_ms"`
	SigningStrategy   SigningStrategy `json:"signing_strategy"`
	LogFilter         string          `json:"log_filter"`
	EnableConsole     bool            `json:"enable_console"`
	InMemoryLogRecords uint64         `json:"in_memory_log_records"`
	DepositFee        uint64          `json:"deposit_fee"`

	// BaseChainID is the bridge contract's configured chain id
	// (RecipientChainID in issued mint orders).
	BaseChainID uint32 `json:"base_chain_id"`

	// BitcoinRPCEndpoints/BitcoinWatchAddress configure the Bitcoin
	// BaseChainAdapter registered in buildCoordinator. Left empty,
	// no Bitcoin adapter is constructed.
	BitcoinRPCEndpoints  []string `json:"bitcoin_rpc_endpoints,omitempty"`
	BitcoinWatchAddress  string   `json:"bitcoin_watch_address,omitempty"`
	BitcoinRPCTimeoutMs  uint64   `json:"bitcoin_rpc_timeout_ms,omitempty"`

	// EVMRPCEndpoint/EVMCustodyAddress configure the secondary-chain
	// EVM adapter and the Event Log Tail's log source.
	EVMRPCEndpoint    string `json:"evm_rpc_endpoint,omitempty"`
	EVMCustodyAddress string `json:"evm_custody_address,omitempty"`
	EVMChainID        uint32 `json:"evm_chain_id,omitempty"`

	// BridgeContractAddress is the deployed wrapped-side bridge
	// contract the Event Log Tail watches for BurnTokenEvent logs.
	BridgeContractAddress string `json:"bridge_contract_address,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultAdminConfig returns the coordinator's out-of-the-box tuning.
// Its retry base and cap match the numbers the Event Log Tail and Task
// Scheduler fall back to when unconfigured.
func DefaultAdminConfig() *AdminConfig {
	return &AdminConfig{
		MinConfirmations:   6,
		MaxBatch:           50,
		MaxBlocksPerScan:   9000,
		RetryBaseMs:        500,
		RetryCapMs:         30_000,
		SigningStrategy:    SigningStrategy{Kind: SigningStrategyLocal},
		LogFilter:          "info",
		EnableConsole:      true,
		InMemoryLogRecords: 1000,
		DepositFee:         0,
		UpdatedAt:          time.Time{},
	}
}

// ToJSON serializes the config for persistence or CLI display.
func (c *AdminConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON deserializes an AdminConfig.
func FromJSON(data []byte) (*AdminConfig, error) {
	var cfg AdminConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
