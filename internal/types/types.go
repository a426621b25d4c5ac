// Package types provides common type definitions for the wallet sync core.
package types

import (
	"fmt"
	"strings"
)

// CoinType identifies the blockchain family (SLIP-44 coin type)
type CoinType int

const (
	// CoinBTC represents Bitcoin
	CoinBTC CoinType = 0
	// CoinETH represents Ethereum and EVM-compatible chains
	CoinETH CoinType = 60
	// CoinFIL represents Filecoin
	CoinFIL CoinType = 461
	// CoinSOL represents Solana
	CoinSOL CoinType = 501
)

// String returns the short ticker name used in logs and account names
func (c CoinType) String() string {
	switch c {
	case CoinBTC:
		return "BTC"
	case CoinETH:
		return "ETH"
	case CoinFIL:
		return "FIL"
	case CoinSOL:
		return "SOL"
	default:
		return fmt.Sprintf("coin(%d)", int(c))
	}
}

// IsKnown reports whether the coin type is one the wallet supports
func (c CoinType) IsKnown() bool {
	switch c {
	case CoinBTC, CoinETH, CoinFIL, CoinSOL:
		return true
	}
	return false
}

// ChainID identifies a network within a coin type (hex for EVM chains)
type ChainID string

const (
	// ChainMainnet represents the Ethereum mainnet
	ChainMainnet ChainID = "0x1"
	// ChainGoerli represents the Goerli test network
	ChainGoerli ChainID = "0x5"
	// ChainSepolia represents the Sepolia test network
	ChainSepolia ChainID = "0xaa36a7"
	// ChainLocalhost represents a local development node; reused across coin types
	ChainLocalhost ChainID = "0x539"
	// ChainSolanaMainnet represents Solana mainnet-beta
	ChainSolanaMainnet ChainID = "0x65"
	// ChainSolanaTestnet represents the Solana testnet
	ChainSolanaTestnet ChainID = "0x66"
	// ChainSolanaDevnet represents the Solana devnet
	ChainSolanaDevnet ChainID = "0x67"
	// ChainFilecoinMainnet represents Filecoin mainnet
	ChainFilecoinMainnet ChainID = "f"
	// ChainFilecoinTestnet represents the Filecoin calibration testnet
	ChainFilecoinTestnet ChainID = "t"
	// ChainAll is the network filter value selecting every non-test network
	ChainAll ChainID = "AllNetworks"
)

// testNetworks lists, per coin type, the chain ids hidden from "all
// networks" views. Chain ids only mean something within one coin type.
var testNetworks = map[CoinType]map[ChainID]bool{
	CoinETH: {ChainGoerli: true, ChainSepolia: true},
	CoinSOL: {ChainSolanaTestnet: true, ChainSolanaDevnet: true},
	CoinFIL: {ChainFilecoinTestnet: true},
}

// IsTestNetwork reports whether a chain id is a test network of coin.
// Localhost is a test network for every coin type.
func IsTestNetwork(coin CoinType, chain ChainID) bool {
	if chain == ChainLocalhost {
		return true
	}
	return testNetworks[coin][chain]
}

// NormalizeChainID lowercases hex chain ids so "0x1" and "0X1" compare equal
func NormalizeChainID(chain string) ChainID {
	chain = strings.TrimSpace(chain)
	if strings.HasPrefix(strings.ToLower(chain), "0x") {
		return ChainID(strings.ToLower(chain))
	}
	return ChainID(chain)
}

// TransactionStatus represents the lifecycle state of a wallet transaction
type TransactionStatus string

const (
	// StatusUnapproved is a transaction waiting for user approval
	StatusUnapproved TransactionStatus = "unapproved"
	// StatusApproved is a transaction the user approved
	StatusApproved TransactionStatus = "approved"
	// StatusSigned is a transaction signed but not yet broadcast
	StatusSigned TransactionStatus = "signed"
	// StatusSubmitted is a transaction broadcast to the network
	StatusSubmitted TransactionStatus = "submitted"
	// StatusConfirmed is a transaction included in a block
	StatusConfirmed TransactionStatus = "confirmed"
	// StatusRejected is a transaction the user rejected
	StatusRejected TransactionStatus = "rejected"
	// StatusDropped is a transaction the network dropped
	StatusDropped TransactionStatus = "dropped"
	// StatusError is a transaction that failed
	StatusError TransactionStatus = "error"
)

var statusRank = map[TransactionStatus]int{
	StatusUnapproved: 0,
	StatusApproved:   1,
	StatusSigned:     2,
	StatusSubmitted:  3,
	StatusConfirmed:  4,
	StatusRejected:   4,
	StatusDropped:    4,
	StatusError:      4,
}

// IsValid reports whether the status is part of the lifecycle
func (s TransactionStatus) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusRejected, StatusDropped, StatusError:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic.
// Re-applying the current status is allowed so that replays stay idempotent.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
