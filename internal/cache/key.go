// Package cache memoizes backend reads keyed by request parameters. Entries
// carry tags naming the entities they depend on; invalidating a tag evicts
// every entry carrying it.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wallet-sync/internal/models"
)

// Key is a structural cache key: a query kind plus its request parameters.
// Two keys with equal parameters hash to the same entry.
type Key struct {
	Kind   string
	Params interface{}
}

// String returns <kind>:<sha256 of the JSON-encoded params>
func (k Key) String() (string, error) {
	data, err := json.Marshal(k.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cache key params: %w", err)
	}
	hash := sha256.Sum256(data)
	return strings.ToLower(k.Kind) + ":" + hex.EncodeToString(hash[:]), nil
}

// TagKind tags an entry with an entity kind, e.g. "kind:account"
func TagKind(kind string) string {
	return "kind:" + kind
}

// TagAccount tags an entry with one account
func TagAccount(id models.AccountID) string {
	return "account:" + id.Normalized().String()
}

// TagAsset tags an entry with one asset
func TagAsset(id models.AssetID) string {
	return "asset:" + id.Normalized().String()
}

// TagNetwork tags an entry with one network
func TagNetwork(key models.NetworkKey) string {
	return "network:" + key.Normalized().String()
}
