package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// MalformedEventError reports a notification that cannot be decoded into a
// known variant. The event is dropped; nothing is applied.
type MalformedEventError struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s event: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Kind, e.Reason)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// ErrorCategory reports decode failures to the error taxonomy
func (e *MalformedEventError) ErrorCategory() apperrors.ErrorCategory {
	return apperrors.CategoryMalformedEvent
}

func malformed(kind Kind, err error, format string, args ...interface{}) error {
	return &MalformedEventError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: err}
}

// DecodeJSON decodes a raw JSON payload; see Decode
func DecodeJSON(kind string, raw []byte) (Event, error) {
	var payload interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, malformed(Kind(kind), err, "payload is not JSON")
		}
	}
	return Decode(kind, payload)
}

// Decode maps a loosely typed notification payload to its event variant
func Decode(kind string, payload interface{}) (Event, error) {
	k := Kind(kind)
	switch k {
	case KindAccountsChanged:
		var accounts []models.Account
		if err := extract(k, payload, "$.accounts", &accounts); err != nil {
			return nil, err
		}
		return AccountsChanged{Accounts: accounts}, nil

	case KindSelectedAccountChanged:
		var id *models.AccountID
		if err := extractOptional(k, payload, "$.account", &id); err != nil {
			return nil, err
		}
		return SelectedAccountChanged{ID: id}, nil

	case KindActiveNetworkChanged:
		var key *models.NetworkKey
		if err := extractOptional(k, payload, "$.network", &key); err != nil {
			return nil, err
		}
		if key != nil && key.ChainID == "" {
			return nil, malformed(k, nil, "network has no chainId")
		}
		return ActiveNetworkChanged{Key: key}, nil

	case KindNetworksChanged:
		var networks []models.Network
		if err := extract(k, payload, "$.networks", &networks); err != nil {
			return nil, err
		}
		return NetworksChanged{Networks: networks}, nil

	case KindLockStateChanged:
		var locked bool
		if err := extract(k, payload, "$.locked", &locked); err != nil {
			return nil, err
		}
		return LockStateChanged{Locked: locked}, nil

	case KindLocked:
		return LockStateChanged{Locked: true}, nil

	case KindUnlocked:
		return LockStateChanged{Locked: false}, nil

	case KindTransactionAdded:
		var tx models.Transaction
		if err := extract(k, payload, "$.tx", &tx); err != nil {
			return nil, err
		}
		if tx.ID == "" {
			return nil, malformed(k, nil, "transaction has no id")
		}
		if tx.Status != "" && !tx.Status.IsValid() {
			return nil, malformed(k, nil, "unknown status %q", tx.Status)
		}
		return TransactionAdded{Tx: tx}, nil

	case KindTransactionUpdated:
		var ev TransactionUpdated
		if err := extract(k, payload, "$.id", &ev.ID); err != nil {
			return nil, err
		}
		var status string
		if err := extract(k, payload, "$.status", &status); err != nil {
			return nil, err
		}
		ev.Status = types.TransactionStatus(strings.ToLower(status))
		if ev.ID == "" {
			return nil, malformed(k, nil, "transaction has no id")
		}
		if !ev.Status.IsValid() {
			return nil, malformed(k, nil, "unknown status %q", status)
		}
		if err := extractOptional(k, payload, "$.txHash", &ev.TxHash); err != nil {
			return nil, err
		}
		return ev, nil

	case KindBalancesUpdated:
		var facts []models.BalanceFact
		if err := extract(k, payload, "$.balances", &facts); err != nil {
			return nil, err
		}
		return BalancesUpdated{Facts: facts}, nil

	case KindPricesUpdated:
		var prices []models.SpotPrice
		if err := extract(k, payload, "$.prices", &prices); err != nil {
			return nil, err
		}
		return PricesUpdated{Prices: prices}, nil

	case KindAssetsChanged:
		var assets []models.Asset
		if err := extract(k, payload, "$.assets", &assets); err != nil {
			return nil, err
		}
		return AssetsChanged{Assets: assets}, nil
	}

	return nil, malformed(k, nil, "unknown event kind")
}

// extract reads a required field; null counts as missing
func extract(kind Kind, payload interface{}, path string, dst interface{}) error {
	v, err := jsonpath.Get(path, payload)
	if err != nil {
		return malformed(kind, err, "missing %s", path)
	}
	if v == nil {
		return malformed(kind, nil, "%s is null", path)
	}
	return convert(kind, path, v, dst)
}

// extractOptional reads a field that may be absent or null
func extractOptional(kind Kind, payload interface{}, path string, dst interface{}) error {
	v, err := jsonpath.Get(path, payload)
	if err != nil || v == nil {
		return nil
	}
	return convert(kind, path, v, dst)
}

func convert(kind Kind, path string, v interface{}, dst interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return malformed(kind, err, "cannot read %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return malformed(kind, err, "invalid %s", path)
	}
	return nil
}
