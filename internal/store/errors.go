package store

import (
	"errors"
	"fmt"

	apperrors "github.com/wallet-sync/internal/errors"
)

// ErrClosed is returned by Apply after Close
var ErrClosed = errors.New("store: closed")

// Reason explains why a patch was rejected
type Reason string

const (
	ReasonUnknownAccount     Reason = "unknown_account"
	ReasonUnknownAsset       Reason = "unknown_asset"
	ReasonUnknownNetwork     Reason = "unknown_network"
	ReasonUnknownTransaction Reason = "unknown_transaction"
	ReasonDuplicateID        Reason = "duplicate_id"
	ReasonStatusRegression   Reason = "status_regression"
	ReasonInvalidValue       Reason = "invalid_value"
)

// RejectedPatchError reports a patch discarded as a no-op. The state the
// store held before the patch is left untouched.
type RejectedPatchError struct {
	Op     string
	Reason Reason
	Detail string
}

func (e *RejectedPatchError) Error() string {
	return fmt.Sprintf("store: %s rejected (%s): %s", e.Op, e.Reason, e.Detail)
}

// ErrorCategory implements apperrors.Categorizer
func (e *RejectedPatchError) ErrorCategory() apperrors.ErrorCategory {
	return apperrors.CategoryRejectedPatch
}

// ReasonOf extracts the rejection reason from err
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectedPatchError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

func reject(op string, reason Reason, format string, args ...interface{}) error {
	return &RejectedPatchError{Op: op, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
