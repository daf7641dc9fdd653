package mcp

import (
	"errors"

	cerrors "github.com/standardbeagle/cindex/internal/errors"
)

// errorKind extracts the taxonomy Kind from err if it (or something it
// wraps) is one of ours, for createErrorResponse's error_kind field (§7).
func errorKind(err error) (string, bool) {
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return string(ce.Kind), true
	}
	return "", false
}

func errorRecoverable(err error) bool {
	var ce *cerrors.Error
	if errors.As(err, &ce) {
		return ce.IsRecoverable()
	}
	return false
}
