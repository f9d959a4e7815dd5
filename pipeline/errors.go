package pipeline

import (
	"errors"
	"strings"

	"goeverbridge/amounts"
)

var (
	ErrDisposed           = errors.New("pipeline disposed")
	ErrNotResolved        = errors.New("transfer not resolved yet")
	ErrAlreadyInProgress  = errors.New("operation already in progress")
	ErrInvalidAmount      = amounts.ErrInvalidAmount
	ErrUserRejected       = errors.New("user rejected the request")
	ErrNotReady           = errors.New("transfer is not ready for this operation")
	ErrUnsupportedVariant = errors.New("operation not supported by this transfer kind")
	ErrNoRoute            = errors.New("no pipeline configured for token")
)

// wallet messages signalling the signer declined
var userRejections = []string{
	"user rejected",
	"user denied",
	"rejected by user",
	"request rejected",
}

// IsUserRejected reports whether err means the signer declined the request.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, r := range userRejections {
		if strings.Contains(msg, r) {
			return true
		}
	}
	return false
}
