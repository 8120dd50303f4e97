package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidConfig     = errors.New("invalid ad unit config")
	ErrDuplicateElement  = errors.New("duplicate element id")
	ErrAdService         = errors.New("ad service error")
	ErrSlotNotDefined    = errors.New("slot not defined")
	ErrServicesDisabled  = errors.New("ad services not enabled")
	ErrInvalidBackend    = errors.New("invalid backend")
	ErrLedgerAccess      = errors.New("ledger read/write error")
	ErrInvalidTargeting  = errors.New("invalid targeting expression")
	ErrInvalidScenario   = errors.New("invalid scenario")
	ErrLedgerClosed      = errors.New("ledger closed")
	ErrInvalidVisibility = errors.New("visible fraction must be in (0, 1]")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}
