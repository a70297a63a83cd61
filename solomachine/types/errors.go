package types

import (
	"errors"
	"fmt"
	"strings"

	errorsmod "cosmossdk.io/errors"
)

// ModuleName is the codespace of the solo machine engine errors.
const ModuleName = "solomachine"

// Error kinds surfaced by the engine. Capability errors are wrapped with context
// and keep their kind, so callers branch with errors.Is.
var (
	ErrValidation    = errorsmod.Register(ModuleName, 2, "validation error")
	ErrPrecondition  = errorsmod.Register(ModuleName, 3, "precondition error")
	ErrSigning       = errorsmod.Register(ModuleName, 4, "signing error")
	ErrSerialization = errorsmod.Register(ModuleName, 5, "serialization error")
	ErrNetwork       = errorsmod.Register(ModuleName, 6, "network error")
	ErrStorage       = errorsmod.Register(ModuleName, 7, "storage error")
)

var (
	// ErrChainNotFound is returned when no chain state exists for a chain id.
	ErrChainNotFound = errorsmod.Wrap(ErrPrecondition, "chain not found")

	// ErrChainExists is returned when adding a chain that was already added.
	ErrChainExists = errorsmod.Wrap(ErrValidation, "chain already exists")
)

// IsRetryable reports whether the caller may retry the failed call unchanged.
// Network and storage failures are transient; validation and precondition
// failures require the call to change.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrStorage)
}

// kindError attaches one or more error kinds to an underlying cause without
// hiding the cause from errors.Is / errors.As.
type kindError struct {
	kinds []*errorsmod.Error
	msg   string
	cause error
}

// WrapKind wraps err with a formatted message and marks it with kind.
// Unlike errorsmod.Wrap the original error stays in the chain, so both
// errors.Is(err, kind) and errors.Is(err, cause) hold.
func WrapKind(kind *errorsmod.Error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &kindError{kinds: []*errorsmod.Error{kind}, msg: fmt.Sprintf(format, args...), cause: err}
}

// NewMultiKind returns an error that matches every given kind.
func NewMultiKind(msg string, kinds ...*errorsmod.Error) error {
	return &kindError{kinds: kinds, msg: msg}
}

func (e *kindError) Error() string {
	descs := make([]string, 0, len(e.kinds))
	for _, k := range e.kinds {
		descs = append(descs, k.Error())
	}
	out := e.msg
	if e.cause != nil {
		out = fmt.Sprintf("%s: %s", out, e.cause.Error())
	}
	return fmt.Sprintf("%s: %s", out, strings.Join(descs, ", "))
}

func (e *kindError) Is(target error) bool {
	for _, k := range e.kinds {
		if k.Is(target) {
			return true
		}
	}
	return false
}

func (e *kindError) Unwrap() error { return e.cause }
