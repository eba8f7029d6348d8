package secondary

import (
	"fmt"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

// RecoverableKind tags the reason a single in-flight request failed without
// requiring shutdown.
type RecoverableKind int

const (
	Timeout RecoverableKind = iota
	Serialization
	Deserialization
	StatusNotOk
)

func (k RecoverableKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Serialization:
		return "serialization"
	case Deserialization:
		return "deserialization"
	case StatusNotOk:
		return "status-not-ok"
	default:
		return "unknown"
	}
}

// RecoverableError fails the single pending operation (§3, §7). The router
// maps it to a northbound status reply and the bridge keeps running, except
// for Timeout, which the router escalates to shutdown without a reply.
type RecoverableError struct {
	Kind   RecoverableKind
	Status wire.Status // only meaningful when Kind == StatusNotOk
	cause  error
}

func (e *RecoverableError) Error() string {
	if e.Kind == StatusNotOk {
		return fmt.Sprintf("secondary: recoverable: status not ok: %v", e.Status)
	}
	if e.cause != nil {
		return fmt.Sprintf("secondary: recoverable: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("secondary: recoverable: %s", e.Kind)
}

func (e *RecoverableError) Unwrap() error { return e.cause }

func newTimeout() *RecoverableError {
	return &RecoverableError{Kind: Timeout}
}

func newSerialization(cause error) *RecoverableError {
	return &RecoverableError{Kind: Serialization, cause: cause}
}

func newDeserialization(cause error) *RecoverableError {
	return &RecoverableError{Kind: Deserialization, cause: cause}
}

func newStatusNotOk(status wire.Status) *RecoverableError {
	return &RecoverableError{Kind: StatusNotOk, Status: status}
}

// UnrecoverableKind tags a failure of the link or of an internal invariant.
type UnrecoverableKind int

const (
	TransportFailure UnrecoverableKind = iota
	InternalInvariant
)

func (k UnrecoverableKind) String() string {
	switch k {
	case TransportFailure:
		return "transport-failure"
	case InternalInvariant:
		return "internal-invariant"
	default:
		return "unknown"
	}
}

// UnrecoverableError reports a broken transport or any failure of Initialize,
// including a version mismatch at construction (§3, §7). A transport read
// error also fires the client's exit pipe, which shuts the router down; a
// TransportFailure returned from an operation is answered with a BrokenPipe
// reply, and an InternalInvariant is escalated to shutdown.
type UnrecoverableError struct {
	Kind  UnrecoverableKind
	cause error
}

func (e *UnrecoverableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("secondary: unrecoverable: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("secondary: unrecoverable: %s", e.Kind)
}

func (e *UnrecoverableError) Unwrap() error { return e.cause }

func newTransportFailure(cause error) *UnrecoverableError {
	return &UnrecoverableError{Kind: TransportFailure, cause: cause}
}

func newInternalInvariant(cause error) *UnrecoverableError {
	return &UnrecoverableError{Kind: InternalInvariant, cause: cause}
}
