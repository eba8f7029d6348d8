// Package router implements the central event loop (§4.5): the stateless
// outcome→status Translator and the Loop that fans signals, driver
// multicast readiness, and the southbound/northbound/internal exit pipes
// into a single shutdown discipline.
package router

import (
	"errors"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/genl"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/secondary"
	"github.com/siliconlabs/cpc-gpio-bridge/pkg/wire"
)

// Verdict is the result of translating one southbound outcome into the
// northbound reply contract (§4.5 table).
type Verdict struct {
	// Status is the value to report when Reply is true.
	Status genl.Status
	// Reply reports whether a northbound reply should be sent at all.
	// False means "absorbed without reply" (driver.Reply*'s nil-status
	// mode): either the operation is still pending (never the case here)
	// or the failure has been escalated instead.
	Reply bool
	// Escalate reports whether this outcome should be pushed onto the
	// router-task exit pipe as a fatal condition.
	Escalate bool
}

// Translate is the §4.5 table as a pure function: southbound outcome in,
// northbound disposition out. err == nil means the southbound operation
// succeeded.
func Translate(err error) Verdict {
	if err == nil {
		return Verdict{Status: genl.StatusOk, Reply: true}
	}

	var recoverable *secondary.RecoverableError
	if errors.As(err, &recoverable) {
		switch recoverable.Kind {
		case secondary.Timeout:
			return Verdict{Escalate: true}
		case secondary.Serialization, secondary.Deserialization:
			return Verdict{Status: genl.StatusProtocolError, Reply: true}
		case secondary.StatusNotOk:
			return Verdict{Status: statusNotOkVerdict(recoverable.Status), Reply: true}
		}
	}

	var unrecoverable *secondary.UnrecoverableError
	if errors.As(err, &unrecoverable) {
		switch unrecoverable.Kind {
		case secondary.TransportFailure:
			return Verdict{Status: genl.StatusBrokenPipe, Reply: true}
		default: // InternalInvariant
			return Verdict{Escalate: true}
		}
	}

	// Anything else reaching here is a translator bug, not a modeled
	// southbound outcome: escalate rather than guess at a status.
	return Verdict{Escalate: true}
}

func statusNotOkVerdict(status wire.Status) genl.Status {
	switch status {
	case wire.StatusNotSupported:
		return genl.StatusNotSupported
	case wire.StatusInvalidPin:
		return genl.StatusProtocolError
	default:
		return genl.StatusUnknown
	}
}
