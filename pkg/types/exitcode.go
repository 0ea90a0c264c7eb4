package types

import "fmt"

// ExitCode is the result code of a transaction's compute or action phase.
// Zero is success. System codes occupy the low range; contract code may abort
// with any code >= FirstContractExitCode.
type ExitCode uint64

const (
	// Ok indicates a successful execution.
	Ok ExitCode = 0

	// SysErrSenderInvalid: message sender could not be admitted.
	SysErrSenderInvalid ExitCode = 1
	// SysErrInvalidMethod: destination code exports no such selector.
	SysErrInvalidMethod ExitCode = 2
	// SysErrActorNotFound: destination does not exist and cannot be created.
	SysErrActorNotFound ExitCode = 3
	// SysErrActorCodeNotFound: code hash resolves to no registered code.
	SysErrActorCodeNotFound ExitCode = 4
	// SysErrOutOfGas: compute exhausted its gas or admission credit.
	SysErrOutOfGas ExitCode = 5
	// SysErrInsufficientFunds: an action needed more balance than available.
	SysErrInsufficientFunds ExitCode = 6
	// SysErrIllegalArgument: malformed parameters or actions.
	SysErrIllegalArgument ExitCode = 7
	// SysErrForbidden: the contract rejected the caller.
	SysErrForbidden ExitCode = 8
	// SysErrIllegalState: account state failed to decode or re-encode.
	SysErrIllegalState ExitCode = 9

	// FirstContractExitCode is the lowest code available to contract aborts.
	FirstContractExitCode ExitCode = 32
)

// IsSuccess reports whether the code indicates success.
func (c ExitCode) IsSuccess() bool {
	return c == Ok
}

// IsError reports whether the code indicates failure.
func (c ExitCode) IsError() bool {
	return c != Ok
}

func (c ExitCode) String() string {
	switch c {
	case Ok:
		return "Ok"
	case SysErrSenderInvalid:
		return "SysErrSenderInvalid"
	case SysErrInvalidMethod:
		return "SysErrInvalidMethod"
	case SysErrActorNotFound:
		return "SysErrActorNotFound"
	case SysErrActorCodeNotFound:
		return "SysErrActorCodeNotFound"
	case SysErrOutOfGas:
		return "SysErrOutOfGas"
	case SysErrInsufficientFunds:
		return "SysErrInsufficientFunds"
	case SysErrIllegalArgument:
		return "SysErrIllegalArgument"
	case SysErrForbidden:
		return "SysErrForbidden"
	case SysErrIllegalState:
		return "SysErrIllegalState"
	default:
		return fmt.Sprintf("ExitCode(%d)", uint64(c))
	}
}
