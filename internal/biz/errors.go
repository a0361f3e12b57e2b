package biz

import "github.com/go-kratos/kratos/v2/errors"

const (
	ReasonInvalidHash          = "INVALID_HASH"
	ReasonInvalidSignal        = "INVALID_SIGNAL"
	ReasonInvalidBank          = "INVALID_BANK"
	ReasonBankNotFound         = "BANK_NOT_FOUND"
	ReasonContentNotFound      = "CONTENT_NOT_FOUND"
	ReasonCorruptIndex         = "CORRUPT_INDEX"
	ReasonIndexUnavailable     = "INDEX_UNAVAILABLE"
	ReasonBuildFailure         = "BUILD_FAILURE"
	ReasonBankStoreUnavailable = "BANK_STORE_UNAVAILABLE"
	ReasonUnsupportedQuery     = "UNSUPPORTED_QUERY"
)

var (
	// ErrInvalidHash is a hash that failed to parse. Never retried.
	ErrInvalidHash = errors.BadRequest(ReasonInvalidHash, "invalid hash")
	// ErrInvalidSignal is a value rejected by its signal type, or an unknown or disabled type.
	ErrInvalidSignal = errors.BadRequest(ReasonInvalidSignal, "invalid signal")
	// ErrInvalidBank is a bank whose attributes are out of range.
	ErrInvalidBank = errors.BadRequest(ReasonInvalidBank, "invalid bank")
	// ErrBankNotFound is bank not found.
	ErrBankNotFound = errors.NotFound(ReasonBankNotFound, "bank not found")
	// ErrContentNotFound is bank content not found.
	ErrContentNotFound = errors.NotFound(ReasonContentNotFound, "bank content not found")
	// ErrCorruptIndex is a stored index blob that failed verification.
	ErrCorruptIndex = errors.InternalServer(ReasonCorruptIndex, "corrupt index")
	// ErrIndexUnavailable means no index has been built yet. Lookups treat it as empty.
	ErrIndexUnavailable = errors.ServiceUnavailable(ReasonIndexUnavailable, "index unavailable")
	// ErrBuildFailure is a transient failure during an index build.
	ErrBuildFailure = errors.InternalServer(ReasonBuildFailure, "index build failed")
	// ErrBankStoreUnavailable is a soft error callers can tell apart from "no match".
	ErrBankStoreUnavailable = errors.ServiceUnavailable(ReasonBankStoreUnavailable, "bank store unavailable")
	// ErrUnsupportedQuery is a query shape the signal type's index cannot answer.
	ErrUnsupportedQuery = errors.New(501, ReasonUnsupportedQuery, "unsupported query")
)

// errorf returns base with a specific message. Reason and code are kept so
// errors.Is still matches base.
func errorf(base *errors.Error, format string, args ...any) *errors.Error {
	return errors.Newf(int(base.Code), base.Reason, format, args...)
}

// IsBankStoreUnavailable reports whether err is the soft bank store error.
func IsBankStoreUnavailable(err error) bool {
	return errors.Reason(err) == ReasonBankStoreUnavailable
}
