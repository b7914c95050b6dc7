package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidJSON      = 1001
	ErrCodeRequestTooLarge  = 1002
	ErrCodeInvalidQuery     = 1003
	ErrCodeInvalidID        = 1004
	ErrCodeInvalidKind      = 1005
	ErrCodeInvalidName      = 1006
	ErrCodeInvalidMediaType = 1007
	ErrCodeMissingRequired  = 1009
	ErrCodeInvalidVariant   = 1010

	// Domain state (2xxx)
	ErrCodeExpenseNotFound    = 2001
	ErrCodeAttachmentNotFound = 2003
	ErrCodeBlobNotFound       = 2005
	ErrCodeConflict           = 2102
	ErrCodeBlobNotAvailable   = 2201

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003

	// Internal/system (4xxx)
	ErrCodeInternal           = 4001
	ErrCodeStoreFailure       = 4002
	ErrCodeStorageUnavailable = 4003
	ErrCodeBlobStoreFailure   = 4004
	ErrCodeNotImplemented     = 4005
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeAttachmentNotFound
	case 409:
		return ErrCodeConflict
	case 413:
		return ErrCodeRequestTooLarge
	case 415:
		return ErrCodeInvalidMediaType
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 501:
		return ErrCodeNotImplemented
	case 503:
		return ErrCodeStorageUnavailable
	default:
		return 0
	}
}
