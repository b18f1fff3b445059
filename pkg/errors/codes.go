package errors

import "net/http"

// ErrorCode classifies a failure for callers and API clients.
type ErrorCode string

const (
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigParse   ErrorCode = "CONFIG_PARSE"
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	ErrCodeNotStarted     ErrorCode = "NOT_STARTED"
	ErrCodeUnknownBrowser ErrorCode = "UNKNOWN_BROWSER"

	ErrCodeNoBrowsers   ErrorCode = "NO_BROWSERS"
	ErrCodeBrowserFault ErrorCode = "BROWSER_FAULT"
	ErrCodeBrowserPanic ErrorCode = "BROWSER_PANIC"
	ErrCodeRunTimeout   ErrorCode = "RUN_TIMEOUT"

	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"

	ErrCodeInternal     ErrorCode = "INTERNAL"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

var httpStatus = map[ErrorCode]int{
	ErrCodeNotStarted:     http.StatusServiceUnavailable,
	ErrCodeNoBrowsers:     http.StatusServiceUnavailable,
	ErrCodeUnknownBrowser: http.StatusNotFound,
	ErrCodeInvalidInput:   http.StatusBadRequest,
	ErrCodeConfigParse:    http.StatusBadRequest,
	ErrCodeRunTimeout:     http.StatusGatewayTimeout,
}

// HTTPStatus is the response status for the code; unlisted codes are 500.
func (c ErrorCode) HTTPStatus() int {
	if status, ok := httpStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HTTPStatus maps err to a response status through its code.
func HTTPStatus(err error) int {
	return GetCode(err).HTTPStatus()
}
