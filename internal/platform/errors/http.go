package errors

import (
	stderrors "errors"
	"net/http"
)

// CodeOf extracts the error code from an error chain.
// Non-domain errors report CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return CodeUnknown
	}
	return appErr.Code
}

// HTTPStatus maps an error to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var appErr *Error
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	return appErr.Code.HTTPStatus()
}
