package resumable

import (
	"errors"
	"net/http"
)

var (
	ErrMalformedHeader = errors.New("malformed upload header")
	ErrNotFound        = errors.New("upload not found")
	ErrOffsetConflict  = errors.New("mismatching Upload-Offset value")
	ErrAttachConflict  = errors.New("upload is attached to another connection")
	ErrUploadComplete  = errors.New("upload is already complete")
	ErrUploadCanceled  = errors.New("upload canceled")
	ErrUploadExpired   = errors.New("upload expired")
	ErrConnClosed      = errors.New("connection closed")
	ErrUnexpectedPart  = errors.New("unexpected request part")
	ErrBodyTooLong     = errors.New("request body exceeds Content-Length")
	ErrBodyTooShort    = errors.New("request body shorter than Content-Length")
)

type httpError struct {
	error
	statusCode int
}

func (err httpError) StatusCode() int {
	return err.statusCode
}

func (err httpError) Body() []byte {
	return []byte(err.Error() + "\n")
}

func (err httpError) Unwrap() error {
	return err.error
}

// StatusCode maps an engine error to the status the client is answered with.
func StatusCode(err error) int {
	var herr httpError
	if errors.As(err, &herr) {
		return herr.StatusCode()
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUploadExpired), errors.Is(err, ErrUploadCanceled):
		return http.StatusNotFound
	case errors.Is(err, ErrOffsetConflict), errors.Is(err, ErrAttachConflict):
		return http.StatusConflict
	case errors.Is(err, ErrMalformedHeader), errors.Is(err, ErrUploadComplete),
		errors.Is(err, ErrBodyTooLong), errors.Is(err, ErrBodyTooShort):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func newHTTPError(err error, statusCode int) httpError {
	return httpError{error: err, statusCode: statusCode}
}
