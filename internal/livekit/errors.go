package livekit

import (
	"errors"
	"fmt"
)

// Twirp error codes the client branches on. The server returns more; these
// are the ones with distinct handling here.
const (
	CodeCanceled          = "canceled"
	CodeInvalidArgument   = "invalid_argument"
	CodeDeadlineExceeded  = "deadline_exceeded"
	CodeNotFound          = "not_found"
	CodePermissionDenied  = "permission_denied"
	CodeResourceExhausted = "resource_exhausted"
	CodeUnauthenticated   = "unauthenticated"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

// Error is a decoded twirp error payload from the server API.
type Error struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Meta map[string]string `json:"meta,omitempty"`

	// HTTPStatus is the status line the payload arrived under.
	HTTPStatus int `json:"-"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("livekit: %s", e.Code)
	}
	return fmt.Sprintf("livekit: %s: %s", e.Code, e.Msg)
}

// SIPStatusCode returns the carrier status attached to a failed dial ("486",
// "503", ...), or "" when the error carries none.
func (e *Error) SIPStatusCode() string {
	return e.Meta["sip_status_code"]
}

// Temporary reports whether retrying the same request can plausibly succeed.
func (e *Error) Temporary() bool {
	switch e.Code {
	case CodeUnavailable, CodeInternal, CodeDeadlineExceeded, CodeResourceExhausted:
		return true
	}
	return false
}

// IsNotFound reports whether err is a twirp not_found. Teardown paths treat
// it as success: the room is already gone.
func IsNotFound(err error) bool {
	var twerr *Error
	return errors.As(err, &twerr) && twerr.Code == CodeNotFound
}

// IsTemporary reports whether err is a twirp error worth retrying.
func IsTemporary(err error) bool {
	var twerr *Error
	return errors.As(err, &twerr) && twerr.Temporary()
}
