// Package apierr defines the HTTP control plane's JSON error
// vocabulary: the cid_mismatch/cid_not_found contract plus the
// pause/session not-found cases the same endpoints surface.
package apierr

import "net/http"

// Kind names one of the control plane's error conditions. The wire
// representation is always {"error": <kind>, ...extra fields}.
type Kind string

const (
	CIDMismatch     Kind = "cid_mismatch"
	CIDNotFound     Kind = "cid_not_found"
	BadRequest      Kind = "bad_request"
	PauseNotFound   Kind = "pause_not_found"
	SessionNotFound Kind = "session_not_found"
)

// StatusFor maps a Kind to the HTTP status the control plane responds
// with.
func StatusFor(k Kind) int {
	switch k {
	case CIDMismatch, CIDNotFound, BadRequest:
		return http.StatusBadRequest
	case PauseNotFound, SessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a control-plane error carrying its Kind plus arbitrary extra
// fields to merge into the JSON body (e.g. missing_cids, expected_cid).
type Error struct {
	Kind  Kind
	Extra map[string]any
}

func (e *Error) Error() string { return string(e.Kind) }

func New(kind Kind, extra map[string]any) *Error {
	return &Error{Kind: kind, Extra: extra}
}
