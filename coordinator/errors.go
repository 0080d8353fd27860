package coordinator

import "errors"

// None of these reach a client. HandleFrame returns them so the transport can
// log why a frame was dropped.
var (
	ErrProtocolViolation = errors.New("packet not valid for session state")
	ErrAuthFailure       = errors.New("service authentication failed")
	ErrValidationFailure = errors.New("submitted work below job difficulty")
	ErrNoPendingJob      = errors.New("no pending job for hash")
	ErrDifficultyCeiling = errors.New("requested difficulty above ceiling")
	ErrWeakerJob         = errors.New("pending job was delegated at a lower difficulty")
	ErrSessionClosed     = errors.New("session closed")
)
