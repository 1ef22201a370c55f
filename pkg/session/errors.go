package session

import "errors"

// Sentinel errors naming the session failure cases. Manager itself does not
// return them: it logs these conditions and publishes failures on
// TopicSessionError instead.
var (
	// ErrNotConnected names an operation that needs an active remote
	// connection when none exists.
	ErrNotConnected = errors.New("session: remote client not connected")
	// ErrEmptyUtterance names a voice-stopped event that arrives with
	// nothing collected to submit.
	ErrEmptyUtterance = errors.New("session: no audio collected for utterance")
	// ErrAlreadyClosed names an operation attempted after Close.
	ErrAlreadyClosed = errors.New("session: manager already closed")
)
