package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamTruncated means the source ended before signalling end-of-stream.
	ErrStreamTruncated = errors.New("stream truncated")
	// ErrDecodeFailed means the staged payload is not valid for the decoder.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrStagingIO means the local staging file could not be created or written.
	ErrStagingIO = errors.New("staging io failed")
)

// Error reports a failed ingestion together with the source it was reading
// and the staging file involved.
type Error struct {
	Kind    error
	Source  string
	Staging string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Source != "" {
		msg += fmt.Sprintf(" for %s", e.Source)
	}
	if e.Staging != "" {
		msg += fmt.Sprintf(" (staging %s)", e.Staging)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }
