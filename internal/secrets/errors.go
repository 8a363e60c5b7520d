package secrets

import (
	"errors"
	"fmt"
)

var (
	// ErrCredentialsUnavailable means no readable secret source exists for the instance.
	ErrCredentialsUnavailable = errors.New("credentials unavailable")
	// ErrCredentialsMalformed means the secret source was read but lacks required keys.
	ErrCredentialsMalformed = errors.New("credentials malformed")
)

// Error describes a credential resolution failure for one instance.
type Error struct {
	Kind     error
	Instance string
	Path     string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s for instance %q", e.Kind, e.Instance)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }
