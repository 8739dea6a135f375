package rootshell

import "fmt"

// Reason classifies channel failures.
type Reason int

const (
	// ReasonNoRootAccess means the elevated shell is missing, refused, or
	// did not report uid 0.
	ReasonNoRootAccess Reason = iota + 1
	// ReasonMarkerCount means fewer or more than four markers were seen.
	ReasonMarkerCount
	// ReasonExitStatusRead means the exit status could not be read or the
	// two streams disagreed about it.
	ReasonExitStatusRead
	// ReasonStartFailed covers every other startup failure, including a shell
	// that no longer accepts input.
	ReasonStartFailed
	ReasonCreateBinDir
	ReasonCreateTempDir
)

var reasonNames = map[Reason]string{
	ReasonNoRootAccess:   "no root access",
	ReasonMarkerCount:    "shell marker count mismatch",
	ReasonExitStatusRead: "shell exit status could not be read",
	ReasonStartFailed:    "shell failed to start",
	ReasonCreateBinDir:   "could not create binary directory",
	ReasonCreateTempDir:  "could not create temporary directory",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Error is returned for every failure of the channel itself, as opposed to a
// command exiting non-zero.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "rootshell: " + e.Reason.String() + ": " + e.Err.Error()
	}
	return "rootshell: " + e.Reason.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Reason, so callers can write
// errors.Is(err, &rootshell.Error{Reason: rootshell.ReasonNoRootAccess}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
