package backend

import (
	"fmt"
)

// Reason is the closed set of backend failures.
type Reason int

const (
	ReasonUnknownKernelModule Reason = iota + 1
	// ReasonToolConfigError carries the wg-quick exit code in Args[0].
	ReasonToolConfigError
	ReasonMissingConfig
	ReasonNotAuthorized
	ReasonServiceStartTimeout
	ReasonTunCreation
	// ReasonEngineActivation carries the engine error code in Args[0].
	ReasonEngineActivation
	// ReasonDNSResolution carries the peer host in Args[0].
	ReasonDNSResolution
)

var reasonNames = map[Reason]string{
	ReasonUnknownKernelModule: "unknown kernel module version",
	ReasonToolConfigError:     "wg-quick reported a configuration error",
	ReasonMissingConfig:       "tunnel has no configuration",
	ReasonNotAuthorized:       "not authorized to create tunnels",
	ReasonServiceStartTimeout: "tunnel service did not start in time",
	ReasonTunCreation:         "could not create tunnel device",
	ReasonEngineActivation:    "engine activation failed",
	ReasonDNSResolution:       "could not resolve endpoint",
}

var argFormats = map[Reason]string{
	ReasonToolConfigError:  "wg-quick reported a configuration error (exit code %v)",
	ReasonEngineActivation: "engine activation failed (code %v)",
	ReasonDNSResolution:    "could not resolve endpoint %v",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Error is a typed backend failure. Args are the formatting parameters of the
// reason; user-facing text is produced from Reason and Args, not Err.
type Error struct {
	Reason Reason
	Args   []any
	Err    error
}

func newError(reason Reason, cause error, args ...any) *Error {
	return &Error{Reason: reason, Args: args, Err: cause}
}

// Message renders the reason with its arguments.
func (e *Error) Message() string {
	if f, ok := argFormats[e.Reason]; ok && len(e.Args) > 0 {
		return fmt.Sprintf(f, e.Args...)
	}
	return e.Reason.String()
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message() + ": " + e.Err.Error()
	}
	return e.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}
