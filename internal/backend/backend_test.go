package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseState(t *testing.T) {
	for in, want := range map[string]State{"up": StateUp, "DOWN": StateDown, "Toggle": StateToggle} {
		got, ok := ParseState(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseState("sideways")
	assert.False(t, ok)
}

func TestToggleResolvesAgainstCurrentState(t *testing.T) {
	assert.Equal(t, StateDown, StateToggle.resolve(StateUp))
	assert.Equal(t, StateUp, StateToggle.resolve(StateDown))
	assert.Equal(t, StateUp, StateUp.resolve(StateUp))
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"wg0", "a", "home_vpn.2", "x=y+z-1", "fifteen-chars15"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "sixteen-chars-16", "has space", "slash/name", "ümlaut"} {
		assert.Error(t, ValidateName(bad), bad)
	}
}

func TestErrorMessages(t *testing.T) {
	err := newError(ReasonToolConfigError, nil, 2)
	assert.Equal(t, "wg-quick reported a configuration error (exit code 2)", err.Error())

	cause := errors.New("boom")
	err = newError(ReasonTunCreation, cause)
	assert.Equal(t, "could not create tunnel device: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &Error{Reason: ReasonTunCreation})
	assert.NotErrorIs(t, err, &Error{Reason: ReasonMissingConfig})

	assert.Equal(t, "reason(99)", Reason(99).String())
}
