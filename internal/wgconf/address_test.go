package wgconf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.1/24", "10.0.0.1/24"},
		{"10.0.0.1", "10.0.0.1/32"},
		{"fd00::1", "fd00::1/128"},
		{"fd00::1/64", "fd00::1/64"},
		{"0.0.0.0/0", "0.0.0.0/0"},
		{"::/0", "::/0"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePrefix(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

// Out-of-range prefix lengths are clamped to the family width rather than
// rejected. This is deliberate leniency kept for compatibility with existing
// configuration files; a change here is a behaviour change.
func TestParsePrefix_ClampsOutOfRangeLength(t *testing.T) {
	p, err := ParsePrefix("10.0.0.1/33")
	require.NoError(t, err)
	assert.Equal(t, 32, p.Bits())

	p, err = ParsePrefix("fd00::1/200")
	require.NoError(t, err)
	assert.Equal(t, 128, p.Bits())

	p, err = ParsePrefix("10.0.0.1/-1")
	require.NoError(t, err)
	assert.Equal(t, 32, p.Bits())
}

func TestParsePrefix_Invalid(t *testing.T) {
	for _, in := range []string{"", "10.0.0.1/abc", "example.com/24", "10.0.0.300"} {
		_, err := ParsePrefix(in)
		assert.Error(t, err, in)
	}
}

func TestIsDefaultRoute(t *testing.T) {
	p, _ := ParsePrefix("0.0.0.0/0")
	assert.True(t, IsDefaultRoute(p))
	p, _ = ParsePrefix("::/0")
	assert.True(t, IsDefaultRoute(p))
	p, _ = ParsePrefix("10.0.0.0/8")
	assert.False(t, IsDefaultRoute(p))
}
