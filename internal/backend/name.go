package backend

import (
	"fmt"
	"regexp"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_=+.-]{1,15}$`)

// ValidateName reports whether name can be used as an interface name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid tunnel name %q: must be 1-15 characters of [a-zA-Z0-9_=+.-]", name)
	}
	return nil
}
