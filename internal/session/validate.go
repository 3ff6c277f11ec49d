package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLen bounds session names; a name becomes a directory and a log field.
const MaxNameLen = 64

// Names start with a letter or digit so they never read as a CLI flag.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that name is usable as a session directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("session name is empty")
	case len(name) > MaxNameLen:
		return fmt.Errorf("session name %q is longer than %d characters", name, MaxNameLen)
	case !namePattern.MatchString(name):
		return fmt.Errorf("invalid session name %q: use a-z, 0-9, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}
