package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateID checks that a session id conforms to naming rules.
func ValidateID(id string) error {
	if !nameRegexp.MatchString(id) {
		return fmt.Errorf("invalid session id %q: must match ^[a-z0-9_-]{1,64}$", id)
	}
	return nil
}
