package sql

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxIdentifierLength fits every supported engine (Oracle caps at 30 bytes).
const MaxIdentifierLength = 30

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

	// ErrInvalidIdentifier is returned for names that cannot be used in DDL.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// ValidateIdentifier checks that a schema or user name is safe to splice into
// DDL, which cannot take bind parameters for object names.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidIdentifier, name, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter and contain only letters, digits and underscores", ErrInvalidIdentifier, name)
	}
	if result := CheckParameterForInjection("name", name); result != nil {
		return fmt.Errorf("%w: %q matches injection fingerprint %s", ErrInvalidIdentifier, name, result.Fingerprint)
	}
	return nil
}
