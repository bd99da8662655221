package address

import (
	"errors"
	"fmt"
	"strings"
)

// Separator divides the segments of an address.
const Separator = "/"

var (
	// ErrInvalidAddress is returned when a string cannot be normalized into an Address
	ErrInvalidAddress = errors.New("invalid address")
)

// Root is the address "/", the ancestor of every other address.
var Root = Address{path: Separator}

// Address is a normalized hierarchical path. The zero value is not a valid
// address; obtain one through Parse or MustParse.
type Address struct {
	path string
}

// Normalize returns the canonical textual form of s.
// A trailing slash is stripped except for the root itself.
func Normalize(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: address cannot be empty", ErrInvalidAddress)
	}
	if !strings.HasPrefix(s, Separator) {
		return "", fmt.Errorf("%w: %q must start with %q", ErrInvalidAddress, s, Separator)
	}
	if s == Separator {
		return s, nil
	}

	trimmed := strings.TrimSuffix(s, Separator)
	if strings.HasSuffix(trimmed, Separator) || strings.Contains(trimmed, "//") {
		return "", fmt.Errorf("%w: %q contains an empty segment", ErrInvalidAddress, s)
	}
	return trimmed, nil
}

// Parse normalizes s and returns it as an Address.
func Parse(s string) (Address, error) {
	normalized, err := Normalize(s)
	if err != nil {
		return Address{}, err
	}
	return Address{path: normalized}, nil
}

// MustParse is like Parse but panics on an invalid address.
// Intended for constants and tests.
func MustParse(s string) Address {
	addr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// IsValid reports whether s parses as an address.
func IsValid(s string) bool {
	_, err := Normalize(s)
	return err == nil
}

// String returns the normalized textual form.
func (a Address) String() string {
	return a.path
}

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool {
	return a.path == ""
}

// IsRoot reports whether a is "/".
func (a Address) IsRoot() bool {
	return a.path == Separator
}

// Segments returns the path segments from the root down. The root has none.
func (a Address) Segments() []string {
	if a.IsZero() || a.IsRoot() {
		return nil
	}
	return strings.Split(a.path[1:], Separator)
}

// Depth returns the number of segments.
func (a Address) Depth() int {
	return len(a.Segments())
}

// Parent returns the address one level up. The parent of the root is the root.
func (a Address) Parent() Address {
	if a.IsZero() || a.IsRoot() {
		return Root
	}
	idx := strings.LastIndex(a.path, Separator)
	if idx == 0 {
		return Root
	}
	return Address{path: a.path[:idx]}
}

// Child returns a with segment appended.
func (a Address) Child(segment string) (Address, error) {
	if segment == "" || strings.Contains(segment, Separator) {
		return Address{}, fmt.Errorf("%w: invalid segment %q", ErrInvalidAddress, segment)
	}
	if a.IsZero() || a.IsRoot() {
		return Address{path: Separator + segment}, nil
	}
	return Address{path: a.path + Separator + segment}, nil
}

// IsAncestorOf reports whether a lies on the path from the root to other,
// including a == other. A subscriber at a receives everything published at other.
func (a Address) IsAncestorOf(other Address) bool {
	if a.IsZero() || other.IsZero() {
		return false
	}
	if a.IsRoot() || a.path == other.path {
		return true
	}
	return strings.HasPrefix(other.path, a.path+Separator)
}
