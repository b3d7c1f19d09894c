package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HardenedOffset marks a hardened BIP-32 child index.
const HardenedOffset uint32 = 0x80000000

// DefaultPath is the derivation path used when none is configured.
const DefaultPath = "m/10011'/0'"

// ErrInvalidPath is returned for malformed derivation paths.
var ErrInvalidPath = errors.New("invalid derivation path")

// Path is a BIP-32 derivation path as a list of child indices.
type Path []uint32

// ParsePath parses paths of the form m/10011'/0' or m/44h/0h/0.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "/")
	if len(parts) == 0 || (parts[0] != "m" && parts[0] != "M") {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath, s)
	}

	path := make(Path, 0, len(parts)-1)

	for _, part := range parts[1:] {
		hardened := false

		switch {
		case strings.HasSuffix(part, "'"), strings.HasSuffix(part, "h"), strings.HasSuffix(part, "H"):
			hardened = true
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: element %q: %w", ErrInvalidPath, part, err)
		}

		if uint32(index) >= HardenedOffset {
			return nil, fmt.Errorf("%w: element %q out of range", ErrInvalidPath, part)
		}

		if hardened {
			index += uint64(HardenedOffset)
		}

		path = append(path, uint32(index))
	}

	return path, nil
}

// MustParsePath is ParsePath for constant inputs.
func MustParsePath(s string) Path {
	path, err := ParsePath(s)
	if err != nil {
		panic(err)
	}

	return path
}

// String renders the path with ' as hardened marker.
func (p Path) String() string {
	var sb strings.Builder

	sb.WriteString("m")

	for _, index := range p {
		sb.WriteByte('/')

		if index >= HardenedOffset {
			sb.WriteString(strconv.FormatUint(uint64(index-HardenedOffset), 10))
			sb.WriteByte('\'')

			continue
		}

		sb.WriteString(strconv.FormatUint(uint64(index), 10))
	}

	return sb.String()
}

// Equal reports whether both paths address the same node.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}

	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}
