package encryption

import (
	"fmt"
	"strings"
)

// Scheme selects how file content is enciphered.
type Scheme string

const (
	// SchemeOnboard runs every padded chunk through the device's keyed transform.
	SchemeOnboard Scheme = "Onboard"
	// SchemeExtended uses AES-256-GCM under a key derived from device public material.
	SchemeExtended Scheme = "Extended"
	// SchemeDeterministic uses AES-SIV under a key derived from device public material.
	SchemeDeterministic Scheme = "Deterministic"
)

// ParseScheme accepts scheme names case-insensitively.
func ParseScheme(s string) (Scheme, error) {
	for _, scheme := range []Scheme{SchemeOnboard, SchemeExtended, SchemeDeterministic} {
		if strings.EqualFold(s, string(scheme)) {
			return scheme, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, s)
}

// usesDevice reports whether content bytes go through the device.
func (s Scheme) usesDevice() bool { return s == SchemeOnboard }

// KDF names how local keys are derived from device public material.
type KDF string

const (
	// KDFLegacy takes the first 32 characters of the hex public key as the key.
	KDFLegacy KDF = "legacy"
	// KDFHKDF runs HKDF-SHA256 over the raw public key.
	KDFHKDF KDF = "hkdf"
)

// Format selects the header variant.
type Format string

const (
	// FormatLine is a hex digest followed by a newline.
	FormatLine Format = "line"
	// FormatStructured is a length-prefixed JSON record followed by fixed fields.
	FormatStructured Format = "structured"
)
