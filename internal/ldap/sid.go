package ldap

import (
	"fmt"

	"github.com/bwmarrin/go-objectsid"
)

// Active Directory stores objectSid as binary data; the application side
// wants the S-1-5-21-... string spelling.

// ConvertBinarySIDToString converts a binary SID to its string representation.
func ConvertBinarySIDToString(binarySID []byte) (string, error) {
	if len(binarySID) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}
	if !sidBinaryValid(binarySID) {
		return "", fmt.Errorf("malformed binary SID (%d bytes)", len(binarySID))
	}

	sid := objectsid.Decode(binarySID)

	return sid.String(), nil
}

// sidBinaryValid reports whether b has the shape of a binary SID: revision,
// sub-authority count, 6-byte authority, then count 32-bit sub-authorities.
func sidBinaryValid(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	return len(b) == 8+4*int(b[1])
}

// ValidateSIDString validates that a string is a properly formatted SID.
func ValidateSIDString(sidString string) error {
	if sidString == "" {
		return fmt.Errorf("SID string cannot be empty")
	}

	if !sidRegex.MatchString(sidString) {
		return fmt.Errorf("invalid SID format: %q", sidString)
	}

	return nil
}
