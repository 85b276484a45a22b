package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Active Directory stores objectGUID as 16 bytes with the first three
// groups little-endian (Microsoft's mixed-endian layout), while the string
// form reads big-endian. The helpers below reorder between the two.

// IsValidGUID reports whether s parses as a GUID in hyphenated, braced or
// compact hex form.
func IsValidGUID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// NormalizeGUID parses s and returns the canonical lowercase hyphenated form.
func NormalizeGUID(s string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return id.String(), nil
}

// GUIDStringToBytes converts a GUID string to Active Directory's binary layout.
func GUIDStringToBytes(s string) ([]byte, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}

	b := make([]byte, 16)
	copy(b, id[:])
	reorderGUIDBytes(b)
	return b, nil
}

// GUIDBytesToString converts Active Directory binary GUID data to the
// canonical hyphenated string form.
func GUIDBytesToString(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("binary GUID must be 16 bytes, got %d", len(b))
	}

	tmp := make([]byte, 16)
	copy(tmp, b)
	reorderGUIDBytes(tmp)

	id, err := uuid.FromBytes(tmp)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// reorderGUIDBytes swaps between RFC 4122 byte order and the mixed-endian
// layout Active Directory uses on the wire. The transform is its own inverse:
// the first three groups are byte-reversed, the last eight bytes keep order.
func reorderGUIDBytes(b []byte) {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
}

// GUIDSearchFilter renders an equality filter matching the binary form of
// the given GUID string, escaped for safe inclusion in a search filter.
func GUIDSearchFilter(attribute, guid string) (string, error) {
	guidBytes, err := GUIDStringToBytes(guid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(string(guidBytes))), nil
}
