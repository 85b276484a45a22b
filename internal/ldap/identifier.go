package ldap

import (
	"regexp"
	"strings"
)

// IdentifierType represents the detected format of an identifier string.
type IdentifierType int

const (
	IdentifierTypeUnknown     IdentifierType = iota
	IdentifierTypeDN                         // Distinguished Name
	IdentifierTypeGUID                       // Globally Unique Identifier
	IdentifierTypeSID                        // Security Identifier
	IdentifierTypeUPN                        // User Principal Name
	IdentifierTypeAccountName                // Plain or DOMAIN\qualified account name
)

// String returns the string representation of the identifier type.
func (i IdentifierType) String() string {
	switch i {
	case IdentifierTypeDN:
		return "DN"
	case IdentifierTypeGUID:
		return "GUID"
	case IdentifierTypeSID:
		return "SID"
	case IdentifierTypeUPN:
		return "UPN"
	case IdentifierTypeAccountName:
		return "AccountName"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (i IdentifierType) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Regular expressions for identifier format detection.
var (
	// DN format: CN=User,OU=Users,DC=example,DC=com.
	dnRegex = regexp.MustCompile(`^(?i)(CN|OU|DC|O|C|UID|STREET|L|ST|POSTALCODE)=.+`)

	// SID format: S-1-5-21-domain-rid or S-1-5-32-alias.
	sidRegex = regexp.MustCompile(`^S-1-\d+(-\d+)*$`)

	// UPN format: user@domain.com.
	upnRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	// Account name format: DOMAIN\username or just username.
	accountNameRegex = regexp.MustCompile(`^([^\\@\s]+\\)?[^\\@\s]+$`)
)

// DetectIdentifierType analyzes an identifier string and determines its type.
// Detection runs from most to least specific so that, for example, a DN that
// happens to contain an "@" is not mistaken for a UPN.
func DetectIdentifierType(identifier string) IdentifierType {
	if identifier == "" {
		return IdentifierTypeUnknown
	}

	identifier = strings.TrimSpace(identifier)

	if dnRegex.MatchString(identifier) {
		return IdentifierTypeDN
	}

	if IsValidGUID(identifier) {
		return IdentifierTypeGUID
	}

	if sidRegex.MatchString(identifier) {
		return IdentifierTypeSID
	}

	if upnRegex.MatchString(identifier) {
		return IdentifierTypeUPN
	}

	if accountNameRegex.MatchString(identifier) {
		return IdentifierTypeAccountName
	}

	return IdentifierTypeUnknown
}

// splitAccountName strips an optional DOMAIN\ qualifier from an account name.
func splitAccountName(name string) string {
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
