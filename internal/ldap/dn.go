package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDNCase normalizes the attribute type descriptors in a Distinguished Name
// to uppercase to match Active Directory's canonical format.
//
// Input:  "cn=john,ou=users,dc=example,dc=com"
// Output: "CN=john,OU=users,DC=example,DC=com"
func NormalizeDNCase(dn string) (string, error) {
	if dn == "" {
		return "", nil
	}

	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	// Parse DN using go-ldap library for proper RFC 4514 handling
	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return reconstructDNWithUppercaseTypes(parsedDN), nil
}

// reconstructDNWithUppercaseTypes rebuilds a DN from parsed components
// with attribute type descriptors in uppercase.
func reconstructDNWithUppercaseTypes(parsedDN *ldap.DN) string {
	var rdnStrings []string

	for _, rdn := range parsedDN.RDNs {
		var attrStrings []string

		for _, attr := range rdn.Attributes {
			attrType := strings.ToUpper(attr.Type)
			attrStrings = append(attrStrings, fmt.Sprintf("%s=%s", attrType, attr.Value))
		}

		// Join multiple attributes in the same RDN with "+"
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}

	return strings.Join(rdnStrings, ",")
}

// canonicalDN folds a DN into a stable comparison key: parsed, reassembled
// and lowercased. Directory DNs are case-insensitive, and membership lists
// routinely mix spellings of the same group DN, so the group resolver's
// visited set is keyed by this form. A DN that fails to parse falls back to
// its trimmed, lowercased raw spelling.
func canonicalDN(dn string) string {
	normalized, err := NormalizeDNCase(dn)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(dn))
	}
	return strings.ToLower(normalized)
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}

	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}

	return nil
}

// ExtractRDNValue extracts the value of the first RDN component with the specified attribute type.
// For example, extracting "CN" from "CN=John Doe,OU=Users,DC=example,DC=com" returns "John Doe".
func ExtractRDNValue(dn, attrType string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	normalizedAttrType := strings.ToUpper(attrType)

	for _, rdn := range parsedDN.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.ToUpper(attr.Type) == normalizedAttrType {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type '%s' not found in DN '%s'", attrType, dn)
}
