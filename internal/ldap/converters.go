package ldap

import (
	"fmt"
	"strconv"
	"time"
)

// userAccountControl flags (subset relevant to account status).
const (
	UACAccountDisabled int32 = 0x00000002 // Account is disabled
	UACNormalAccount   int32 = 0x00000200 // Normal user account
)

// ConvertRawString is the default converter: attribute bytes become strings
// unchanged.
func ConvertRawString(values [][]byte) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out, nil
}

// ConvertSID renders binary security identifiers in S-1-... string form.
// Values already in string form pass through after validation, which keeps
// test fixtures and non-AD servers usable.
func ConvertSID(values [][]byte) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		if sidBinaryValid(v) {
			s, err := ConvertBinarySIDToString(v)
			if err != nil {
				return nil, err
			}
			out[i] = s
			continue
		}

		s := string(v)
		if err := ValidateSIDString(s); err != nil {
			return nil, fmt.Errorf("value is neither a binary nor a string SID: %w", err)
		}
		out[i] = s
	}
	return out, nil
}

// ConvertGUID renders binary objectGUID values in canonical hyphenated
// string form. Values already in string form are normalized.
func ConvertGUID(values [][]byte) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		if len(v) == 16 {
			s, err := GUIDBytesToString(v)
			if err != nil {
				return nil, err
			}
			out[i] = s
			continue
		}

		s, err := NormalizeGUID(string(v))
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// generalizedTimeLayouts lists accepted directory timestamp layouts:
// Active Directory emits fractional generalized time, RFC 4517 the plain
// form.
var generalizedTimeLayouts = []string{
	"20060102150405.0Z",
	"20060102150405Z",
}

// ConvertGeneralizedTime parses LDAP generalized-time values and renders
// them as RFC 3339 strings.
func ConvertGeneralizedTime(values [][]byte) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		t, err := parseGeneralizedTime(string(v))
		if err != nil {
			return nil, err
		}
		out[i] = t.Format(time.RFC3339)
	}
	return out, nil
}

func parseGeneralizedTime(v string) (time.Time, error) {
	for _, layout := range generalizedTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized generalized-time value %q", v)
}

// ConvertAccountEnabled derives a boolean from Active Directory's
// userAccountControl bitmask: the account is enabled when the
// ACCOUNTDISABLE bit is clear.
func ConvertAccountEnabled(values [][]byte) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		uac, err := strconv.ParseInt(string(v), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid userAccountControl value %q: %w", string(v), err)
		}
		out[i] = strconv.FormatBool(uac&int64(UACAccountDisabled) == 0)
	}
	return out, nil
}
