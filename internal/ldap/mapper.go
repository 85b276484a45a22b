package ldap

import (
	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// EntryMapper assigns directory entry attributes onto a typed object.
// Implementations are stateless and safe for concurrent use.
type EntryMapper interface {
	// Assign maps the entry's attributes onto target. Attributes absent
	// from the entry are skipped. A malformed value fails only its own
	// field: the failure is logged and the remaining fields are still
	// assigned.
	Assign(entry *ldap.Entry, target FieldSetter)

	// RequiredAttributes returns the attribute names the mapper reads,
	// deduplicated, for use in search requests.
	RequiredAttributes() []string
}

// attributeMapper is the stock EntryMapper driven by an AttributeMap.
type attributeMapper struct {
	attrs  *AttributeMap
	logger zerolog.Logger
}

// NewEntryMapper returns an EntryMapper that assigns fields according to
// the given attribute map.
func NewEntryMapper(attrs *AttributeMap, logger zerolog.Logger) EntryMapper {
	return &attributeMapper{attrs: attrs, logger: logger}
}

func (m *attributeMapper) Assign(entry *ldap.Entry, target FieldSetter) {
	for _, mapping := range m.attrs.Mappings() {
		// The distinguished-name field always comes from the entry
		// envelope, not from a returned attribute.
		if mapping.Role == RoleDistinguishedName {
			if entry.DN == "" {
				continue
			}
			m.assign(entry, target, mapping, []string{entry.DN})
			continue
		}

		raw := entry.GetRawAttributeValues(mapping.Attribute)
		if len(raw) == 0 {
			continue
		}

		convert := mapping.Convert
		if convert == nil {
			convert = ConvertRawString
		}

		values, err := convert(raw)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("dn", entry.DN).
				Str("attribute", mapping.Attribute).
				Str("field", mapping.Field).
				Msg("Skipping malformed attribute value")
			continue
		}

		m.assign(entry, target, mapping, values)
	}
}

func (m *attributeMapper) assign(entry *ldap.Entry, target FieldSetter, mapping AttributeMapping, values []string) {
	if err := target.SetField(mapping.Field, values); err != nil {
		m.logger.Warn().
			Err(err).
			Str("dn", entry.DN).
			Str("attribute", mapping.Attribute).
			Str("field", mapping.Field).
			Msg("Skipping unassignable field")
	}
}

func (m *attributeMapper) RequiredAttributes() []string {
	mappings := m.attrs.Mappings()
	seen := make(map[string]struct{}, len(mappings))
	attrs := make([]string, 0, len(mappings))

	for _, mapping := range mappings {
		if _, ok := seen[mapping.Attribute]; ok {
			continue
		}
		seen[mapping.Attribute] = struct{}{}
		attrs = append(attrs, mapping.Attribute)
	}

	return attrs
}
