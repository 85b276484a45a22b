package ldap

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Standard claim types emitted by the stock claims map.
const (
	ClaimTypeSubject           = "sub"
	ClaimTypeName              = "name"
	ClaimTypePreferredUsername = "preferred_username"
	ClaimTypeUPN               = "upn"
	ClaimTypeEmail             = "email"
	ClaimTypeGivenName         = "given_name"
	ClaimTypeFamilyName        = "family_name"
	ClaimTypeDisplayName       = "display_name"
	ClaimTypeGroup             = "groups"
	ClaimTypePrimaryGroup      = "primary_group"
)

// Claim is a single typed assertion about an authenticated identity.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ClaimFilter decides whether a produced claim is included. A nil filter
// includes everything. Filters bound claim-set size for principals in
// very many groups.
type ClaimFilter func(Claim) bool

// ClaimsMapping fans one source field out to zero or more claim types.
// A field mapped to two claim types yields two claims per value, equal
// in value and differing only in type.
type ClaimsMapping struct {
	Field      string
	ClaimTypes []string
}

// ClaimsMap describes how identity fields and resolved memberships become
// claims. Maps are produced by ClaimsMapBuilder and immutable afterwards.
type ClaimsMap struct {
	mappings          []ClaimsMapping
	groupTypes        []string
	primaryGroupTypes []string
}

// Mappings returns the field mappings in registration order.
func (m *ClaimsMap) Mappings() []ClaimsMapping {
	return append([]ClaimsMapping(nil), m.mappings...)
}

// GroupClaimTypes returns the claim types emitted once per resolved group.
func (m *ClaimsMap) GroupClaimTypes() []string {
	return append([]string(nil), m.groupTypes...)
}

// PrimaryGroupClaimTypes returns the claim types emitted for the resolved
// primary group.
func (m *ClaimsMap) PrimaryGroupClaimTypes() []string {
	return append([]string(nil), m.primaryGroupTypes...)
}

// ClaimsMapBuilder assembles a ClaimsMap through explicit registrations.
// Registering the same field again replaces the earlier registration.
type ClaimsMapBuilder struct {
	mappings          []ClaimsMapping
	groupTypes        []string
	primaryGroupTypes []string
}

// NewClaimsMapBuilder starts an empty builder.
func NewClaimsMapBuilder() *ClaimsMapBuilder {
	return &ClaimsMapBuilder{}
}

// Claim registers "field fans out to claimTypes". A field registered with
// no claim types produces no claims, which is legal.
func (b *ClaimsMapBuilder) Claim(field string, claimTypes ...string) *ClaimsMapBuilder {
	mapping := ClaimsMapping{Field: field, ClaimTypes: append([]string(nil), claimTypes...)}

	for i := range b.mappings {
		if b.mappings[i].Field == field {
			b.mappings[i] = mapping
			return b
		}
	}

	b.mappings = append(b.mappings, mapping)
	return b
}

// GroupClaim sets the claim types emitted once per resolved group.
func (b *ClaimsMapBuilder) GroupClaim(claimTypes ...string) *ClaimsMapBuilder {
	b.groupTypes = append([]string(nil), claimTypes...)
	return b
}

// PrimaryGroupClaim sets the claim types emitted for the primary group.
func (b *ClaimsMapBuilder) PrimaryGroupClaim(claimTypes ...string) *ClaimsMapBuilder {
	b.primaryGroupTypes = append([]string(nil), claimTypes...)
	return b
}

// Build validates the registrations and produces the immutable map.
func (b *ClaimsMapBuilder) Build() (*ClaimsMap, error) {
	for _, mapping := range b.mappings {
		if mapping.Field == "" {
			return nil, NewValidationError("build claims map", "field name must not be empty")
		}
		for _, claimType := range mapping.ClaimTypes {
			if claimType == "" {
				return nil, NewValidationError("build claims map",
					fmt.Sprintf("field %s: claim type must not be empty", mapping.Field))
			}
		}
	}
	for _, claimType := range b.groupTypes {
		if claimType == "" {
			return nil, NewValidationError("build claims map", "group claim type must not be empty")
		}
	}
	for _, claimType := range b.primaryGroupTypes {
		if claimType == "" {
			return nil, NewValidationError("build claims map", "primary-group claim type must not be empty")
		}
	}

	return &ClaimsMap{
		mappings:          append([]ClaimsMapping(nil), b.mappings...),
		groupTypes:        append([]string(nil), b.groupTypes...),
		primaryGroupTypes: append([]string(nil), b.primaryGroupTypes...),
	}, nil
}

// DefaultClaimsMap returns the stock OIDC-flavoured claims map.
func DefaultClaimsMap() *ClaimsMap {
	m, err := NewClaimsMapBuilder().
		Claim(FieldIdentity, ClaimTypeSubject).
		Claim(FieldAccountName, ClaimTypeName, ClaimTypePreferredUsername).
		Claim(FieldUserPrincipalName, ClaimTypeUPN).
		Claim(FieldEmail, ClaimTypeEmail).
		Claim(FieldGivenName, ClaimTypeGivenName).
		Claim(FieldSurname, ClaimTypeFamilyName).
		Claim(FieldDisplayName, ClaimTypeDisplayName).
		GroupClaim(ClaimTypeGroup).
		PrimaryGroupClaim(ClaimTypePrimaryGroup).
		Build()
	if err != nil {
		// The stock registrations are static and always valid.
		panic(err)
	}
	return m
}

// ClaimsBuilder derives claims from typed objects.
type ClaimsBuilder struct {
	claims *ClaimsMap
	filter ClaimFilter
}

// NewClaimsBuilder returns a ClaimsBuilder over the given map. filter may
// be nil to include every claim.
func NewClaimsBuilder(claims *ClaimsMap, filter ClaimFilter) *ClaimsBuilder {
	return &ClaimsBuilder{claims: claims, filter: filter}
}

// GetClaims fans the object's field values out to claims in registration
// order. Fields with no values produce no claims.
func (b *ClaimsBuilder) GetClaims(obj FieldGetter) []Claim {
	var claims []Claim
	for _, mapping := range b.claims.mappings {
		for _, value := range obj.GetField(mapping.Field) {
			claims = b.appendClaims(claims, mapping.ClaimTypes, value)
		}
	}
	return claims
}

// GetUserClaims returns the user's field claims followed by primary-group
// and group claims. The primary group is counted among the group claims;
// duplicates arising from overlapping membership paths are preserved.
func (b *ClaimsBuilder) GetUserClaims(user *User) []Claim {
	claims := b.GetClaims(user)

	if user.PrimaryGroup != nil {
		claims = b.appendClaims(claims, b.claims.primaryGroupTypes, user.PrimaryGroup.AccountName)
		claims = b.appendClaims(claims, b.claims.groupTypes, user.PrimaryGroup.AccountName)
	}
	for _, group := range user.Groups {
		claims = b.appendClaims(claims, b.claims.groupTypes, group.AccountName)
	}

	return claims
}

func (b *ClaimsBuilder) appendClaims(claims []Claim, claimTypes []string, value string) []Claim {
	if value == "" {
		return claims
	}
	for _, claimType := range claimTypes {
		claim := Claim{Type: claimType, Value: value}
		if b.filter != nil && !b.filter(claim) {
			continue
		}
		claims = append(claims, claim)
	}
	return claims
}

// ClaimsMapper derives claims directly from raw directory entries, without
// materializing a typed object first. Field values pass through the
// attribute map's converters; membership claims carry the raw membership
// identifiers (usually distinguished names) since no group resolution is
// performed.
type ClaimsMapper struct {
	claims *ClaimsMap
	attrs  *AttributeMap
	filter ClaimFilter
	logger zerolog.Logger
}

// NewClaimsMapper returns a ClaimsMapper resolving fields to attributes
// through attrs. filter may be nil to include every claim.
func NewClaimsMapper(claims *ClaimsMap, attrs *AttributeMap, filter ClaimFilter, logger zerolog.Logger) *ClaimsMapper {
	return &ClaimsMapper{claims: claims, attrs: attrs, filter: filter, logger: logger}
}

// GetClaims fans the entry's attribute values out to claims in
// registration order, then appends one group claim per membership value.
// Fields not mapped under the attribute map's schema are skipped.
func (m *ClaimsMapper) GetClaims(entry *ldap.Entry) []Claim {
	var claims []Claim

	for _, mapping := range m.claims.mappings {
		for _, value := range m.fieldValues(entry, mapping.Field) {
			claims = m.appendClaims(claims, mapping.ClaimTypes, value)
		}
	}

	if group, err := m.attrs.GroupListMapping(); err == nil {
		for _, value := range entry.GetAttributeValues(group.Attribute) {
			claims = m.appendClaims(claims, m.claims.groupTypes, value)
		}
	}

	return claims
}

func (m *ClaimsMapper) fieldValues(entry *ldap.Entry, field string) []string {
	mapping, ok := m.attrs.Lookup(field)
	if !ok {
		return nil
	}
	if mapping.Role == RoleDistinguishedName {
		if entry.DN == "" {
			return nil
		}
		return []string{entry.DN}
	}

	raw := entry.GetRawAttributeValues(mapping.Attribute)
	if len(raw) == 0 {
		return nil
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
			Str("field", field).
			Msg("Skipping malformed attribute value")
		return nil
	}
	return values
}

func (m *ClaimsMapper) appendClaims(claims []Claim, claimTypes []string, value string) []Claim {
	if value == "" {
		return claims
	}
	for _, claimType := range claimTypes {
		claim := Claim{Type: claimType, Value: value}
		if m.filter != nil && !m.filter(claim) {
			continue
		}
		claims = append(claims, claim)
	}
	return claims
}
