package ldap

import "fmt"

// FieldRole tags the special function a mapped field serves during mapping
// and resolution.
type FieldRole int

const (
	RoleNone              FieldRole = iota
	RoleAccountName                 // login/lookup name
	RoleIdentity                    // stable identifier (SID, uidNumber)
	RoleDistinguishedName           // filled from the entry's own DN
	RoleGroupList                   // multi-valued membership list
	RolePrimaryGroup                // raw primary-group value
)

// String returns a human-readable role name.
func (r FieldRole) String() string {
	switch r {
	case RoleAccountName:
		return "account-name"
	case RoleIdentity:
		return "identity"
	case RoleDistinguishedName:
		return "distinguished-name"
	case RoleGroupList:
		return "group-list"
	case RolePrimaryGroup:
		return "primary-group"
	default:
		return "none"
	}
}

// Converter transforms raw attribute values into the canonical strings a
// FieldSetter accepts. A nil converter means ConvertRawString.
type Converter func(values [][]byte) ([]string, error)

// AttributeMapping binds one object field to one directory attribute.
type AttributeMapping struct {
	Field     string    // target field identifier
	Attribute string    // directory attribute name
	Convert   Converter // nil for raw string values
	Role      FieldRole // special function, RoleNone for plain fields
}

// AttributeMap is an immutable set of field-to-attribute mappings for one
// target type under one schema. Maps are produced by AttributeMapBuilder;
// all queries return copies.
type AttributeMap struct {
	schema   string
	mappings []AttributeMapping
	byField  map[string]int
	byRole   map[FieldRole]int
}

// Schema returns the schema name the map was built for.
func (m *AttributeMap) Schema() string {
	return m.schema
}

// Mappings returns the registered mappings in registration order.
func (m *AttributeMap) Mappings() []AttributeMapping {
	return append([]AttributeMapping(nil), m.mappings...)
}

// Attribute returns the directory attribute mapped to field, or the empty
// string when the field is not mapped under this map's schema.
func (m *AttributeMap) Attribute(field string) string {
	if i, ok := m.byField[field]; ok {
		return m.mappings[i].Attribute
	}
	return ""
}

// Lookup returns the full mapping for field.
func (m *AttributeMap) Lookup(field string) (AttributeMapping, bool) {
	if i, ok := m.byField[field]; ok {
		return m.mappings[i], true
	}
	return AttributeMapping{}, false
}

// RoleMapping returns the mapping carrying the given role. Requesting a
// role no field is mapped with is an error.
func (m *AttributeMap) RoleMapping(role FieldRole) (AttributeMapping, error) {
	if i, ok := m.byRole[role]; ok {
		return m.mappings[i], nil
	}
	return AttributeMapping{}, NewValidationError("lookup attribute role",
		fmt.Sprintf("schema %s: no field mapped with role %s", m.schema, role))
}

// HasRole reports whether any field carries the given role.
func (m *AttributeMap) HasRole(role FieldRole) bool {
	_, ok := m.byRole[role]
	return ok
}

// AccountNameMapping returns the mapping tagged RoleAccountName.
func (m *AttributeMap) AccountNameMapping() (AttributeMapping, error) {
	return m.RoleMapping(RoleAccountName)
}

// IdentityMapping returns the mapping tagged RoleIdentity.
func (m *AttributeMap) IdentityMapping() (AttributeMapping, error) {
	return m.RoleMapping(RoleIdentity)
}

// DistinguishedNameMapping returns the mapping tagged RoleDistinguishedName.
func (m *AttributeMap) DistinguishedNameMapping() (AttributeMapping, error) {
	return m.RoleMapping(RoleDistinguishedName)
}

// GroupListMapping returns the mapping tagged RoleGroupList.
func (m *AttributeMap) GroupListMapping() (AttributeMapping, error) {
	return m.RoleMapping(RoleGroupList)
}

// PrimaryGroupMapping returns the mapping tagged RolePrimaryGroup.
func (m *AttributeMap) PrimaryGroupMapping() (AttributeMapping, error) {
	return m.RoleMapping(RolePrimaryGroup)
}

// MapOption refines a single field registration.
type MapOption func(*AttributeMapping)

// WithConverter attaches a value converter to the registration.
func WithConverter(c Converter) MapOption {
	return func(m *AttributeMapping) {
		m.Convert = c
	}
}

// WithRole tags the registration with a special role.
func WithRole(role FieldRole) MapOption {
	return func(m *AttributeMapping) {
		m.Role = role
	}
}

// AttributeMapBuilder assembles an AttributeMap through explicit
// registrations. Registering the same field again replaces the earlier
// registration in place, so callers can refine a stock map. Registration
// problems are reported collectively by Build.
type AttributeMapBuilder struct {
	schema   string
	mappings []AttributeMapping
}

// NewAttributeMapBuilder starts a builder for the named schema.
func NewAttributeMapBuilder(schema string) *AttributeMapBuilder {
	return &AttributeMapBuilder{schema: schema}
}

// Map registers "field maps to attribute", optionally refined with a
// converter or role.
func (b *AttributeMapBuilder) Map(field, attribute string, opts ...MapOption) *AttributeMapBuilder {
	mapping := AttributeMapping{Field: field, Attribute: attribute}
	for _, opt := range opts {
		opt(&mapping)
	}

	for i := range b.mappings {
		if b.mappings[i].Field == field {
			b.mappings[i] = mapping
			return b
		}
	}

	b.mappings = append(b.mappings, mapping)
	return b
}

// Build validates the registrations and produces the immutable map.
// Each role may be carried by at most one field.
func (b *AttributeMapBuilder) Build() (*AttributeMap, error) {
	if b.schema == "" {
		return nil, NewValidationError("build attribute map", "schema name must not be empty")
	}
	if len(b.mappings) == 0 {
		return nil, NewValidationError("build attribute map",
			fmt.Sprintf("schema %s: no fields mapped", b.schema))
	}

	m := &AttributeMap{
		schema:   b.schema,
		mappings: append([]AttributeMapping(nil), b.mappings...),
		byField:  make(map[string]int, len(b.mappings)),
		byRole:   make(map[FieldRole]int),
	}

	for i, mapping := range m.mappings {
		if mapping.Field == "" {
			return nil, NewValidationError("build attribute map",
				fmt.Sprintf("schema %s: field name must not be empty", b.schema))
		}
		if mapping.Attribute == "" {
			return nil, NewValidationError("build attribute map",
				fmt.Sprintf("schema %s: field %s has no attribute name", b.schema, mapping.Field))
		}

		m.byField[mapping.Field] = i

		if mapping.Role == RoleNone {
			continue
		}
		if other, dup := m.byRole[mapping.Role]; dup {
			return nil, NewValidationError("build attribute map",
				fmt.Sprintf("schema %s: role %s claimed by both %s and %s",
					b.schema, mapping.Role, m.mappings[other].Field, mapping.Field))
		}
		m.byRole[mapping.Role] = i
	}

	return m, nil
}

// DefaultUserAttributeMap returns the stock user attribute map for a
// built-in schema. Custom schemas need a caller-supplied map.
func DefaultUserAttributeMap(schema SchemaMapping) (*AttributeMap, error) {
	b := NewAttributeMapBuilder(schema.Name)

	switch schema.Name {
	case SchemaActiveDirectory:
		b.Map(FieldAccountName, "sAMAccountName", WithRole(RoleAccountName)).
			Map(FieldIdentity, "objectSid", WithRole(RoleIdentity), WithConverter(ConvertSID)).
			Map(FieldGUID, "objectGUID", WithConverter(ConvertGUID)).
			Map(FieldDistinguishedName, "distinguishedName", WithRole(RoleDistinguishedName)).
			Map(FieldUserPrincipalName, "userPrincipalName").
			Map(FieldDisplayName, "displayName").
			Map(FieldGivenName, "givenName").
			Map(FieldSurname, "sn").
			Map(FieldEmail, "mail").
			Map(FieldDescription, "description").
			Map(FieldEnabled, "userAccountControl", WithConverter(ConvertAccountEnabled)).
			Map(FieldWhenCreated, "whenCreated", WithConverter(ConvertGeneralizedTime)).
			Map(FieldWhenChanged, "whenChanged", WithConverter(ConvertGeneralizedTime)).
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList)).
			Map(FieldPrimaryGroup, "primaryGroupID", WithRole(RolePrimaryGroup))

	case SchemaPosix:
		b.Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
			Map(FieldIdentity, "uidNumber", WithRole(RoleIdentity)).
			Map(FieldDistinguishedName, "entryDN", WithRole(RoleDistinguishedName)).
			Map(FieldDisplayName, "cn").
			Map(FieldGivenName, "givenName").
			Map(FieldSurname, "sn").
			Map(FieldEmail, "mail").
			Map(FieldDescription, "description").
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList)).
			Map(FieldPrimaryGroup, "gidNumber", WithRole(RolePrimaryGroup))

	case SchemaIDMU:
		b.Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
			Map(FieldIdentity, "uidNumber", WithRole(RoleIdentity)).
			Map(FieldDistinguishedName, "distinguishedName", WithRole(RoleDistinguishedName)).
			Map(FieldUserPrincipalName, "userPrincipalName").
			Map(FieldDisplayName, "displayName").
			Map(FieldGivenName, "givenName").
			Map(FieldSurname, "sn").
			Map(FieldEmail, "mail").
			Map(FieldDescription, "description").
			Map(FieldEnabled, "userAccountControl", WithConverter(ConvertAccountEnabled)).
			Map(FieldWhenCreated, "whenCreated", WithConverter(ConvertGeneralizedTime)).
			Map(FieldWhenChanged, "whenChanged", WithConverter(ConvertGeneralizedTime)).
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList)).
			Map(FieldPrimaryGroup, "gidNumber", WithRole(RolePrimaryGroup))

	default:
		return nil, NewValidationError("build attribute map",
			fmt.Sprintf("no stock user attribute map for schema %q; supply one explicitly", schema.Name))
	}

	return b.Build()
}

// DefaultGroupAttributeMap returns the stock group attribute map for a
// built-in schema. Custom schemas need a caller-supplied map.
func DefaultGroupAttributeMap(schema SchemaMapping) (*AttributeMap, error) {
	b := NewAttributeMapBuilder(schema.Name)

	switch schema.Name {
	case SchemaActiveDirectory:
		b.Map(FieldAccountName, "sAMAccountName", WithRole(RoleAccountName)).
			Map(FieldIdentity, "objectSid", WithRole(RoleIdentity), WithConverter(ConvertSID)).
			Map(FieldDistinguishedName, "distinguishedName", WithRole(RoleDistinguishedName)).
			Map(FieldDescription, "description").
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList))

	case SchemaPosix:
		b.Map(FieldAccountName, "cn", WithRole(RoleAccountName)).
			Map(FieldIdentity, "gidNumber", WithRole(RoleIdentity)).
			Map(FieldDistinguishedName, "entryDN", WithRole(RoleDistinguishedName)).
			Map(FieldDescription, "description").
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList))

	case SchemaIDMU:
		b.Map(FieldAccountName, "cn", WithRole(RoleAccountName)).
			Map(FieldIdentity, "gidNumber", WithRole(RoleIdentity)).
			Map(FieldDistinguishedName, "distinguishedName", WithRole(RoleDistinguishedName)).
			Map(FieldDescription, "description").
			Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList))

	default:
		return nil, NewValidationError("build attribute map",
			fmt.Sprintf("no stock group attribute map for schema %q; supply one explicitly", schema.Name))
	}

	return b.Build()
}
