package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeMapBuilder_Build(t *testing.T) {
	m, err := NewAttributeMapBuilder("Custom").
		Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
		Map(FieldIdentity, "uidNumber", WithRole(RoleIdentity)).
		Map(FieldEmail, "mail").
		Build()
	require.NoError(t, err)

	assert.Equal(t, "Custom", m.Schema())
	assert.Equal(t, "uid", m.Attribute(FieldAccountName))
	assert.Equal(t, "mail", m.Attribute(FieldEmail))
	assert.Equal(t, "", m.Attribute(FieldDisplayName), "unmapped fields resolve to an empty attribute")

	mapping, ok := m.Lookup(FieldIdentity)
	require.True(t, ok)
	assert.Equal(t, "uidNumber", mapping.Attribute)
	assert.Equal(t, RoleIdentity, mapping.Role)

	_, ok = m.Lookup(FieldDisplayName)
	assert.False(t, ok)
}

func TestAttributeMapBuilder_ReplacesEarlierRegistration(t *testing.T) {
	m, err := NewAttributeMapBuilder("Custom").
		Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
		Map(FieldEmail, "mail").
		Map(FieldAccountName, "cn", WithRole(RoleAccountName)).
		Build()
	require.NoError(t, err)

	mappings := m.Mappings()
	require.Len(t, mappings, 2)
	assert.Equal(t, FieldAccountName, mappings[0].Field, "re-registration keeps the original position")
	assert.Equal(t, "cn", mappings[0].Attribute)
	assert.Equal(t, FieldEmail, mappings[1].Field)
}

func TestAttributeMapBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (*AttributeMap, error)
	}{
		{
			name: "empty schema name",
			build: func() (*AttributeMap, error) {
				return NewAttributeMapBuilder("").Map(FieldAccountName, "uid").Build()
			},
		},
		{
			name: "no registrations",
			build: func() (*AttributeMap, error) {
				return NewAttributeMapBuilder("Custom").Build()
			},
		},
		{
			name: "empty field name",
			build: func() (*AttributeMap, error) {
				return NewAttributeMapBuilder("Custom").Map("", "uid").Build()
			},
		},
		{
			name: "empty attribute name",
			build: func() (*AttributeMap, error) {
				return NewAttributeMapBuilder("Custom").Map(FieldAccountName, "").Build()
			},
		},
		{
			name: "role claimed twice",
			build: func() (*AttributeMap, error) {
				return NewAttributeMapBuilder("Custom").
					Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
					Map(FieldDisplayName, "cn", WithRole(RoleAccountName)).
					Build()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build()
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestAttributeMap_RoleLookups(t *testing.T) {
	m, err := NewAttributeMapBuilder("Custom").
		Map(FieldAccountName, "uid", WithRole(RoleAccountName)).
		Map(FieldMemberOf, "memberOf", WithRole(RoleGroupList)).
		Build()
	require.NoError(t, err)

	mapping, err := m.AccountNameMapping()
	require.NoError(t, err)
	assert.Equal(t, "uid", mapping.Attribute)

	mapping, err = m.GroupListMapping()
	require.NoError(t, err)
	assert.Equal(t, "memberOf", mapping.Attribute)

	assert.True(t, m.HasRole(RoleAccountName))
	assert.False(t, m.HasRole(RoleIdentity))

	// Roles nothing was registered under are lookup errors.
	_, err = m.IdentityMapping()
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.ErrorContains(t, err, "no field mapped with role identity")

	_, err = m.PrimaryGroupMapping()
	assert.Error(t, err)
}

func TestAttributeMap_MappingsReturnsCopy(t *testing.T) {
	m, err := NewAttributeMapBuilder("Custom").
		Map(FieldAccountName, "uid").
		Build()
	require.NoError(t, err)

	mappings := m.Mappings()
	mappings[0].Attribute = "tampered"

	assert.Equal(t, "uid", m.Attribute(FieldAccountName))
}

func TestDefaultUserAttributeMap(t *testing.T) {
	tests := []struct {
		schema       string
		accountName  string
		identity     string
		hasGUID      bool
		hasEnabled   bool
		primaryGroup string
	}{
		{
			schema:       SchemaActiveDirectory,
			accountName:  "sAMAccountName",
			identity:     "objectSid",
			hasGUID:      true,
			hasEnabled:   true,
			primaryGroup: "primaryGroupID",
		},
		{
			schema:       SchemaPosix,
			accountName:  "uid",
			identity:     "uidNumber",
			primaryGroup: "gidNumber",
		},
		{
			schema:       SchemaIDMU,
			accountName:  "uid",
			identity:     "uidNumber",
			hasEnabled:   true,
			primaryGroup: "gidNumber",
		},
	}

	for _, tt := range tests {
		t.Run(tt.schema, func(t *testing.T) {
			schema, err := DefaultSchemaTable().Lookup(tt.schema)
			require.NoError(t, err)

			m, err := DefaultUserAttributeMap(schema)
			require.NoError(t, err)

			assert.Equal(t, tt.accountName, m.Attribute(FieldAccountName))
			assert.Equal(t, tt.identity, m.Attribute(FieldIdentity))
			assert.Equal(t, tt.primaryGroup, m.Attribute(FieldPrimaryGroup))
			assert.Equal(t, tt.hasGUID, m.Attribute(FieldGUID) != "")
			assert.Equal(t, tt.hasEnabled, m.Attribute(FieldEnabled) != "")

			// Every stock map carries the role set group resolution needs.
			for _, role := range []FieldRole{RoleAccountName, RoleIdentity, RoleDistinguishedName, RoleGroupList, RolePrimaryGroup} {
				assert.True(t, m.HasRole(role), "schema %s missing role %s", tt.schema, role)
			}
		})
	}
}

func TestDefaultUserAttributeMap_UnknownSchema(t *testing.T) {
	_, err := DefaultUserAttributeMap(SchemaMapping{Name: "Custom"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "no stock user attribute map")
}

func TestDefaultGroupAttributeMap(t *testing.T) {
	schema, err := DefaultSchemaTable().Lookup(SchemaActiveDirectory)
	require.NoError(t, err)

	m, err := DefaultGroupAttributeMap(schema)
	require.NoError(t, err)

	assert.Equal(t, "sAMAccountName", m.Attribute(FieldAccountName))
	assert.Equal(t, "objectSid", m.Attribute(FieldIdentity))
	assert.Equal(t, "memberOf", m.Attribute(FieldMemberOf))
	assert.True(t, m.HasRole(RoleGroupList))
	assert.True(t, m.HasRole(RoleDistinguishedName))
}

func TestDefaultGroupAttributeMap_UnknownSchema(t *testing.T) {
	_, err := DefaultGroupAttributeMap(SchemaMapping{Name: "Custom"})
	assert.Error(t, err)
}

func TestFieldRole_String(t *testing.T) {
	tests := []struct {
		role FieldRole
		want string
	}{
		{RoleNone, "none"},
		{RoleAccountName, "account-name"},
		{RoleIdentity, "identity"},
		{RoleDistinguishedName, "distinguished-name"},
		{RoleGroupList, "group-list"},
		{RolePrimaryGroup, "primary-group"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.role.String())
	}
}
