package ldap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Built-in schema identifiers.
const (
	SchemaActiveDirectory = "ActiveDirectory"
	SchemaPosix           = "Posix"
	SchemaIDMU            = "IDMU"
)

// filterPlaceholder marks the insertion point for the escaped search value
// in parameterized schema filters.
const filterPlaceholder = "{0}"

// SchemaMapping describes the attribute naming conventions and search
// filters of one directory schema flavor. Mappings are registered with a
// SchemaTable and passed around by value; callers cannot mutate the
// registered copy.
type SchemaMapping struct {
	// Name identifies the schema in configuration.
	Name string

	// DistinguishedNameAttribute is the attribute carrying an entry's DN,
	// also used to look up group entries by DN.
	DistinguishedNameAttribute string

	// GroupsAttribute is the multi-valued attribute listing the DNs of
	// groups an entry is a member of.
	GroupsAttribute string

	// PrimaryGroupAttribute is the user attribute holding the primary
	// group value (Active Directory's primaryGroupID, POSIX's gidNumber).
	PrimaryGroupAttribute string

	// PrimaryGroupIdentityAttribute is the group attribute matched against
	// the derived primary group identity.
	PrimaryGroupIdentityAttribute string

	// PrimaryGroupRelative marks schemas whose primary-group attribute
	// stores only a relative identifier that must be combined with the
	// domain portion of the user's own identity.
	PrimaryGroupRelative bool

	// UserFilter matches a single user by login name; contains {0}.
	UserFilter string

	// UsersFilter matches all human accounts; contains no placeholder.
	UsersFilter string

	// GroupFilter matches a single group by name; contains {0}.
	GroupFilter string

	// GroupIdentityFilter matches a single group by identity; contains {0}.
	GroupIdentityFilter string

	// RequiredGroupAttributes lists the attributes requested when resolving
	// group entries. Derived from the attribute names above when empty.
	RequiredGroupAttributes []string
}

// Validate checks the mapping for completeness. Filters must be non-empty,
// the single-entry filters must carry the {0} placeholder and the users
// filter must not.
func (s SchemaMapping) Validate() error {
	if s.Name == "" {
		return NewValidationError("validate schema", "schema name must not be empty")
	}

	attrs := map[string]string{
		"distinguished-name attribute":     s.DistinguishedNameAttribute,
		"groups attribute":                 s.GroupsAttribute,
		"primary-group attribute":          s.PrimaryGroupAttribute,
		"primary-group identity attribute": s.PrimaryGroupIdentityAttribute,
	}
	for desc, attr := range attrs {
		if attr == "" {
			return NewValidationError("validate schema",
				fmt.Sprintf("schema %s: %s must not be empty", s.Name, desc))
		}
	}

	placeholderFilters := map[string]string{
		"user filter":           s.UserFilter,
		"group filter":          s.GroupFilter,
		"group identity filter": s.GroupIdentityFilter,
	}
	for desc, filter := range placeholderFilters {
		if filter == "" {
			return NewValidationError("validate schema",
				fmt.Sprintf("schema %s: %s must not be empty", s.Name, desc))
		}
		if !strings.Contains(filter, filterPlaceholder) {
			return NewValidationError("validate schema",
				fmt.Sprintf("schema %s: %s must contain the %s placeholder", s.Name, desc, filterPlaceholder))
		}
	}

	if s.UsersFilter == "" {
		return NewValidationError("validate schema",
			fmt.Sprintf("schema %s: users filter must not be empty", s.Name))
	}
	if strings.Contains(s.UsersFilter, filterPlaceholder) {
		return NewValidationError("validate schema",
			fmt.Sprintf("schema %s: users filter must not contain the %s placeholder", s.Name, filterPlaceholder))
	}

	return nil
}

// GroupAttributes returns the attribute names a group search must request
// to resolve memberships. The returned slice is a copy.
func (s SchemaMapping) GroupAttributes() []string {
	if len(s.RequiredGroupAttributes) > 0 {
		return append([]string(nil), s.RequiredGroupAttributes...)
	}
	return []string{
		s.DistinguishedNameAttribute,
		s.GroupsAttribute,
		s.PrimaryGroupIdentityAttribute,
	}
}

// RenderUserFilter produces the single-user filter for a login name.
func (s SchemaMapping) RenderUserFilter(accountName string) string {
	return renderFilter(s.UserFilter, accountName)
}

// RenderGroupFilter produces the single-group filter for a group name.
func (s SchemaMapping) RenderGroupFilter(name string) string {
	return renderFilter(s.GroupFilter, name)
}

// RenderGroupIdentityFilter produces the single-group filter for a group identity.
func (s SchemaMapping) RenderGroupIdentityFilter(identity string) string {
	return renderFilter(s.GroupIdentityFilter, identity)
}

// UserAttributeFilter combines the users filter with an equality test on an
// arbitrary attribute, used for identity and DN lookups.
func (s SchemaMapping) UserAttributeFilter(attribute, value string) string {
	return fmt.Sprintf("(&%s(%s=%s))", s.UsersFilter, attribute, ldap.EscapeFilter(value))
}

// GroupByDNFilter matches a group entry by its distinguished name.
func (s SchemaMapping) GroupByDNFilter(dn string) string {
	return fmt.Sprintf("(%s=%s)", s.DistinguishedNameAttribute, ldap.EscapeFilter(dn))
}

// PrimaryGroupIdentity derives the primary group's identity from the raw
// primary-group attribute value. Schemas storing a relative identifier
// reconstruct the full identifier by replacing everything after the last
// separator of the user's own identity with the raw value:
//
//	S-1-5-21-1111-2222-3333-1104 + "513" -> S-1-5-21-1111-2222-3333-513
//
// Absolute schemas (POSIX gidNumber) return the raw value unchanged.
func (s SchemaMapping) PrimaryGroupIdentity(userIdentity, primaryGroupValue string) string {
	if !s.PrimaryGroupRelative {
		return primaryGroupValue
	}

	i := strings.LastIndex(userIdentity, "-")
	if i < 0 {
		return primaryGroupValue
	}
	return userIdentity[:i+1] + primaryGroupValue
}

// renderFilter substitutes the escaped value into a parameterized filter so
// special characters in the value cannot alter the filter structure.
func renderFilter(template, value string) string {
	return strings.ReplaceAll(template, filterPlaceholder, ldap.EscapeFilter(value))
}

// SchemaTable is an immutable registry of schema mappings keyed by name.
// It is built once at startup and threaded through constructors; lookups
// return copies.
type SchemaTable struct {
	mappings map[string]SchemaMapping
}

// DefaultSchemaTable returns a table holding only the built-in schemas.
func DefaultSchemaTable() *SchemaTable {
	table, _ := NewSchemaTable() // built-ins always validate
	return table
}

// NewSchemaTable builds a table from the built-in schemas plus any custom
// mappings. A custom mapping with a built-in's name replaces the built-in.
// Every custom mapping is validated eagerly.
func NewSchemaTable(custom ...SchemaMapping) (*SchemaTable, error) {
	mappings := make(map[string]SchemaMapping, len(builtinSchemas)+len(custom))
	for _, m := range builtinSchemas {
		mappings[m.Name] = m
	}

	for _, m := range custom {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		mappings[m.Name] = m
	}

	return &SchemaTable{mappings: mappings}, nil
}

// Lookup returns the mapping registered under name.
func (t *SchemaTable) Lookup(name string) (SchemaMapping, error) {
	mapping, ok := t.mappings[name]
	if !ok {
		return SchemaMapping{}, NewValidationError("lookup schema",
			fmt.Sprintf("schema %q not recognized (known schemas: %s)", name, strings.Join(t.Names(), ", ")))
	}
	return mapping, nil
}

// Names returns the registered schema names in sorted order.
func (t *SchemaTable) Names() []string {
	names := make([]string, 0, len(t.mappings))
	for name := range t.mappings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// builtinSchemas holds the schema mappings shipped with the package.
//
// The POSIX mapping assumes the memberOf overlay for user-side group lists;
// pure RFC 2307 deployments without it simply resolve no secondary groups.
// IDMU covers Active Directory forests carrying Unix attributes, keyed by
// numeric Unix identities instead of SIDs.
var builtinSchemas = []SchemaMapping{
	{
		Name:                          SchemaActiveDirectory,
		DistinguishedNameAttribute:    "distinguishedName",
		GroupsAttribute:               "memberOf",
		PrimaryGroupAttribute:         "primaryGroupID",
		PrimaryGroupIdentityAttribute: "objectSid",
		PrimaryGroupRelative:          true,
		UserFilter:                    "(&(objectClass=user)(objectCategory=person)(sAMAccountName={0}))",
		UsersFilter:                   "(&(objectClass=user)(objectCategory=person))",
		GroupFilter:                   "(&(objectClass=group)(sAMAccountName={0}))",
		GroupIdentityFilter:           "(&(objectClass=group)(objectSid={0}))",
	},
	{
		Name:                          SchemaPosix,
		DistinguishedNameAttribute:    "entryDN",
		GroupsAttribute:               "memberOf",
		PrimaryGroupAttribute:         "gidNumber",
		PrimaryGroupIdentityAttribute: "gidNumber",
		PrimaryGroupRelative:          false,
		UserFilter:                    "(&(objectClass=posixAccount)(uid={0}))",
		UsersFilter:                   "(objectClass=posixAccount)",
		GroupFilter:                   "(&(objectClass=posixGroup)(cn={0}))",
		GroupIdentityFilter:           "(&(objectClass=posixGroup)(gidNumber={0}))",
	},
	{
		Name:                          SchemaIDMU,
		DistinguishedNameAttribute:    "distinguishedName",
		GroupsAttribute:               "memberOf",
		PrimaryGroupAttribute:         "gidNumber",
		PrimaryGroupIdentityAttribute: "gidNumber",
		PrimaryGroupRelative:          false,
		UserFilter:                    "(&(objectClass=user)(objectCategory=person)(uid={0}))",
		UsersFilter:                   "(&(objectClass=user)(objectCategory=person)(uidNumber=*))",
		GroupFilter:                   "(&(objectClass=group)(cn={0}))",
		GroupIdentityFilter:           "(&(objectClass=group)(gidNumber={0}))",
	},
}
