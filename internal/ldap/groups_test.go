package ldap

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, conn Conn, schemaName string, logger zerolog.Logger) *GroupResolver {
	t.Helper()

	schema, err := DefaultSchemaTable().Lookup(schemaName)
	require.NoError(t, err)

	groupAttrs, err := DefaultGroupAttributeMap(schema)
	require.NoError(t, err)

	return NewGroupResolver(newTestClient(conn, testConfig()), schema, groupAttrs, logger)
}

func createGroupEntry(dn, name, sid string, memberOf ...string) *ldap.Entry {
	attrs := map[string][]string{
		"objectSid":         {sid},
		"distinguishedName": {dn},
	}
	if name != "" {
		attrs["sAMAccountName"] = []string{name}
	}
	if len(memberOf) > 0 {
		attrs["memberOf"] = memberOf
	}
	return ldap.NewEntry(dn, attrs)
}

// matchFilter matches a search request by its filter string.
func matchFilter(filter string) any {
	return mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.Filter == filter
	})
}

func TestGroupResolver_ResolveGroups_DirectMemberships(t *testing.T) {
	g1DN := "CN=G1,OU=Groups,DC=example,DC=com"
	g2DN := "CN=G2,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", matchFilter("(distinguishedName="+g1DN+")")).
		Return(pagedResult("", createGroupEntry(g1DN, "engineering", "S-1-5-21-1-2-3-2001")), nil).Once()
	conn.On("Search", matchFilter("(distinguishedName="+g2DN+")")).
		Return(pagedResult("", createGroupEntry(g2DN, "platform", "S-1-5-21-1-2-3-2002")), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{g1DN, g2DN}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 2)

	names := []string{groups[0].AccountName, groups[1].AccountName}
	assert.ElementsMatch(t, []string{"engineering", "platform"}, names)
	assert.Equal(t, g2DN, groups[0].DistinguishedName, "work-stack order resolves the last pushed value first")
	conn.AssertExpectations(t)
}

func TestGroupResolver_ResolveGroups_LookupsAreLazy(t *testing.T) {
	gDN := "CN=G1,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(pagedResult("", createGroupEntry(gDN, "engineering", "S-1-5-21-1-2-3-2001")), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{gDN}}

	stream := resolver.ResolveGroups(t.Context(), user, false)
	conn.AssertNotCalled(t, "Search", mock.Anything)

	require.True(t, stream.Next())
	conn.AssertNumberOfCalls(t, "Search", 1)
}

func TestGroupResolver_ResolveGroups_TerminatesMembershipCycle(t *testing.T) {
	gaDN := "CN=GA,OU=Groups,DC=example,DC=com"
	gbDN := "CN=GB,OU=Groups,DC=example,DC=com"

	// GA and GB are members of each other.
	conn := &MockConn{}
	conn.On("Search", matchFilter("(distinguishedName="+gaDN+")")).
		Return(pagedResult("", createGroupEntry(gaDN, "ga", "S-1-5-21-1-2-3-2001", gbDN)), nil).Once()
	conn.On("Search", matchFilter("(distinguishedName="+gbDN+")")).
		Return(pagedResult("", createGroupEntry(gbDN, "gb", "S-1-5-21-1-2-3-2002", gaDN)), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{gaDN}}

	groups, err := resolver.ResolveGroups(t.Context(), user, true).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "ga", groups[0].AccountName)
	assert.Equal(t, "gb", groups[1].AccountName)
	conn.AssertNumberOfCalls(t, "Search", 2)
}

func TestGroupResolver_ResolveGroups_NonRecursiveStaysShallow(t *testing.T) {
	gaDN := "CN=GA,OU=Groups,DC=example,DC=com"
	gbDN := "CN=GB,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", matchFilter("(distinguishedName="+gaDN+")")).
		Return(pagedResult("", createGroupEntry(gaDN, "ga", "S-1-5-21-1-2-3-2001", gbDN)), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{gaDN}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "ga", groups[0].AccountName)
	conn.AssertNumberOfCalls(t, "Search", 1)
}

func TestGroupResolver_ResolveGroups_NoMemberships(t *testing.T) {
	conn := &MockConn{}
	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())

	groups, err := resolver.ResolveGroups(t.Context(), &User{AccountName: "alice"}, true).Collect()

	require.NoError(t, err)
	assert.Empty(t, groups)
	conn.AssertNotCalled(t, "Search", mock.Anything)
}

func TestGroupResolver_ResolveGroups_SkipsUnresolvableMember(t *testing.T) {
	goodDN := "CN=G1,OU=Groups,DC=example,DC=com"
	goneDN := "CN=Deleted,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", matchFilter("(distinguishedName="+goodDN+")")).
		Return(pagedResult("", createGroupEntry(goodDN, "engineering", "S-1-5-21-1-2-3-2001")), nil).Once()
	conn.On("Search", matchFilter("(distinguishedName="+goneDN+")")).
		Return(pagedResult(""), nil).Once()

	var logbuf bytes.Buffer
	resolver := newTestResolver(t, conn, SchemaActiveDirectory, zerolog.New(&logbuf))
	user := &User{AccountName: "alice", MemberOf: []string{goodDN, goneDN}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "engineering", groups[0].AccountName)
	assert.Contains(t, logbuf.String(), "Skipping unresolvable group member")
}

func TestGroupResolver_ResolveGroups_SearchErrorEndsStream(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied")))

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{"CN=G1,OU=Groups,DC=example,DC=com"}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	assert.Empty(t, groups)
}

func TestGroupResolver_ResolveGroups_DeduplicatesByCanonicalDN(t *testing.T) {
	gDN := "CN=G1,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(pagedResult("", createGroupEntry(gDN, "engineering", "S-1-5-21-1-2-3-2001")), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{gDN, "cn=g1,ou=groups,dc=example,dc=com"}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	conn.AssertNumberOfCalls(t, "Search", 1)
}

func TestGroupResolver_ResolveGroups_CanceledContext(t *testing.T) {
	conn := &MockConn{}
	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{"CN=G1,OU=Groups,DC=example,DC=com"}}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	stream := resolver.ResolveGroups(ctx, user, false)
	assert.False(t, stream.Next())
	assert.ErrorIs(t, stream.Err(), context.Canceled)
	conn.AssertNotCalled(t, "Search", mock.Anything)
}

func TestGroupResolver_ResolvePrimaryGroup(t *testing.T) {
	g0DN := "CN=Domain Users,CN=Users,DC=example,DC=com"

	// The user's identity with its trailing RID swapped for primaryGroupID.
	conn := &MockConn{}
	conn.On("Search", matchFilter("(&(objectClass=group)(objectSid=S-1-5-21-1111-2222-3333-513))")).
		Return(pagedResult("", createGroupEntry(g0DN, "Domain Users", "S-1-5-21-1111-2222-3333-513")), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{
		AccountName:       "alice",
		Identity:          "S-1-5-21-1111-2222-3333-1104",
		PrimaryGroupValue: "513",
	}

	group, err := resolver.ResolvePrimaryGroup(t.Context(), user)
	require.NoError(t, err)
	assert.Equal(t, "Domain Users", group.AccountName)
	assert.Equal(t, g0DN, group.DistinguishedName)
	conn.AssertExpectations(t)
}

func TestGroupResolver_ResolvePrimaryGroup_AbsoluteIdentifier(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", matchFilter("(&(objectClass=posixGroup)(gidNumber=10000))")).
		Return(pagedResult("", ldap.NewEntry("cn=engineers,ou=groups,dc=example,dc=com", map[string][]string{
			"cn":        {"engineers"},
			"gidNumber": {"10000"},
		})), nil).Once()

	resolver := newTestResolver(t, conn, SchemaPosix, testLogger())
	user := &User{AccountName: "alice", Identity: "10001", PrimaryGroupValue: "10000"}

	group, err := resolver.ResolvePrimaryGroup(t.Context(), user)
	require.NoError(t, err)
	assert.Equal(t, "engineers", group.AccountName)
	assert.Equal(t, "10000", group.Identity)
}

func TestGroupResolver_ResolvePrimaryGroup_NotFound(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", mock.Anything).Return(pagedResult(""), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{
		AccountName:       "alice",
		Identity:          "S-1-5-21-1111-2222-3333-1104",
		PrimaryGroupValue: "999",
	}

	_, err := resolver.ResolvePrimaryGroup(t.Context(), user)
	assert.True(t, IsNotFoundError(err))
}

func TestGroupResolver_ResolvePrimaryGroup_NoValue(t *testing.T) {
	conn := &MockConn{}
	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())

	_, err := resolver.ResolvePrimaryGroup(t.Context(), &User{AccountName: "alice"})
	assert.True(t, IsNotFoundError(err))
	conn.AssertNotCalled(t, "Search", mock.Anything)
}

func TestGroupResolver_MapGroup_FallsBackToRDN(t *testing.T) {
	gDN := "CN=Unnamed,OU=Groups,DC=example,DC=com"

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(pagedResult("", createGroupEntry(gDN, "", "S-1-5-21-1-2-3-2001")), nil).Once()

	resolver := newTestResolver(t, conn, SchemaActiveDirectory, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{gDN}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Unnamed", groups[0].AccountName)
}

func TestGroupResolver_ResolveGroups_PlainIdentifierMembership(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", matchFilter("(&(objectClass=posixGroup)(gidNumber=10000))")).
		Return(pagedResult("", ldap.NewEntry("cn=engineers,ou=groups,dc=example,dc=com", map[string][]string{
			"cn":        {"engineers"},
			"gidNumber": {"10000"},
		})), nil).Once()

	resolver := newTestResolver(t, conn, SchemaPosix, testLogger())
	user := &User{AccountName: "alice", MemberOf: []string{"10000"}}

	groups, err := resolver.ResolveGroups(t.Context(), user, false).Collect()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "engineers", groups[0].AccountName)
}
