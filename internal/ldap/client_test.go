package ldap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestClient(conn Conn, cfg *Config) *Client {
	return NewClient(conn, cfg, testLogger())
}

func testEntry(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

// pagingCookie extracts the paging cookie from a search request, or ""
// when the request carries none.
func pagingCookie(req *ldap.SearchRequest) string {
	for _, ctrl := range req.Controls {
		if paging, ok := ctrl.(*ldap.ControlPaging); ok {
			return string(paging.Cookie)
		}
	}
	return ""
}

func pagedResult(cookie string, entries ...*ldap.Entry) *ldap.SearchResult {
	result := &ldap.SearchResult{Entries: entries}
	if cookie != "" {
		result.Controls = append(result.Controls, &ldap.ControlPaging{Cookie: []byte(cookie)})
	}
	return result
}

func TestEntryIterator_FetchesPagesLazily(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	e1 := testEntry("CN=u1,DC=example,DC=com", nil)
	e2 := testEntry("CN=u2,DC=example,DC=com", nil)
	e3 := testEntry("CN=u3,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return pagingCookie(req) == ""
	})).Return(pagedResult("next", e1, e2), nil).Once()
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return pagingCookie(req) == "next"
	})).Return(pagedResult("", e3), nil).Once()

	client := newTestClient(conn, cfg)
	it := client.SearchIter(t.Context(), "(objectClass=user)", nil)

	require.True(t, it.Next())
	assert.Equal(t, e1, it.Entry())
	conn.AssertNumberOfCalls(t, "Search", 1)

	require.True(t, it.Next())
	assert.Equal(t, e2, it.Entry())
	// second page must not be fetched before the first is drained
	conn.AssertNumberOfCalls(t, "Search", 1)

	require.True(t, it.Next())
	assert.Equal(t, e3, it.Entry())
	conn.AssertNumberOfCalls(t, "Search", 2)

	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	conn.AssertExpectations(t)
}

func TestEntryIterator_AttachesSortKey(t *testing.T) {
	sortedBy := func(req *ldap.SearchRequest, attr string) bool {
		for _, ctrl := range req.Controls {
			if sorting, ok := ctrl.(*ldap.ControlServerSideSorting); ok {
				return len(sorting.SortKeys) == 1 && sorting.SortKeys[0].AttributeType == attr
			}
		}
		return false
	}

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return sortedBy(req, "distinguishedName")
	})).Return(pagedResult(""), nil).Once()

	client := newTestClient(conn, testConfig())
	client.sortAttr = "distinguishedName"

	_, err := client.Search(t.Context(), "(objectClass=user)", nil)
	require.NoError(t, err)
	conn.AssertExpectations(t)
}

func TestEntryIterator_UnionsBasesInDeclarationOrder(t *testing.T) {
	cfg := testConfig()
	cfg.SearchBases = []SearchBase{
		{DN: "OU=EMEA,DC=example,DC=com"},
		{DN: "OU=APAC,DC=example,DC=com"},
	}

	emea := testEntry("CN=u1,OU=EMEA,DC=example,DC=com", nil)
	apac := testEntry("CN=u2,OU=APAC,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "OU=EMEA,DC=example,DC=com"
	})).Return(pagedResult("", emea), nil).Once()
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "OU=APAC,DC=example,DC=com"
	})).Return(pagedResult("", apac), nil).Once()

	client := newTestClient(conn, cfg)
	entries, err := client.Search(t.Context(), "(objectClass=user)", nil)

	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, emea, entries[0])
	assert.Equal(t, apac, entries[1])
	conn.AssertExpectations(t)
}

func TestEntryIterator_StopsOnCancelBeforeNextPage(t *testing.T) {
	cfg := testConfig()
	cfg.PageSize = 2

	e1 := testEntry("CN=u1,DC=example,DC=com", nil)
	e2 := testEntry("CN=u2,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.Anything).Return(pagedResult("next", e1, e2), nil).Once()

	ctx, cancel := context.WithCancel(t.Context())
	client := newTestClient(conn, cfg)
	it := client.SearchIter(ctx, "(objectClass=user)", nil)

	require.True(t, it.Next())
	require.True(t, it.Next())

	cancel()

	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), context.Canceled)
	conn.AssertNumberOfCalls(t, "Search", 1)
}

func TestEntryIterator_ToleratesSizeLimitExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.SearchBases = []SearchBase{
		{DN: "OU=EMEA,DC=example,DC=com"},
		{DN: "OU=APAC,DC=example,DC=com"},
	}

	partial := testEntry("CN=u1,OU=EMEA,DC=example,DC=com", nil)
	apac := testEntry("CN=u2,OU=APAC,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "OU=EMEA,DC=example,DC=com"
	})).Return(pagedResult("", partial), ldap.NewError(ldap.LDAPResultSizeLimitExceeded, errors.New("size limit exceeded"))).Once()
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "OU=APAC,DC=example,DC=com"
	})).Return(pagedResult("", apac), nil).Once()

	client := newTestClient(conn, cfg)
	entries, err := client.Search(t.Context(), "(objectClass=user)", nil)

	require.NoError(t, err, "a truncated page is returned, not surfaced as an error")
	require.Len(t, entries, 2)
	assert.Equal(t, partial, entries[0])
	assert.Equal(t, apac, entries[1])
}

func TestClient_Search_RetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	entry := testEntry("CN=u1,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy"))).Once()
	conn.On("Search", mock.Anything).Return(pagedResult("", entry), nil).Once()

	client := newTestClient(conn, cfg)
	entries, err := client.Search(t.Context(), "(objectClass=user)", nil)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	conn.AssertNumberOfCalls(t, "Search", 2)
}

func TestClient_Search_DoesNotRetryPermanentFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied")))

	client := newTestClient(conn, cfg)
	_, err := client.Search(t.Context(), "(objectClass=user)", nil)

	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	conn.AssertNumberOfCalls(t, "Search", 1)
}

func TestClient_Search_GivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy")))

	client := newTestClient(conn, cfg)
	_, err := client.Search(t.Context(), "(objectClass=user)", nil)

	require.Error(t, err)
	assert.True(t, IsRetryableError(err))
	conn.AssertNumberOfCalls(t, "Search", 3)
}

func TestClient_SearchFirst(t *testing.T) {
	e1 := testEntry("CN=u1,DC=example,DC=com", nil)
	e2 := testEntry("CN=u2,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.Anything).Return(pagedResult("", e1, e2), nil).Once()

	client := newTestClient(conn, testConfig())
	got, err := client.SearchFirst(t.Context(), "(objectClass=user)", nil)

	require.NoError(t, err)
	assert.Equal(t, e1, got)
}

func TestClient_SearchFirst_NoMatch(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", mock.Anything).Return(pagedResult(""), nil).Once()

	client := newTestClient(conn, testConfig())
	got, err := client.SearchFirst(t.Context(), "(objectClass=user)", nil)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_SearchUnder(t *testing.T) {
	entry := testEntry("CN=g1,OU=Other,DC=example,DC=com", nil)

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "OU=Other,DC=example,DC=com" && req.Scope == ldap.ScopeWholeSubtree
	})).Return(pagedResult("", entry), nil).Once()

	client := newTestClient(conn, testConfig())
	base := SearchBase{DN: "OU=Other,DC=example,DC=com", Scope: ScopeWholeSubtree}
	entries, err := client.SearchUnder(t.Context(), base, "(objectClass=group)", nil)

	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry, entries[0])
}

func TestClient_WhoAmI(t *testing.T) {
	conn := &MockConn{}
	conn.On("WhoAmI", mock.Anything).
		Return(&ldap.WhoAmIResult{AuthzID: "dn:CN=svc,CN=Users,DC=example,DC=com"}, nil)

	client := newTestClient(conn, testConfig())
	id, err := client.WhoAmI(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "dn:CN=svc,CN=Users,DC=example,DC=com", id.Raw)
	assert.Equal(t, IdentifierTypeDN, id.Format)
	assert.Equal(t, "CN=svc,CN=Users,DC=example,DC=com", id.Value)
}

func TestClient_WhoAmI_ServerError(t *testing.T) {
	conn := &MockConn{}
	conn.On("WhoAmI", mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultUnwillingToPerform, errors.New("not supported")))

	client := newTestClient(conn, testConfig())
	_, err := client.WhoAmI(t.Context())

	assert.Error(t, err)
}

func TestClient_WhoAmI_CanceledContext(t *testing.T) {
	conn := &MockConn{}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	client := newTestClient(conn, testConfig())
	_, err := client.WhoAmI(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	conn.AssertNotCalled(t, "WhoAmI", mock.Anything)
}

func TestParseAuthzID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want AuthzID
	}{
		{
			name: "dn prefix",
			raw:  "dn:CN=Service Account,DC=example,DC=com",
			want: AuthzID{Raw: "dn:CN=Service Account,DC=example,DC=com", Format: IdentifierTypeDN, Value: "CN=Service Account,DC=example,DC=com"},
		},
		{
			name: "u prefix with plain name",
			raw:  "u:alice",
			want: AuthzID{Raw: "u:alice", Format: IdentifierTypeAccountName, Value: "alice"},
		},
		{
			name: "u prefix with domain qualified name",
			raw:  "u:EXAMPLE\\svc",
			want: AuthzID{Raw: "u:EXAMPLE\\svc", Format: IdentifierTypeAccountName, Value: "EXAMPLE\\svc"},
		},
		{
			name: "bare principal",
			raw:  "alice@example.com",
			want: AuthzID{Raw: "alice@example.com", Format: IdentifierTypeUPN, Value: "alice@example.com"},
		},
		{
			name: "anonymous",
			raw:  "",
			want: AuthzID{Raw: "", Format: IdentifierTypeUnknown, Value: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *parseAuthzID(tt.raw))
		})
	}
}

func TestClient_BaseDN(t *testing.T) {
	rootDSE := testEntry("", map[string][]string{
		"defaultNamingContext": {"DC=example,DC=com"},
	})

	conn := &MockConn{}
	conn.On("Search", mock.MatchedBy(func(req *ldap.SearchRequest) bool {
		return req.BaseDN == "" && req.Scope == ldap.ScopeBaseObject && req.Filter == "(objectClass=*)"
	})).Return(pagedResult("", rootDSE), nil).Once()

	client := newTestClient(conn, testConfig())
	baseDN, err := client.BaseDN(t.Context())

	require.NoError(t, err)
	assert.Equal(t, "DC=example,DC=com", baseDN)
}

func TestClient_BaseDN_NotPublished(t *testing.T) {
	conn := &MockConn{}
	conn.On("Search", mock.Anything).Return(pagedResult("", testEntry("", nil)), nil).Once()

	client := newTestClient(conn, testConfig())
	_, err := client.BaseDN(t.Context())

	assert.True(t, IsNotFoundError(err))
}

func TestClient_Close(t *testing.T) {
	conn := &MockConn{}
	conn.On("Close").Return(nil)

	client := newTestClient(conn, testConfig())
	assert.NoError(t, client.Close())
	conn.AssertCalled(t, "Close")
}

// Retry backoff must honor cancellation instead of sleeping through it.
func TestClient_Search_CancelDuringBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 5
	cfg.InitialBackoff = time.Minute
	cfg.MaxBackoff = time.Minute

	searchStarted := make(chan struct{})
	var once sync.Once

	conn := &MockConn{}
	conn.On("Search", mock.Anything).
		Run(func(mock.Arguments) { once.Do(func() { close(searchStarted) }) }).
		Return(nil, ldap.NewError(ldap.LDAPResultBusy, errors.New("server busy")))

	ctx, cancel := context.WithCancel(t.Context())
	client := newTestClient(conn, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := client.Search(ctx, "(objectClass=user)", nil)
		done <- err
	}()

	<-searchStarted
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("search did not abort after context cancellation")
	}
	conn.AssertNumberOfCalls(t, "Search", 1)
}
