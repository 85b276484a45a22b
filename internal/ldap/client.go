package ldap

import (
	"context"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Client drives paged searches over a single connection. It is not safe
// for concurrent use; every logical operation works on its own Client and
// closes it when done.
type Client struct {
	conn   Conn
	cfg    *Config
	logger zerolog.Logger

	// sortAttr, when set, asks the server to sort paged results by this
	// attribute so pages arrive in a stable order. The store sets it to
	// the schema's distinguished-name attribute.
	sortAttr string
}

// NewClient wraps an authenticated connection for searching.
func NewClient(conn Conn, cfg *Config, logger zerolog.Logger) *Client {
	return &Client{conn: conn, cfg: cfg, logger: logger}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SearchIter starts a lazy search across every configured base. Entries
// are fetched one page at a time and yielded in base declaration order;
// no page is requested until the previous one is consumed.
func (c *Client) SearchIter(ctx context.Context, filter string, attrs []string) *EntryIterator {
	return newEntryIterator(ctx, c, c.cfg.SearchBases, filter, attrs)
}

// Search collects the union of matches across every configured base, in
// base declaration order.
func (c *Client) Search(ctx context.Context, filter string, attrs []string) ([]*ldap.Entry, error) {
	return drain(c.SearchIter(ctx, filter, attrs))
}

// SearchFirst returns the first entry matching filter, scanning bases in
// declaration order. A nil entry means nothing matched.
func (c *Client) SearchFirst(ctx context.Context, filter string, attrs []string) (*ldap.Entry, error) {
	it := c.SearchIter(ctx, filter, attrs)
	defer it.Close()

	if it.Next() {
		return it.Entry(), nil
	}
	return nil, it.Err()
}

// SearchUnder collects matches beneath one explicit base, bypassing the
// configured base list. Group resolution uses this to read entries at a
// known DN.
func (c *Client) SearchUnder(ctx context.Context, base SearchBase, filter string, attrs []string) ([]*ldap.Entry, error) {
	return drain(newEntryIterator(ctx, c, []SearchBase{base}, filter, attrs))
}

func drain(it *EntryIterator) ([]*ldap.Entry, error) {
	defer it.Close()

	var entries []*ldap.Entry
	for it.Next() {
		entries = append(entries, it.Entry())
	}
	return entries, it.Err()
}

// searchPage sends one search round trip, retrying transient server
// conditions with exponential backoff. Connection-level failures are not
// retried here; server selection already happened at dial time.
func (c *Client) searchPage(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	backoff := c.cfg.InitialBackoff

	for attempt := 0; ; attempt++ {
		result, err := c.conn.Search(req)
		if err == nil {
			return result, nil
		}
		if attempt >= c.cfg.MaxRetries || !isTransientSearchError(err) {
			return result, err
		}

		c.logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Retrying search after transient failure")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*c.cfg.BackoffFactor), c.cfg.MaxBackoff)
	}
}

// isTransientSearchError reports whether a search failed in a way worth
// retrying on the same connection.
func isTransientSearchError(err error) bool {
	return ldap.IsErrorWithCode(err, ldap.LDAPResultBusy) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultUnavailable)
}

// EntryIterator yields search results lazily, page by page, across an
// ordered list of search bases. It follows the bufio.Scanner shape:
//
//	for it.Next() {
//	    entry := it.Entry()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
//
// Iterators are forward-only and not safe for concurrent use.
type EntryIterator struct {
	ctx    context.Context
	client *Client
	filter string
	attrs  []string

	bases  []SearchBase        // remaining bases, declaration order
	paging *ldap.ControlPaging // cookie state for the current base, nil between bases
	buf    []*ldap.Entry       // unconsumed tail of the current page
	entry  *ldap.Entry
	err    error
	done   bool
	closer func() error // set when the iterator owns the connection
}

func newEntryIterator(ctx context.Context, client *Client, bases []SearchBase, filter string, attrs []string) *EntryIterator {
	return &EntryIterator{
		ctx:    ctx,
		client: client,
		filter: filter,
		attrs:  attrs,
		bases:  append([]SearchBase(nil), bases...),
	}
}

// Next advances to the next entry, fetching the next page from the server
// only when the current one is exhausted. It returns false at the end of
// the result stream or on the first error.
func (it *EntryIterator) Next() bool {
	if it.done {
		return false
	}

	for {
		if len(it.buf) > 0 {
			it.entry = it.buf[0]
			it.buf = it.buf[1:]
			return true
		}

		if it.paging == nil {
			if len(it.bases) == 0 {
				it.stop(nil)
				return false
			}
			it.paging = ldap.NewControlPaging(it.client.cfg.PageSize)
		}

		if err := it.ctx.Err(); err != nil {
			it.stop(err)
			return false
		}

		if !it.fetchPage() {
			return false
		}
	}
}

// fetchPage requests the next page for the current base and updates the
// cookie state. It reports false when iteration must end.
func (it *EntryIterator) fetchPage() bool {
	base := it.bases[0]
	controls := []ldap.Control{it.paging}
	if attr := it.client.sortAttr; attr != "" {
		controls = append(controls, ldap.NewControlServerSideSortingWithSortKeys(
			[]*ldap.SortKey{{AttributeType: attr}}))
	}

	req := ldap.NewSearchRequest(
		base.DN,
		int(base.Scope),
		ldap.NeverDerefAliases,
		0, 0, false,
		it.filter,
		it.attrs,
		controls,
	)

	result, err := it.client.searchPage(it.ctx, req)
	if err != nil {
		// A server-enforced size limit still returns the entries that
		// fit; take them and finish this base.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil && len(result.Entries) > 0 {
			it.client.logger.Debug().
				Str("base", base.DN).
				Int("entries", len(result.Entries)).
				Msg("Size limit reached, returning partial page")
			it.buf = result.Entries
			it.nextBase()
			return true
		}
		it.stop(WrapError("search", err))
		return false
	}

	it.buf = result.Entries

	ctrl := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
	if paging, ok := ctrl.(*ldap.ControlPaging); ok && len(paging.Cookie) > 0 {
		it.paging.SetCookie(paging.Cookie)
	} else {
		it.nextBase()
	}
	return true
}

func (it *EntryIterator) nextBase() {
	it.bases = it.bases[1:]
	it.paging = nil
}

func (it *EntryIterator) stop(err error) {
	if it.err == nil {
		it.err = err
	}
	it.done = true
	if it.closer != nil {
		closer := it.closer
		it.closer = nil
		if cerr := closer(); cerr != nil && it.err == nil {
			it.err = cerr
		}
	}
}

// Entry returns the entry produced by the last successful Next.
func (it *EntryIterator) Entry() *ldap.Entry {
	return it.entry
}

// Err returns the first error encountered, if any. Context cancellation
// surfaces here as the context's error.
func (it *EntryIterator) Err() error {
	return it.err
}

// Close abandons the iteration. It is safe to call at any point and more
// than once; iterators that own their connection release it here.
func (it *EntryIterator) Close() error {
	it.stop(nil)
	return nil
}

// AuthzID is the parsed result of an RFC 4532 Who Am I request.
type AuthzID struct {
	Raw    string         `json:"raw"`    // authorization identity as returned by the server
	Format IdentifierType `json:"format"` // detected shape of Value
	Value  string         `json:"value"`  // identity with the dn:/u: prefix stripped
}

// WhoAmI asks the server which authorization identity the connection is
// bound as.
func (c *Client) WhoAmI(ctx context.Context) (*AuthzID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := c.conn.WhoAmI(nil)
	if err != nil {
		return nil, NewLDAPError("whoami", err)
	}
	return parseAuthzID(result.AuthzID), nil
}

// parseAuthzID splits an authzId into its prefix form and classifies the
// remainder. Servers answer with "dn:<dn>", "u:<name>", or occasionally a
// bare value.
func parseAuthzID(authzID string) *AuthzID {
	parsed := &AuthzID{Raw: authzID, Value: authzID}

	switch {
	case strings.HasPrefix(authzID, "dn:"):
		parsed.Value = authzID[len("dn:"):]
		parsed.Format = IdentifierTypeDN
		return parsed
	case strings.HasPrefix(authzID, "u:"):
		parsed.Value = authzID[len("u:"):]
	}

	parsed.Format = DetectIdentifierType(parsed.Value)
	return parsed
}

// BaseDN reads the server's default naming context from the root DSE.
// Useful for deriving a search base when none is configured.
func (c *Client) BaseDN(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		0, 0, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)

	result, err := c.searchPage(ctx, req)
	if err != nil {
		return "", NewLDAPError("discover base dn", err)
	}

	if len(result.Entries) > 0 {
		if dn := result.Entries[0].GetAttributeValue("defaultNamingContext"); dn != "" {
			return dn, nil
		}
	}
	return "", NewNotFoundError("discover base dn", "root DSE has no defaultNamingContext", "")
}
