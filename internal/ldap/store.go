package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Store is the read-only directory identity service: it authenticates
// users against the directory and maps their entries into User and Group
// objects with claims attached. Every operation acquires its own
// connection and releases it before returning, so a Store is safe for
// concurrent use.
type Store struct {
	cfg    *Config
	schema SchemaMapping

	connector *Connector
	table     *SchemaTable
	dialer    Dialer
	selector  ServerSelector

	userAttrs   *AttributeMap
	groupAttrs  *AttributeMap
	userMapper  EntryMapper
	claims      *ClaimsMap
	claimFilter ClaimFilter
	builder     *ClaimsBuilder

	users  *Cache[*User]
	groups *Cache[*Group]

	logger zerolog.Logger
}

// StoreOption adjusts store construction.
type StoreOption func(*Store)

// WithLogger routes store logging to the given logger. The default
// discards everything.
func WithLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// WithDialer substitutes the connection dialer, mainly for tests.
func WithDialer(d Dialer) StoreOption {
	return func(s *Store) { s.dialer = d }
}

// WithServerSelector overrides the selection policy implementation.
func WithServerSelector(sel ServerSelector) StoreOption {
	return func(s *Store) { s.selector = sel }
}

// WithSchemaTable registers custom schema mappings.
func WithSchemaTable(t *SchemaTable) StoreOption {
	return func(s *Store) { s.table = t }
}

// WithUserAttributeMap replaces the stock user attribute map.
func WithUserAttributeMap(m *AttributeMap) StoreOption {
	return func(s *Store) { s.userAttrs = m }
}

// WithGroupAttributeMap replaces the stock group attribute map.
func WithGroupAttributeMap(m *AttributeMap) StoreOption {
	return func(s *Store) { s.groupAttrs = m }
}

// WithClaimsMap replaces the stock claims map.
func WithClaimsMap(m *ClaimsMap) StoreOption {
	return func(s *Store) { s.claims = m }
}

// WithClaimFilter installs a per-claim predicate applied before any claim
// is included in a claim set.
func WithClaimFilter(f ClaimFilter) StoreOption {
	return func(s *Store) { s.claimFilter = f }
}

// NewStore validates the configuration and assembles the store. All
// configuration problems surface here, before any connection is made.
func NewStore(cfg *Config, opts ...StoreOption) (*Store, error) {
	if cfg == nil {
		return nil, NewValidationError("create store", "configuration must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Store{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.table == nil {
		s.table = DefaultSchemaTable()
	}
	schema, err := s.table.Lookup(cfg.Schema)
	if err != nil {
		return nil, err
	}
	s.schema = schema

	if s.userAttrs == nil {
		if s.userAttrs, err = DefaultUserAttributeMap(schema); err != nil {
			return nil, err
		}
	}
	if s.groupAttrs == nil {
		if s.groupAttrs, err = DefaultGroupAttributeMap(schema); err != nil {
			return nil, err
		}
	}
	if s.claims == nil {
		s.claims = DefaultClaimsMap()
	}

	s.userMapper = NewEntryMapper(s.userAttrs, s.logger)
	s.builder = NewClaimsBuilder(s.claims, s.claimFilter)

	if s.connector, err = NewConnector(cfg, s.selector, s.dialer, s.logger); err != nil {
		return nil, err
	}

	if cfg.CacheMode == CacheModeSliding {
		s.users = NewCache[*User](cfg.CacheDuration)
		s.groups = NewCache[*Group](cfg.CacheDuration)
	}

	s.logger.Debug().
		Str("schema", schema.Name).
		Int("servers", len(s.connector.Servers())).
		Str("cache_mode", string(cfg.CacheMode)).
		Msg("Directory store ready")
	return s, nil
}

// Close releases the store's background resources. Connections are
// per-operation and need no teardown here.
func (s *Store) Close() error {
	if s.users != nil {
		s.users.Close()
	}
	if s.groups != nil {
		s.groups.Close()
	}
	return nil
}

// Schema returns the schema mapping the store operates under.
func (s *Store) Schema() SchemaMapping {
	return s.schema
}

// CacheStats reports hit rates for the user and group caches. Zero-valued
// stats mean caching is disabled.
func (s *Store) CacheStats() (users, groups CacheStats) {
	if s.users != nil {
		users = s.users.Stats()
	}
	if s.groups != nil {
		groups = s.groups.Stats()
	}
	return users, groups
}

// LoginUser authenticates the given credentials by binding as the user,
// then looks up and maps the user's own entry over the same connection,
// with groups resolved and claims attached. Authentication failures and
// connection failures are errors; so is an authenticated user without a
// matching directory entry, since the bind itself proved the account
// exists.
func (s *Store) LoginUser(ctx context.Context, username, password string) (*User, error) {
	// An empty password would turn the bind into an unauthenticated bind,
	// which many servers accept.
	if username == "" || password == "" {
		return nil, NewValidationError("login user", "username and password must not be empty")
	}

	conn, err := s.connector.ConnectUser(ctx, username, password)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	entry, err := client.SearchFirst(ctx, s.loginFilter(username), s.userMapper.RequiredAttributes())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, NewNotFoundError("login user",
			fmt.Sprintf("no directory entry matches authenticated user %q", username), "")
	}

	user := s.mapUser(entry)
	if err := s.finishUser(ctx, client, user); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("username", username).
		Str("dn", user.DistinguishedName).
		Int("groups", len(user.Groups)).
		Msg("User authenticated")
	return user, nil
}

// loginFilter picks the lookup filter for the name a user authenticated
// with: UPN logins match the mapped UPN attribute, everything else goes
// through the schema's user filter after stripping any DOMAIN\ qualifier.
func (s *Store) loginFilter(username string) string {
	if DetectIdentifierType(username) == IdentifierTypeUPN {
		if attr := s.userAttrs.Attribute(FieldUserPrincipalName); attr != "" {
			return s.schema.UserAttributeFilter(attr, username)
		}
	}
	return s.schema.RenderUserFilter(splitAccountName(username))
}

// GetUserByAccountName looks up a user by login name. A nil user with nil
// error means no such user.
func (s *Store) GetUserByAccountName(ctx context.Context, accountName string) (*User, error) {
	name := splitAccountName(strings.TrimSpace(accountName))
	if name == "" {
		return nil, NewValidationError("get user", "account name must not be empty")
	}

	key := "user:name:" + strings.ToLower(name)
	if user, ok := cacheGet(s.users, key); ok {
		return user, nil
	}
	return s.fetchUser(ctx, key, s.schema.RenderUserFilter(name))
}

// GetUserByIdentity looks up a user by stable identifier: a SID, GUID,
// numeric ID or DN, depending on the schema. A nil user with nil error
// means no such user.
func (s *Store) GetUserByIdentity(ctx context.Context, identity string) (*User, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, NewValidationError("get user", "identity must not be empty")
	}

	filter, err := s.userIdentityFilter(identity)
	if err != nil {
		return nil, err
	}

	key := "user:id:" + strings.ToLower(identity)
	if user, ok := cacheGet(s.users, key); ok {
		return user, nil
	}
	return s.fetchUser(ctx, key, filter)
}

// userIdentityFilter routes an identity lookup by the shape of the value:
// DNs match the distinguished-name attribute, GUIDs the mapped GUID
// attribute in binary form, anything else the schema's identity attribute.
func (s *Store) userIdentityFilter(identity string) (string, error) {
	switch DetectIdentifierType(identity) {
	case IdentifierTypeDN:
		m, err := s.userAttrs.DistinguishedNameMapping()
		if err != nil {
			return "", err
		}
		return s.schema.UserAttributeFilter(m.Attribute, identity), nil

	case IdentifierTypeGUID:
		attr := s.userAttrs.Attribute(FieldGUID)
		if attr == "" {
			return "", NewValidationError("get user",
				fmt.Sprintf("schema %s maps no GUID attribute", s.schema.Name))
		}
		guidFilter, err := GUIDSearchFilter(attr, identity)
		if err != nil {
			return "", NewValidationError("get user", err.Error())
		}
		return fmt.Sprintf("(&%s%s)", s.schema.UsersFilter, guidFilter), nil

	default:
		m, err := s.userAttrs.IdentityMapping()
		if err != nil {
			return "", err
		}
		return s.schema.UserAttributeFilter(m.Attribute, identity), nil
	}
}

// GetUserByDistinguishedName looks up a user by DN. A nil user with nil
// error means no such user.
func (s *Store) GetUserByDistinguishedName(ctx context.Context, dn string) (*User, error) {
	if err := ValidateDNSyntax(dn); err != nil {
		return nil, NewValidationError("get user", err.Error())
	}

	key := "user:dn:" + canonicalDN(dn)
	if user, ok := cacheGet(s.users, key); ok {
		return user, nil
	}

	m, err := s.userAttrs.DistinguishedNameMapping()
	if err != nil {
		return nil, err
	}
	return s.fetchUser(ctx, key, s.schema.UserAttributeFilter(m.Attribute, dn))
}

// fetchUser runs a single-user lookup over a fresh connection, finishing
// and caching the result.
func (s *Store) fetchUser(ctx context.Context, cacheKey, filter string) (*User, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	entry, err := client.SearchFirst(ctx, filter, s.userMapper.RequiredAttributes())
	if err != nil || entry == nil {
		return nil, err
	}

	user := s.mapUser(entry)
	if err := s.finishUser(ctx, client, user); err != nil {
		return nil, err
	}

	cachePut(s.users, cacheKey, user)
	return user, nil
}

// newClient wraps a connection for searching, with paged results sorted
// by the schema's distinguished-name attribute so page order is stable.
func (s *Store) newClient(conn Conn) *Client {
	client := NewClient(conn, s.cfg, s.logger)
	client.sortAttr = s.schema.DistinguishedNameAttribute
	return client
}

func (s *Store) mapUser(entry *ldap.Entry) *User {
	user := &User{}
	s.userMapper.Assign(entry, user)
	return user
}

// finishUser resolves the user's groups and attaches the claim set. A
// primary group that cannot be found is logged and left unset rather than
// failing the lookup; search failures abort.
func (s *Store) finishUser(ctx context.Context, client *Client, user *User) error {
	resolver := NewGroupResolver(client, s.schema, s.groupAttrs, s.logger)

	primary, err := resolver.ResolvePrimaryGroup(ctx, user)
	switch {
	case err == nil:
		user.PrimaryGroup = primary
	case IsNotFoundError(err):
		s.logger.Warn().
			Err(err).
			Str("dn", user.DistinguishedName).
			Msg("Primary group not resolvable")
	default:
		return err
	}

	groups, err := resolver.ResolveGroups(ctx, user, s.cfg.NestedGroups).Collect()
	if err != nil {
		return err
	}
	user.Groups = groups
	user.Claims = s.builder.GetUserClaims(user)
	return nil
}

// GetUsers streams every user matching the schema's users filter, or
// filterOverride when non-empty. Users are mapped shallowly: group
// resolution and claims are skipped so listing a large directory stays a
// single paged search. The caller must Close the iterator.
func (s *Store) GetUsers(ctx context.Context, filterOverride string) (*UserIterator, error) {
	filter := filterOverride
	if filter == "" {
		filter = s.schema.UsersFilter
	}

	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)

	entries := client.SearchIter(ctx, filter, s.userMapper.RequiredAttributes())
	entries.closer = client.Close
	return &UserIterator{entries: entries, mapper: s.userMapper}, nil
}

// GetGroupByName looks up a group by name. A nil group with nil error
// means no such group.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("get group", "group name must not be empty")
	}

	key := "group:name:" + strings.ToLower(name)
	if group, ok := cacheGet(s.groups, key); ok {
		return group, nil
	}
	return s.fetchGroup(ctx, key, s.schema.RenderGroupFilter(name))
}

// GetGroupByIdentity looks up a group by stable identifier. A nil group
// with nil error means no such group.
func (s *Store) GetGroupByIdentity(ctx context.Context, identity string) (*Group, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, NewValidationError("get group", "identity must not be empty")
	}

	key := "group:id:" + strings.ToLower(identity)
	if group, ok := cacheGet(s.groups, key); ok {
		return group, nil
	}
	return s.fetchGroup(ctx, key, s.schema.RenderGroupIdentityFilter(identity))
}

func (s *Store) fetchGroup(ctx context.Context, cacheKey, filter string) (*Group, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	resolver := NewGroupResolver(client, s.schema, s.groupAttrs, s.logger)
	entry, err := client.SearchFirst(ctx, filter, resolver.attrs)
	if err != nil || entry == nil {
		return nil, err
	}

	group := resolver.mapGroup(entry)
	cachePut(s.groups, cacheKey, group)
	return group, nil
}

// GetGroupMemberships resolves the groups a group is itself a member of,
// optionally chasing nested memberships.
func (s *Store) GetGroupMemberships(ctx context.Context, group *Group, recursive bool) ([]*Group, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	return NewGroupResolver(client, s.schema, s.groupAttrs, s.logger).
		ResolveGroups(ctx, group, recursive).
		Collect()
}

// GetEntryClaims derives claims straight from the raw directory entry of
// an account, without materializing a User. Group claims carry the raw
// membership values; a nil slice with nil error means no such user.
func (s *Store) GetEntryClaims(ctx context.Context, accountName string) ([]Claim, error) {
	name := splitAccountName(strings.TrimSpace(accountName))
	if name == "" {
		return nil, NewValidationError("get claims", "account name must not be empty")
	}

	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	entry, err := client.SearchFirst(ctx, s.schema.RenderUserFilter(name), s.userMapper.RequiredAttributes())
	if err != nil || entry == nil {
		return nil, err
	}

	mapper := NewClaimsMapper(s.claims, s.userAttrs, s.claimFilter, s.logger)
	return mapper.GetClaims(entry), nil
}

// WhoAmI reports the authorization identity the service account is bound
// as, per RFC 4532.
func (s *Store) WhoAmI(ctx context.Context) (*AuthzID, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	return client.WhoAmI(ctx)
}

// Search runs a raw search and returns the matching entries unmapped.
// An empty base searches every configured base in order; an explicit
// base is searched whole-subtree. Intended for diagnostics; identity
// lookups should use the typed operations.
func (s *Store) Search(ctx context.Context, base, filter string, attrs []string) ([]*ldap.Entry, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, NewValidationError("search", "filter must not be empty")
	}

	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	client := s.newClient(conn)
	defer client.Close()

	if base == "" {
		return client.Search(ctx, filter, attrs)
	}
	if err := ValidateDNSyntax(base); err != nil {
		return nil, NewValidationError("search", err.Error())
	}
	return client.SearchUnder(ctx, SearchBase{DN: base, Scope: ScopeWholeSubtree}, filter, attrs)
}

// DiscoverBaseDN asks the directory for its default naming context via
// the root DSE. Useful for verifying the configured search bases against
// the server's own topology.
func (s *Store) DiscoverBaseDN(ctx context.Context) (string, error) {
	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return "", err
	}
	client := s.newClient(conn)
	defer client.Close()

	return client.BaseDN(ctx)
}

// UserIterator yields mapped users lazily from an entry iterator that
// owns its connection.
type UserIterator struct {
	entries *EntryIterator
	mapper  EntryMapper
	user    *User
}

// Next advances to the next user, fetching directory pages as needed.
func (it *UserIterator) Next() bool {
	if !it.entries.Next() {
		return false
	}
	user := &User{}
	it.mapper.Assign(it.entries.Entry(), user)
	it.user = user
	return true
}

// User returns the user produced by the last successful Next.
func (it *UserIterator) User() *User {
	return it.user
}

// Err returns the first error encountered, if any.
func (it *UserIterator) Err() error {
	return it.entries.Err()
}

// Close abandons the iteration and releases its connection.
func (it *UserIterator) Close() error {
	return it.entries.Close()
}

// Collect drains the remainder of the iterator and closes it.
func (it *UserIterator) Collect() ([]*User, error) {
	defer it.Close()

	var users []*User
	for it.Next() {
		users = append(users, it.User())
	}
	return users, it.Err()
}

func cacheGet[V any](c *Cache[V], key string) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	return c.Get(key)
}

func cachePut[V any](c *Cache[V], key string, value V) {
	if c != nil {
		c.Put(key, value)
	}
}
