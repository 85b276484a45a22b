package ldap

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// GroupResolver turns membership attribute values into mapped Group
// objects by searching the configured bases. One resolver works over one
// Client and is therefore bound to the same single-operation lifetime.
type GroupResolver struct {
	client *Client
	schema SchemaMapping
	mapper EntryMapper
	attrs  []string
	logger zerolog.Logger
}

// NewGroupResolver builds a resolver using the given group attribute map.
func NewGroupResolver(client *Client, schema SchemaMapping, groupAttrs *AttributeMap, logger zerolog.Logger) *GroupResolver {
	mapper := NewEntryMapper(groupAttrs, logger)
	return &GroupResolver{
		client: client,
		schema: schema,
		mapper: mapper,
		attrs:  mapper.RequiredAttributes(),
		logger: logger,
	}
}

// ResolvePrimaryGroup finds the group entry behind a user's primary-group
// attribute. Schemas that store a relative identifier reconstruct the full
// identity from the user's own first. Unlike membership resolution, a
// missing primary group is an error.
func (r *GroupResolver) ResolvePrimaryGroup(ctx context.Context, user *User) (*Group, error) {
	if user.PrimaryGroupValue == "" {
		return nil, NewNotFoundError("resolve primary group",
			"entry has no primary group attribute", user.DistinguishedName)
	}

	identity := r.schema.PrimaryGroupIdentity(user.Identity, user.PrimaryGroupValue)
	entry, err := r.client.SearchFirst(ctx, r.schema.RenderGroupIdentityFilter(identity), r.attrs)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, NewNotFoundError("resolve primary group",
			fmt.Sprintf("group with identity %s not found", identity), "")
	}

	return r.mapGroup(entry), nil
}

// ResolveGroups streams the groups the entry is a member of, read from its
// group-membership field. With recursive set, membership is chased through
// nested groups depth-first; a visited set keyed by canonical DN bounds
// traversal of membership cycles. An entry with no memberships yields an
// exhausted stream, not an error.
func (r *GroupResolver) ResolveGroups(ctx context.Context, entry FieldGetter, recursive bool) *GroupStream {
	s := &GroupStream{
		ctx:       ctx,
		resolver:  r,
		recursive: recursive,
		visited:   make(map[string]struct{}),
	}
	s.push(entry.GetField(FieldMemberOf))
	return s
}

// lookupMember fetches the group entry behind one membership value.
// Values are usually DNs but some schemas list plain identifiers. A nil
// entry means nothing matched.
func (r *GroupResolver) lookupMember(ctx context.Context, value string) (*ldap.Entry, error) {
	var filter string
	if DetectIdentifierType(value) == IdentifierTypeDN {
		filter = r.schema.GroupByDNFilter(value)
	} else {
		filter = r.schema.RenderGroupIdentityFilter(value)
	}
	return r.client.SearchFirst(ctx, filter, r.attrs)
}

func (r *GroupResolver) mapGroup(entry *ldap.Entry) *Group {
	group := &Group{}
	r.mapper.Assign(entry, group)

	// Some directories do not expose a name attribute on group entries;
	// fall back to the leading RDN.
	if group.AccountName == "" {
		if name, err := ExtractRDNValue(entry.DN, "CN"); err == nil {
			group.AccountName = name
		}
	}
	return group
}

// GroupStream yields resolved groups lazily in work-stack order. Groups
// are fetched from the directory one at a time as the stream is consumed.
//
//	stream := resolver.ResolveGroups(ctx, user, true)
//	for stream.Next() {
//	    group := stream.Group()
//	    ...
//	}
//	if err := stream.Err(); err != nil { ... }
type GroupStream struct {
	ctx       context.Context
	resolver  *GroupResolver
	recursive bool
	pending   []string            // unresolved membership values, top of stack last
	visited   map[string]struct{} // canonical form of every value ever pushed
	group     *Group
	err       error
	done      bool
}

// Next advances to the next resolvable group. Membership values that no
// configured base can resolve are logged and skipped; search failures end
// the stream with Err set.
func (s *GroupStream) Next() bool {
	if s.done {
		return false
	}

	for len(s.pending) > 0 {
		if err := s.ctx.Err(); err != nil {
			s.err = err
			s.done = true
			return false
		}

		value := s.pending[len(s.pending)-1]
		s.pending = s.pending[:len(s.pending)-1]

		entry, err := s.resolver.lookupMember(s.ctx, value)
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if entry == nil {
			s.resolver.logger.Warn().
				Str("member", value).
				Msg("Skipping unresolvable group member")
			continue
		}

		group := s.resolver.mapGroup(entry)
		if s.recursive {
			s.push(group.MemberOf)
		}

		s.group = group
		return true
	}

	s.done = true
	return false
}

// push queues membership values not seen before. Deduplication happens at
// push time, so a cycle stops producing work after one pass.
func (s *GroupStream) push(values []string) {
	for _, value := range values {
		key := canonicalDN(value)
		if _, seen := s.visited[key]; seen {
			continue
		}
		s.visited[key] = struct{}{}
		s.pending = append(s.pending, value)
	}
}

// Group returns the group produced by the last successful Next.
func (s *GroupStream) Group() *Group {
	return s.group
}

// Err returns the first error encountered, if any.
func (s *GroupStream) Err() error {
	return s.err
}

// Collect drains the remainder of the stream into a slice.
func (s *GroupStream) Collect() ([]*Group, error) {
	var groups []*Group
	for s.Next() {
		groups = append(groups, s.Group())
	}
	return groups, s.Err()
}
