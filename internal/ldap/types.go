package ldap

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field identifiers used by attribute maps and claims maps to address User
// and Group fields. Mappings are registered explicitly against these names;
// no reflection is involved.
const (
	FieldAccountName       = "accountName"
	FieldIdentity          = "identity"
	FieldGUID              = "guid"
	FieldDistinguishedName = "distinguishedName"
	FieldDisplayName       = "displayName"
	FieldEmail             = "email"
	FieldUserPrincipalName = "userPrincipalName"
	FieldGivenName         = "givenName"
	FieldSurname           = "surname"
	FieldDescription       = "description"
	FieldEnabled           = "enabled"
	FieldWhenCreated       = "whenCreated"
	FieldWhenChanged       = "whenChanged"
	FieldMemberOf          = "memberOf"
	FieldPrimaryGroup      = "primaryGroup"
)

// FieldSetter is implemented by objects the entry mapper can populate.
// Values arrive as canonical strings produced by the mapping's converter;
// implementations parse non-string fields and report a malformed value as
// an error without mutating the field.
type FieldSetter interface {
	SetField(field string, values []string) error
}

// FieldGetter is implemented by objects the claims builder can read.
// Unset fields return nil.
type FieldGetter interface {
	GetField(field string) []string
}

// User represents a directory user account mapped into application form.
type User struct {
	// Core identification: account name is the login name (sAMAccountName,
	// uid), identity the stable identifier (SID, uidNumber). GUID carries
	// the directory object GUID where the schema exposes one.
	AccountName       string `json:"accountName"`
	Identity          string `json:"identity"`
	GUID              string `json:"guid,omitempty"`
	DistinguishedName string `json:"distinguishedName"`
	UserPrincipalName string `json:"userPrincipalName,omitempty"`

	// Display attributes
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	Surname     string `json:"surname,omitempty"`
	Email       string `json:"email,omitempty"`
	Description string `json:"description,omitempty"`

	// Account status
	Enabled     bool      `json:"enabled"`
	WhenCreated time.Time `json:"whenCreated,omitempty"`
	WhenChanged time.Time `json:"whenChanged,omitempty"`

	// Membership: MemberOf holds the raw group DNs from the entry,
	// PrimaryGroupValue the raw primary-group attribute value.
	MemberOf          []string `json:"memberOf,omitempty"`
	PrimaryGroupValue string   `json:"primaryGroupValue,omitempty"`

	// Populated by group resolution and claims mapping
	PrimaryGroup *Group   `json:"primaryGroup,omitempty"`
	Groups       []*Group `json:"groups,omitempty"`
	Claims       []Claim  `json:"claims,omitempty"`
}

// SetField implements FieldSetter.
func (u *User) SetField(field string, values []string) error {
	switch field {
	case FieldAccountName:
		u.AccountName = firstValue(values)
	case FieldIdentity:
		u.Identity = firstValue(values)
	case FieldGUID:
		u.GUID = firstValue(values)
	case FieldDistinguishedName:
		u.DistinguishedName = firstValue(values)
	case FieldUserPrincipalName:
		u.UserPrincipalName = firstValue(values)
	case FieldDisplayName:
		u.DisplayName = firstValue(values)
	case FieldGivenName:
		u.GivenName = firstValue(values)
	case FieldSurname:
		u.Surname = firstValue(values)
	case FieldEmail:
		u.Email = firstValue(values)
	case FieldDescription:
		u.Description = firstValue(values)
	case FieldEnabled:
		enabled, err := strconv.ParseBool(firstValue(values))
		if err != nil {
			return fmt.Errorf("invalid boolean value %q for field %s: %w", firstValue(values), field, err)
		}
		u.Enabled = enabled
	case FieldWhenCreated:
		t, err := time.Parse(time.RFC3339, firstValue(values))
		if err != nil {
			return fmt.Errorf("invalid timestamp %q for field %s: %w", firstValue(values), field, err)
		}
		u.WhenCreated = t
	case FieldWhenChanged:
		t, err := time.Parse(time.RFC3339, firstValue(values))
		if err != nil {
			return fmt.Errorf("invalid timestamp %q for field %s: %w", firstValue(values), field, err)
		}
		u.WhenChanged = t
	case FieldMemberOf:
		u.MemberOf = values
	case FieldPrimaryGroup:
		u.PrimaryGroupValue = firstValue(values)
	default:
		return fmt.Errorf("user has no field %q", field)
	}
	return nil
}

// GetField implements FieldGetter.
func (u *User) GetField(field string) []string {
	switch field {
	case FieldAccountName:
		return singleValue(u.AccountName)
	case FieldIdentity:
		return singleValue(u.Identity)
	case FieldGUID:
		return singleValue(u.GUID)
	case FieldDistinguishedName:
		return singleValue(u.DistinguishedName)
	case FieldUserPrincipalName:
		return singleValue(u.UserPrincipalName)
	case FieldDisplayName:
		return singleValue(u.DisplayName)
	case FieldGivenName:
		return singleValue(u.GivenName)
	case FieldSurname:
		return singleValue(u.Surname)
	case FieldEmail:
		return singleValue(u.Email)
	case FieldDescription:
		return singleValue(u.Description)
	case FieldEnabled:
		return []string{strconv.FormatBool(u.Enabled)}
	case FieldWhenCreated:
		if u.WhenCreated.IsZero() {
			return nil
		}
		return []string{u.WhenCreated.Format(time.RFC3339)}
	case FieldWhenChanged:
		if u.WhenChanged.IsZero() {
			return nil
		}
		return []string{u.WhenChanged.Format(time.RFC3339)}
	case FieldMemberOf:
		return u.MemberOf
	case FieldPrimaryGroup:
		return singleValue(u.PrimaryGroupValue)
	default:
		return nil
	}
}

// Group represents a directory group mapped into application form.
// MemberOf holds the DNs of groups this group is itself a member of,
// which drives nested membership resolution.
type Group struct {
	AccountName       string   `json:"accountName"`
	Identity          string   `json:"identity"`
	DistinguishedName string   `json:"distinguishedName"`
	Description       string   `json:"description,omitempty"`
	MemberOf          []string `json:"memberOf,omitempty"`
}

// SetField implements FieldSetter.
func (g *Group) SetField(field string, values []string) error {
	switch field {
	case FieldAccountName:
		g.AccountName = firstValue(values)
	case FieldIdentity:
		g.Identity = firstValue(values)
	case FieldDistinguishedName:
		g.DistinguishedName = firstValue(values)
	case FieldDescription:
		g.Description = firstValue(values)
	case FieldMemberOf:
		g.MemberOf = values
	default:
		return fmt.Errorf("group has no field %q", field)
	}
	return nil
}

// GetField implements FieldGetter.
func (g *Group) GetField(field string) []string {
	switch field {
	case FieldAccountName:
		return singleValue(g.AccountName)
	case FieldIdentity:
		return singleValue(g.Identity)
	case FieldDistinguishedName:
		return singleValue(g.DistinguishedName)
	case FieldDescription:
		return singleValue(g.Description)
	case FieldMemberOf:
		return g.MemberOf
	default:
		return nil
	}
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func singleValue(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

// SearchScope represents LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject   SearchScope = 0 // Search the base object only
	ScopeSingleLevel  SearchScope = 1 // Search immediate children only
	ScopeWholeSubtree SearchScope = 2 // Search base object and entire subtree
)

// String returns the configuration spelling of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// ParseSearchScope converts a configuration string into a SearchScope.
// An empty string defaults to subtree, matching common directory tooling.
func ParseSearchScope(s string) (SearchScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sub", "subtree":
		return ScopeWholeSubtree, nil
	case "one", "onelevel":
		return ScopeSingleLevel, nil
	case "base":
		return ScopeBaseObject, nil
	default:
		return ScopeWholeSubtree, fmt.Errorf("unknown search scope %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SearchScope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so scopes decode
// straight from configuration strings.
func (s *SearchScope) UnmarshalText(text []byte) error {
	scope, err := ParseSearchScope(string(text))
	if err != nil {
		return err
	}
	*s = scope
	return nil
}

// ServerInfo describes one configured directory server.
type ServerInfo struct {
	Host     string   // Server hostname
	Port     int      // Server port
	Security Security // Transport security in effect for this server
}

// URL returns the dial URL for the server.
func (s ServerInfo) URL() string {
	scheme := "ldap"
	if s.Security == SecurityTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, s.Port)
}

// Address returns the host:port form used in logs and selector state.
func (s ServerInfo) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RetryableError indicates whether an error is retryable.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related failures.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
