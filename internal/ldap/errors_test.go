package ldap

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLDAPError_ClassifiesResultCodes(t *testing.T) {
	tests := []struct {
		name      string
		code      uint16
		category  ErrorCategory
		retryable bool
	}{
		{"invalid credentials", ldap.LDAPResultInvalidCredentials, ErrorCategoryAuthentication, false},
		{"insufficient access", ldap.LDAPResultInsufficientAccessRights, ErrorCategoryPermission, false},
		{"no such object", ldap.LDAPResultNoSuchObject, ErrorCategoryNotFound, false},
		{"busy", ldap.LDAPResultBusy, ErrorCategoryServer, true},
		{"server down", ldap.LDAPResultServerDown, ErrorCategoryServer, true},
		{"connect error", ldap.LDAPResultConnectError, ErrorCategoryConnection, true},
		{"filter error", ldap.LDAPResultFilterError, ErrorCategoryValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := ldap.NewError(tt.code, errors.New(tt.name))
			err := NewLDAPError("search", cause)

			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.code, err.LDAPCode)
			assert.ErrorIs(t, err, cause)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestNewLDAPError_ClassifiesGenericErrors(t *testing.T) {
	err := NewLDAPError("dial", errors.New("dial tcp: connection refused"))

	assert.Equal(t, ErrorCategoryConnection, err.Category)
	assert.True(t, err.Retryable)
	assert.True(t, IsConnectionError(err))
}

func TestNewLDAPError_NilPassesThrough(t *testing.T) {
	assert.Nil(t, NewLDAPError("search", nil))
	assert.NoError(t, WrapError("search", nil))
}

func TestWrapError_DoesNotDoubleWrap(t *testing.T) {
	inner := NewNotFoundError("resolve primary group", "no such group", "")

	wrapped := WrapError("login user", inner)

	var ldapErr *LDAPError
	require.ErrorAs(t, wrapped, &ldapErr)
	assert.Same(t, inner, ldapErr)
	assert.Equal(t, "resolve primary group", ldapErr.Operation, "an existing operation is kept")
}

func TestWrapError_FillsMissingOperation(t *testing.T) {
	inner := &LDAPError{Category: ErrorCategoryServer}

	wrapped := WrapError("search", inner)

	var ldapErr *LDAPError
	require.ErrorAs(t, wrapped, &ldapErr)
	assert.Equal(t, "search", ldapErr.Operation)
}

func TestErrorCategoryHelpers(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("validate", "bad config")))
	assert.True(t, IsNotFoundError(NewNotFoundError("lookup", "missing", "")))
	assert.True(t, IsConnectionError(NewConnectionError("unreachable", true, nil)))

	// Raw go-ldap errors classify without wrapping.
	raw := ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	assert.True(t, IsAuthenticationError(raw))

	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsConnectionError(errors.New("something else")))
}

func TestLDAPError_Error(t *testing.T) {
	err := &LDAPError{
		Operation: "search",
		LDAPCode:  ldap.LDAPResultNoSuchObject,
		Message:   "no such object",
		DN:        "CN=ghost,DC=example,DC=com",
	}

	msg := err.Error()
	assert.Contains(t, msg, "search")
	assert.Contains(t, msg, "no such object")
	assert.Contains(t, msg, "CN=ghost,DC=example,DC=com")
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(NewConnectionError("unreachable", true, nil)))
	assert.False(t, IsRetryableError(NewConnectionError("bad handshake", false, nil)))
	assert.True(t, IsRetryableError(errors.New("read tcp: connection timeout")))
	assert.False(t, IsRetryableError(errors.New("malformed entry")))
}
