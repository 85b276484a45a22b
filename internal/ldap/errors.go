package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrorCategory classifies directory errors so callers can distinguish,
// for example, an unreachable server from an absent entry.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError carries the context of a failed directory operation across the
// package boundary.
type LDAPError struct {
	Operation string        // operation that failed
	Category  ErrorCategory // classification, see the constants above
	LDAPCode  uint16        // LDAP result code, 0 when not applicable
	Message   string        // human-readable message
	DN        string        // DN involved, when applicable
	Retryable bool          // whether retrying the operation may help
	Cause     error         // underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("ldap %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("ldap %s failed", e.Operation))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("dn %s", e.DN))
	}

	return strings.Join(parts, ": ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// NewLDAPError classifies err and wraps it with the failed operation.
// Returns nil for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	wrapped := &LDAPError{Operation: operation, Cause: err}

	if resultErr, ok := err.(*ldap.Error); ok {
		wrapped.LDAPCode = resultErr.ResultCode
		wrapped.Category = categorizeResultCode(resultErr.ResultCode)
		wrapped.Retryable = isResultCodeRetryable(resultErr.ResultCode)
		wrapped.Message = resultCodeMessage(resultErr.ResultCode)
	} else {
		wrapped.Category = categorizeMessage(err)
		wrapped.Retryable = isMessageRetryable(err)
		wrapped.Message = err.Error()
	}

	return wrapped
}

// NewValidationError creates a configuration or input validation error.
// Validation errors are never retryable.
func NewValidationError(operation, message string) *LDAPError {
	return &LDAPError{
		Operation: operation,
		Category:  ErrorCategoryValidation,
		Message:   message,
	}
}

// NewNotFoundError creates a "no matching entry" error for operations where
// an entry is required to exist, such as login or primary group resolution.
func NewNotFoundError(operation, message, dn string) *LDAPError {
	return &LDAPError{
		Operation: operation,
		Category:  ErrorCategoryNotFound,
		Message:   message,
		DN:        dn,
	}
}

// resultCategories maps LDAP result codes onto the package's error
// taxonomy. Codes not listed here report ErrorCategoryUnknown.
var resultCategories = map[uint16]ErrorCategory{
	ldap.LDAPResultInvalidCredentials:           ErrorCategoryAuthentication,
	ldap.LDAPResultInappropriateAuthentication:  ErrorCategoryAuthentication,
	ldap.LDAPResultStrongAuthRequired:           ErrorCategoryAuthentication,
	ldap.LDAPResultInsufficientAccessRights:     ErrorCategoryPermission,
	ldap.LDAPResultUnwillingToPerform:           ErrorCategoryPermission,
	ldap.LDAPResultNoSuchObject:                 ErrorCategoryNotFound,
	ldap.LDAPResultNoSuchAttribute:              ErrorCategoryNotFound,
	ldap.LDAPResultUndefinedAttributeType:       ErrorCategoryNotFound,
	ldap.LDAPResultInvalidAttributeSyntax:       ErrorCategoryValidation,
	ldap.LDAPResultConstraintViolation:          ErrorCategoryValidation,
	ldap.LDAPResultInvalidDNSyntax:              ErrorCategoryValidation,
	ldap.LDAPResultFilterError:                  ErrorCategoryValidation,
	ldap.LDAPResultServerDown:                   ErrorCategoryServer,
	ldap.LDAPResultUnavailable:                  ErrorCategoryServer,
	ldap.LDAPResultBusy:                         ErrorCategoryServer,
	ldap.LDAPResultTimeLimitExceeded:            ErrorCategoryServer,
	ldap.LDAPResultAdminLimitExceeded:           ErrorCategoryServer,
	ldap.LDAPResultConnectError:                 ErrorCategoryConnection,
	ldap.LDAPResultProtocolError:                ErrorCategoryConnection,
	ldap.ErrorNetwork:                           ErrorCategoryConnection,
	ldap.LDAPResultUnavailableCriticalExtension: ErrorCategoryServer,
}

func categorizeResultCode(code uint16) ErrorCategory {
	if category, ok := resultCategories[code]; ok {
		return category
	}
	return ErrorCategoryUnknown
}

// isResultCodeRetryable reports whether a result code describes a
// transient server condition.
func isResultCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError,
		ldap.ErrorNetwork:
		return true
	}
	return false
}

// resultCodeMessage renders the result code's standard description.
func resultCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown result code %d", code)
}

// categorizeMessage classifies errors that carry no LDAP result code,
// such as raw dial failures, by their message text.
func categorizeMessage(err error) ErrorCategory {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection", "network", "timeout", "broken pipe", "no route to host"):
		return ErrorCategoryConnection
	case containsAny(msg, "authentication", "credentials", "password"):
		return ErrorCategoryAuthentication
	case containsAny(msg, "permission", "access", "denied"):
		return ErrorCategoryPermission
	}
	return ErrorCategoryUnknown
}

func isMessageRetryable(err error) bool {
	return categorizeMessage(err) == ErrorCategoryConnection
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError classifies err under the given operation. Errors already
// wrapped pass through, gaining the operation name when they carry none.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if wrapped, ok := err.(*LDAPError); ok {
		if wrapped.Operation == "" {
			wrapped.Operation = operation
		}
		return wrapped
	}

	return NewLDAPError(operation, err)
}

// IsRetryableError reports whether retrying the failed operation may help.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if retryable, ok := err.(RetryableError); ok {
		return retryable.IsRetryable()
	}

	return isMessageRetryable(err)
}

// GetErrorCategory returns the category of an error, classifying raw
// go-ldap and generic errors on the fly.
func GetErrorCategory(err error) ErrorCategory {
	switch e := err.(type) {
	case nil:
		return ErrorCategoryUnknown
	case *LDAPError:
		return e.Category
	case *ConnectionError:
		return ErrorCategoryConnection
	case *ldap.Error:
		return categorizeResultCode(e.ResultCode)
	}
	return categorizeMessage(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConnectionError checks if an error indicates a connectivity problem,
// distinct from an entry simply not existing.
func IsConnectionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConnection
}

// IsAuthenticationError checks if an error indicates rejected credentials.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates insufficient rights.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}

// IsValidationError checks if an error indicates invalid configuration or
// input.
func IsValidationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryValidation
}
