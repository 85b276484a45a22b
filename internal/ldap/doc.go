/*
Package ldap implements directory authentication and identity mapping against
LDAP servers such as Active Directory and POSIX/RFC 2307 directories.

The package translates raw directory entries into typed User and Group objects
plus a flat set of security claims, resolving primary and (optionally
transitive) group memberships along the way.

# Architecture Overview

The package is organized into several core components:

  - SchemaTable: immutable per-schema attribute naming and search filters
  - AttributeMap: field-to-attribute registrations with converters and roles
  - EntryMapper: populates typed objects from raw directory entries
  - ClaimsBuilder / ClaimsMapper: derive claims from objects or raw entries
  - GroupResolver: primary group and recursive membership resolution
  - Connector / Client: server selection, scoped connections, paged searches
  - Store: the public lookup and login surface with optional caching

# Connection Management

Every logical operation acquires its own connection and releases it when the
operation completes, including on error paths:

  - Failover or round-robin selection across the configured server list
  - TLS, StartTLS and plaintext transports
  - Simple bind, unauthenticated bind and Kerberos (GSSAPI) service binds
  - Paged, lazy, forward-only searches across multiple search bases

# Schema Support

Built-in schema mappings cover Active Directory (binary SID identities,
primary group reconstruction from the relative identifier), plain POSIX
directories (numeric gid identities) and IDMU-style Active Directory
deployments carrying Unix attributes. Custom schemas may be registered
alongside the built-ins.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, mapping, etc.)
  - Retryable error classification
  - Absent entries are reported as nil results, never as errors

# Thread Safety

The Store and all mapping components are safe for concurrent use. Connections
are not shared across logical operations; the optional result cache supports
concurrent readers with benign last-write-wins population races.

# Example Usage

	cfg := ldap.DefaultConfig()
	cfg.Servers = []string{"ldaps://dc1.example.com"}
	cfg.SearchBases = []ldap.SearchBase{{DN: "DC=example,DC=com"}}
	cfg.Schema = ldap.SchemaActiveDirectory
	cfg.Username = "CN=svc,CN=Users,DC=example,DC=com"
	cfg.Password = "service-password"

	store, err := ldap.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.LoginUser(ctx, "alice", "password")
	if err != nil {
		return err
	}
	for _, claim := range user.Claims {
		fmt.Println(claim.Type, claim.Value)
	}
*/
package ldap
