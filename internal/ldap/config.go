package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Security selects the transport security for directory connections.
type Security string

const (
	SecurityNone     Security = "none"     // plain TCP, no TLS
	SecurityStartTLS Security = "starttls" // plain TCP upgraded via StartTLS
	SecurityTLS      Security = "tls"      // TLS from the first byte (LDAPS)
)

// SelectionPolicy decides how a server is picked from the configured list.
type SelectionPolicy string

const (
	// PolicyFailover tries servers in configured order and sticks with
	// the first reachable one across calls.
	PolicyFailover SelectionPolicy = "failover"

	// PolicyRoundRobin rotates through the server list on successive
	// calls.
	PolicyRoundRobin SelectionPolicy = "roundrobin"
)

// CacheMode selects the lookup caching behaviour.
type CacheMode string

const (
	CacheModeNone    CacheMode = "none"
	CacheModeSliding CacheMode = "sliding"
)

// SearchBase is a directory subtree searched for users and groups. Bases
// are tried in declaration order: single-entry lookups stop at the first
// base yielding a match, collection lookups union results across bases.
type SearchBase struct {
	DN    string      `mapstructure:"dn" json:"dn" validate:"required"`
	Scope SearchScope `mapstructure:"scope" json:"scope"`
}

// KerberosConfig holds GSSAPI bind settings for the service account.
// Credential sources are tried in order: explicit ccache, explicit keytab,
// then username/password against the KDC.
type KerberosConfig struct {
	Realm            string `mapstructure:"realm" json:"realm,omitempty"`
	KeytabFile       string `mapstructure:"keytab_file" json:"keytabFile,omitempty"`
	CCacheFile       string `mapstructure:"ccache_file" json:"ccacheFile,omitempty"`
	ConfigFile       string `mapstructure:"config_file" json:"configFile,omitempty"`
	ServicePrincipal string `mapstructure:"service_principal" json:"servicePrincipal,omitempty"`
	DisablePAFXFAST  bool   `mapstructure:"disable_pafxfast" json:"disablePAFXFAST,omitempty"`
}

// Enabled reports whether Kerberos binds are configured.
func (k KerberosConfig) Enabled() bool {
	return k.Realm != ""
}

// Config holds the full directory store configuration. Zero values are
// filled from the default tags by DefaultConfig and Validate.
type Config struct {
	// Directory topology
	Servers         []string        `mapstructure:"servers" json:"servers" validate:"min=1,dive,required"`
	SelectionPolicy SelectionPolicy `mapstructure:"selection_policy" json:"selectionPolicy" default:"failover" validate:"oneof=failover roundrobin"`
	Port            int             `mapstructure:"port" json:"port,omitempty" validate:"min=0,max=65535"`
	Security        Security        `mapstructure:"security" json:"security" default:"tls" validate:"oneof=none starttls tls"`

	// TLS settings
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" json:"insecureSkipVerify,omitempty"`
	CACertFile         string `mapstructure:"ca_cert_file" json:"caCertFile,omitempty"`

	// Search surface
	SearchBases []SearchBase `mapstructure:"search_bases" json:"searchBases" validate:"min=1"`
	Schema      string       `mapstructure:"schema" json:"schema" default:"ActiveDirectory" validate:"required"`

	// Service-account credentials for search-only operations
	Username string         `mapstructure:"username" json:"username,omitempty"`
	Password string         `mapstructure:"password" json:"-"`
	Kerberos KerberosConfig `mapstructure:"kerberos" json:"kerberos,omitempty"`

	// Search behaviour
	PageSize     uint32        `mapstructure:"page_size" json:"pageSize" default:"500" validate:"min=1"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout" default:"30s" validate:"gt=0"`
	NestedGroups bool          `mapstructure:"nested_groups" json:"nestedGroups"`

	// Caching
	CacheMode     CacheMode     `mapstructure:"cache_mode" json:"cacheMode" default:"none" validate:"oneof=none sliding"`
	CacheDuration time.Duration `mapstructure:"cache_duration" json:"cacheDuration" default:"5m" validate:"min=0"`

	// Retry settings for transient search failures
	MaxRetries     int           `mapstructure:"max_retries" json:"maxRetries" default:"3" validate:"min=0"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" json:"initialBackoff" default:"500ms" validate:"gt=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" json:"maxBackoff" default:"30s" validate:"gt=0"`
	BackoffFactor  float64       `mapstructure:"backoff_factor" json:"backoffFactor" default:"2.0" validate:"gt=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a configuration with secure defaults applied.
// Servers and search bases must still be supplied by the caller.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		// The default tags are static and always parse.
		panic(err)
	}
	return cfg
}

// Validate fills unset fields from their defaults, then checks the
// configuration for structural and semantic problems. It is called by
// NewStore; a failure here is fatal and prevents the store from starting.
func (c *Config) Validate() error {
	if err := defaults.Set(c); err != nil {
		return NewValidationError("validate configuration", err.Error())
	}

	if err := validate.Struct(c); err != nil {
		return NewValidationError("validate configuration", err.Error())
	}

	for i, base := range c.SearchBases {
		if err := ValidateDNSyntax(base.DN); err != nil {
			return NewValidationError("validate configuration",
				fmt.Sprintf("search base %d: %v", i, err))
		}
	}

	if c.CacheMode == CacheModeSliding && c.CacheDuration <= 0 {
		return NewValidationError("validate configuration",
			"cache_duration must be positive when cache_mode is sliding")
	}

	if c.Kerberos.Enabled() && c.Kerberos.CCacheFile == "" && c.Kerberos.KeytabFile == "" && c.Username == "" {
		return NewValidationError("validate configuration",
			"kerberos requires a ccache, a keytab, or username credentials")
	}

	return nil
}

// TLSConfig builds the tls.Config used for LDAPS and StartTLS connections.
func (c *Config) TLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CACertFile != "" {
		pem, err := os.ReadFile(c.CACertFile)
		if err != nil {
			return nil, NewValidationError("load ca certificate", err.Error())
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, NewValidationError("load ca certificate",
				fmt.Sprintf("no certificates parsed from %s", c.CACertFile))
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// DefaultPort returns the port implied by the configured security mode,
// used for servers that do not carry an explicit port.
func (c *Config) DefaultPort() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Security == SecurityTLS {
		return 636
	}
	return 389
}

// HasServiceAccount reports whether search operations can bind without
// caller-supplied credentials.
func (c *Config) HasServiceAccount() bool {
	return c.Kerberos.Enabled() || c.Username != ""
}
