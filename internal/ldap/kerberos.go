package ldap

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// performKerberosBind authenticates conn as the configured service
// account via GSSAPI.
func performKerberosBind(conn Conn, cfg *Config, server ServerInfo) error {
	client, err := newGSSAPIClient(cfg)
	if err != nil {
		return fmt.Errorf("create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	if err := conn.GSSAPIBind(client, servicePrincipal(cfg, server), ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}
	return nil
}

// newGSSAPIClient builds a Kerberos client from the first usable
// credential source: explicit ccache, default ccache, explicit keytab,
// default keytab, then password.
func newGSSAPIClient(cfg *Config) (ldap.GSSAPIClient, error) {
	confPath := cfg.Kerberos.ConfigFile
	if confPath == "" {
		confPath = "/etc/krb5.conf"
	}
	if !fileExists(confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s (set kerberos.config_file to override)", confPath)
	}

	principal, realm := splitPrincipal(cfg.Username, cfg.Kerberos.Realm)
	pafxfast := krb5client.DisablePAFXFAST(cfg.Kerberos.DisablePAFXFAST)

	if ccache := cfg.Kerberos.CCacheFile; ccache != "" && fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, confPath, pafxfast)
	}
	if ccache := defaultCCachePath(); fileExists(ccache) {
		return gssapi.NewClientFromCCache(ccache, confPath, pafxfast)
	}

	if keytab := cfg.Kerberos.KeytabFile; keytab != "" && fileExists(keytab) {
		return gssapi.NewClientWithKeytab(principal, realm, keytab, confPath, pafxfast)
	}
	if principal != "" {
		if keytab := defaultKeytabPath(); fileExists(keytab) {
			return gssapi.NewClientWithKeytab(principal, realm, keytab, confPath, pafxfast)
		}
	}

	if principal != "" && cfg.Password != "" {
		return gssapi.NewClientWithPassword(principal, realm, cfg.Password, confPath, pafxfast)
	}

	return nil, fmt.Errorf("no usable kerberos credentials: provide a ccache, a keytab, or a password")
}

// servicePrincipal returns the SPN to request a ticket for, normally
// ldap/<host> of the connected server.
func servicePrincipal(cfg *Config, server ServerInfo) string {
	if cfg.Kerberos.ServicePrincipal != "" {
		return cfg.Kerberos.ServicePrincipal
	}
	return fmt.Sprintf("ldap/%s", server.Host)
}

// splitPrincipal separates a user@REALM login into its parts. An explicit
// realm wins over one embedded in the username.
func splitPrincipal(username, realm string) (string, string) {
	if at := strings.LastIndexByte(username, '@'); at >= 0 {
		if realm == "" {
			realm = username[at+1:]
		}
		username = username[:at]
	}
	return username, realm
}

// defaultCCachePath returns the credential cache location the MIT tools
// would use: $KRB5CCNAME, else /tmp/krb5cc_<uid>.
func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

// defaultKeytabPath returns $KRB5_KTNAME, else the system keytab.
func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
