package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Conn is the subset of directory connection behaviour the store depends
// on. *ldap.Conn satisfies it; tests substitute scripted fakes.
//
// Connections are not safe for concurrent use. Every logical operation
// acquires its own connection from a Connector and closes it when done.
type Conn interface {
	Bind(username, password string) error
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzID string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	WhoAmI(controls []ldap.Control) (*ldap.WhoAmIResult, error)
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// Dialer establishes a raw connection to one directory server. The
// default dialer speaks real LDAP; tests substitute in-memory fakes.
type Dialer interface {
	Dial(ctx context.Context, server ServerInfo) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, server ServerInfo) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, server ServerInfo) (Conn, error) {
	return f(ctx, server)
}

// netDialer is the production Dialer built on ldap.DialURL.
type netDialer struct {
	tlsConfig *tls.Config
	timeout   time.Duration
}

// Dial connects to server, upgrading to TLS via StartTLS when the server's
// security mode asks for it. go-ldap does not dial with a context, so
// cancellation is bounded by the configured timeout instead.
func (d *netDialer) Dial(_ context.Context, server ServerInfo) (Conn, error) {
	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: d.timeout}),
	}
	if server.Security == SecurityTLS {
		opts = append(opts, ldap.DialWithTLSConfig(d.tlsConfig))
	}

	conn, err := ldap.DialURL(server.URL(), opts...)
	if err != nil {
		return nil, err
	}

	if server.Security == SecurityStartTLS {
		if err := conn.StartTLS(d.tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls upgrade failed: %w", err)
		}
	}

	conn.SetTimeout(d.timeout)
	return conn, nil
}

// ServerSelector orders candidate servers for one connection attempt.
// Implementations must be safe for concurrent use.
type ServerSelector interface {
	// Order returns the servers to try, most preferred first.
	Order(servers []ServerInfo) []ServerInfo
}

// FailoverSelector always prefers servers in configured order. The first
// reachable server therefore serves every successive connection until it
// becomes unreachable.
type FailoverSelector struct{}

// Order implements ServerSelector.
func (FailoverSelector) Order(servers []ServerInfo) []ServerInfo {
	return append([]ServerInfo(nil), servers...)
}

// RoundRobinSelector rotates through the server list on successive calls.
// With two or more distinct servers, consecutive calls prefer different
// hosts.
type RoundRobinSelector struct {
	next atomic.Uint64
}

// Order implements ServerSelector.
func (s *RoundRobinSelector) Order(servers []ServerInfo) []ServerInfo {
	n := len(servers)
	if n == 0 {
		return nil
	}

	start := int((s.next.Add(1) - 1) % uint64(n))
	ordered := make([]ServerInfo, 0, n)
	for i := range n {
		ordered = append(ordered, servers[(start+i)%n])
	}
	return ordered
}

// NewServerSelector returns the selector implementing the given policy.
func NewServerSelector(policy SelectionPolicy) ServerSelector {
	if policy == PolicyRoundRobin {
		return &RoundRobinSelector{}
	}
	return FailoverSelector{}
}

// ParseServerAddress parses a configured server entry into a ServerInfo.
// Accepted forms: "host", "host:port", "ldap://host[:port]" and
// "ldaps://host[:port]". An explicit scheme overrides the configured
// security mode; an explicit port overrides the configured port.
func ParseServerAddress(addr string, security Security, defaultPort int) (ServerInfo, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ServerInfo{}, NewValidationError("parse server address", "server address must not be empty")
	}

	switch {
	case strings.HasPrefix(addr, "ldaps://"):
		security = SecurityTLS
		addr = strings.TrimPrefix(addr, "ldaps://")
	case strings.HasPrefix(addr, "ldap://"):
		if security == SecurityTLS {
			// A plain scheme cannot carry LDAPS; fall back to an
			// upgraded connection.
			security = SecurityStartTLS
		}
		addr = strings.TrimPrefix(addr, "ldap://")
	case strings.Contains(addr, "://"):
		return ServerInfo{}, NewValidationError("parse server address",
			fmt.Sprintf("unsupported scheme in %q, must be ldap:// or ldaps://", addr))
	}

	if i := strings.IndexByte(addr, '/'); i >= 0 {
		addr = addr[:i]
	}

	host := addr
	port := 0
	if strings.Contains(addr, ":") {
		h, p, err := net.SplitHostPort(addr)
		if err != nil {
			return ServerInfo{}, NewValidationError("parse server address",
				fmt.Sprintf("invalid host:port %q: %v", addr, err))
		}
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return ServerInfo{}, NewValidationError("parse server address",
				fmt.Sprintf("invalid port number %q", p))
		}
		host = h
	}

	if host == "" {
		return ServerInfo{}, NewValidationError("parse server address",
			fmt.Sprintf("no host in server address %q", addr))
	}

	if port == 0 {
		port = defaultPort
		if port == 0 {
			if security == SecurityTLS {
				port = 636
			} else {
				port = 389
			}
		}
	}

	return ServerInfo{Host: host, Port: port, Security: security}, nil
}

// Connector hands out authenticated directory connections, applying the
// configured server-selection policy. It holds no connection state of its
// own: each call dials fresh, and the caller owns the returned connection.
type Connector struct {
	cfg      *Config
	servers  []ServerInfo
	selector ServerSelector
	dialer   Dialer
	logger   zerolog.Logger
}

// NewConnector parses the configured server list and prepares a connector.
// selector and dialer may be nil to use the configured policy and the
// production dialer.
func NewConnector(cfg *Config, selector ServerSelector, dialer Dialer, logger zerolog.Logger) (*Connector, error) {
	servers := make([]ServerInfo, 0, len(cfg.Servers))
	for _, addr := range cfg.Servers {
		server, err := ParseServerAddress(addr, cfg.Security, cfg.Port)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		return nil, NewValidationError("configure connector", "no directory servers configured")
	}

	if selector == nil {
		selector = NewServerSelector(cfg.SelectionPolicy)
	}
	if dialer == nil {
		tlsConfig, err := cfg.TLSConfig()
		if err != nil {
			return nil, err
		}
		dialer = &netDialer{tlsConfig: tlsConfig, timeout: cfg.Timeout}
	}

	return &Connector{
		cfg:      cfg,
		servers:  servers,
		selector: selector,
		dialer:   dialer,
		logger:   logger,
	}, nil
}

// Servers returns the parsed server list in configured order.
func (c *Connector) Servers() []ServerInfo {
	return append([]ServerInfo(nil), c.servers...)
}

// Connect dials a server per the selection policy and binds with the
// configured service-account credentials. Without service credentials the
// connection is left unbound (anonymous).
func (c *Connector) Connect(ctx context.Context) (Conn, error) {
	conn, server, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.serviceBind(conn, server); err != nil {
		conn.Close()
		return nil, NewLDAPError("bind service account", err)
	}

	return conn, nil
}

// ConnectUser dials a server per the selection policy and binds with the
// supplied credentials. A failed bind is an authentication error, not a
// reason to try another server.
func (c *Connector) ConnectUser(ctx context.Context, username, password string) (Conn, error) {
	conn, server, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.Bind(username, password); err != nil {
		conn.Close()
		c.logger.Debug().
			Err(err).
			Str("server", server.Address()).
			Str("username", username).
			Msg("User bind rejected")
		return nil, NewLDAPError("bind user", err)
	}

	c.logger.Debug().
		Str("server", server.Address()).
		Str("username", username).
		Msg("User bind succeeded")
	return conn, nil
}

// dial tries servers in selector order and returns the first connection
// established. Dial failures fall through to the next candidate; only
// when every server is unreachable does the caller see an error.
func (c *Connector) dial(ctx context.Context) (Conn, ServerInfo, error) {
	var lastErr error

	for _, server := range c.selector.Order(c.servers) {
		if err := ctx.Err(); err != nil {
			return nil, ServerInfo{}, err
		}

		conn, err := c.dialer.Dial(ctx, server)
		if err != nil {
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("server", server.Address()).
				Msg("Directory server unreachable")
			continue
		}

		c.logger.Debug().
			Str("server", server.Address()).
			Str("security", string(server.Security)).
			Msg("Connected to directory server")
		return conn, server, nil
	}

	return nil, ServerInfo{}, NewConnectionError("all directory servers unreachable", true, lastErr)
}

// serviceBind authenticates conn with the configured service account.
func (c *Connector) serviceBind(conn Conn, server ServerInfo) error {
	switch {
	case c.cfg.Kerberos.Enabled():
		return performKerberosBind(conn, c.cfg, server)
	case c.cfg.Username != "":
		return conn.Bind(c.cfg.Username, c.cfg.Password)
	default:
		return nil
	}
}
