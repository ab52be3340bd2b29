package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/opd-ai/murmur/crypto"
)

// DefaultDialTimeout bounds connection establishment when DialOptions leaves
// Timeout unset.
const DefaultDialTimeout = 10 * time.Second

// ProxyConfig contains configuration for a SOCKS5 proxy.
type ProxyConfig struct {
	Host     string
	Port     uint16
	Username string
	Password string
}

// Address returns the proxy's host:port.
func (p *ProxyConfig) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// DialOptions configures Dial.
type DialOptions struct {
	// Timeout bounds resolution and connection. Zero uses DefaultDialTimeout.
	Timeout time.Duration

	// Proxy routes the connection through SOCKS5. Name resolution is then
	// left to the proxy.
	Proxy *ProxyConfig

	// Resolver overrides the default resolver for direct connections.
	Resolver *net.Resolver
}

// Dial resolves host and opens a TCP connection to host:port.
// Lookup failures wrap ErrResolution; connect failures wrap ErrConnection.
func Dial(ctx context.Context, host string, port uint16, opts *DialOptions) (net.Conn, error) {
	if opts == nil {
		opts = &DialOptions{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if opts.Proxy != nil {
		return dialViaProxy(ctx, host, port, opts.Proxy, timeout)
	}

	addrs, err := resolve(ctx, host, opts.Resolver)
	if err != nil {
		crypto.NewLogger("transport", "Dial").
			WithField("host", host).
			WithError(err, "resolve").
			Warn("Could not resolve host")
		return nil, newOpError("resolve", host, fmt.Errorf("%w: %v", ErrResolution, err))
	}

	dialer := &net.Dialer{Timeout: timeout}
	var lastErr error
	for _, ip := range addrs {
		address := net.JoinHostPort(ip, strconv.Itoa(int(port)))
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			lastErr = err
			continue
		}

		crypto.NewLogger("transport", "Dial").WithField("address", address).Info("Connected to relay server")
		return conn, nil
	}

	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	crypto.NewLogger("transport", "Dial").
		WithField("address", address).
		WithError(lastErr, "dial").
		Warn("Could not connect to relay server")
	return nil, newOpError("dial", address, fmt.Errorf("%w: %v", ErrConnection, lastErr))
}

// resolve returns the addresses for host, skipping the lookup for IP literals.
func resolve(ctx context.Context, host string, resolver *net.Resolver) ([]string, error) {
	if host == "" {
		return nil, fmt.Errorf("empty host")
	}
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	return addrs, nil
}

// dialViaProxy connects through a SOCKS5 proxy.
func dialViaProxy(ctx context.Context, host string, port uint16, cfg *ProxyConfig, timeout time.Duration) (net.Conn, error) {
	if host == "" {
		return nil, newOpError("resolve", host, fmt.Errorf("%w: empty host", ErrResolution))
	}

	var auth *proxy.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = &proxy.Auth{
			User:     cfg.Username,
			Password: cfg.Password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", cfg.Address(), auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return nil, newOpError("proxy", cfg.Address(), fmt.Errorf("%w: %v", ErrConnection, err))
	}

	address := net.JoinHostPort(host, strconv.Itoa(int(port)))

	var conn net.Conn
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.Dial("tcp", address)
	}
	if err != nil {
		crypto.NewLogger("transport", "Dial").
			WithFields(logrus.Fields{
				"address":    address,
				"proxy_addr": cfg.Address(),
			}).
			WithError(err, "proxy dial").
			Warn("Could not connect through proxy")
		return nil, newOpError("dial", address, fmt.Errorf("%w: %v", ErrConnection, err))
	}

	crypto.NewLogger("transport", "Dial").
		WithFields(logrus.Fields{
			"address":    address,
			"proxy_addr": cfg.Address(),
		}).
		Info("Connected to relay server through proxy")
	return conn, nil
}
