// Package httpclient provides the outbound HTTP client used for model calls.
// Requests are checked against a scheme allow-list and, unless disabled,
// against private and loopback addresses both before sending and at dial
// time (DNS rebinding).
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/yoman/errors"
)

// SaferClient wraps http.Client with SSRF protection
type SaferClient struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
}

// Options allows customization of SSRF protection
type Options struct {
	AllowedSchemes []string // Default: ["http", "https"]
	MaxRedirects   int      // Default: 10
	AllowPrivateIP bool     // local inference servers live on loopback
}

// NewSaferClient creates an HTTP client that blocks private addresses.
func NewSaferClient(timeout time.Duration) *SaferClient {
	return New(timeout, Options{})
}

// New creates an HTTP client with the given protection options.
func New(timeout time.Duration, opts Options) *SaferClient {
	c := &SaferClient{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: opts.AllowedSchemes,
		blockPrivateIP: !opts.AllowPrivateIP,
		maxRedirects:   opts.MaxRedirects,
	}
	if c.allowedSchemes == nil {
		c.allowedSchemes = []string{"http", "https"}
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 10
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if c.blockPrivateIP {
		c.Transport = &http.Transport{
			DialContext:           guardedDial(&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}),
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}
	return c
}

// guardedDial resolves the host itself and refuses to connect if any
// address it resolves to is private.
func guardedDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve host %q", host)
		}
		for _, ip := range ips {
			if isPrivateIP(ip) {
				return nil, errors.Newf("private IP address blocked: %s", ip)
			}
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://evil.com@localhost/
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL contains userinfo (potential SSRF attempt)")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}
	if !c.blockPrivateIP {
		return nil
	}
	if isLocalhost(hostname) {
		return errors.New("localhost access blocked")
	}
	if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
		return errors.Newf("private IP address blocked: %s", hostname)
	}
	return nil
}

// ValidateURL validates a URL string before creating a request
func (c *SaferClient) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

var privateBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"fc00::/7",
		"fec0::/10",
		"2001:db8::/32",
	} {
		_, n, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, n)
	}
	return blocks
}()

func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	} else if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// Do executes an HTTP request with SSRF protection
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked by SSRF protection")
	}
	return c.Client.Do(req)
}

// WrapClient wraps an existing http.Client without address blocking.
// Tests use it to reach httptest servers on loopback.
func WrapClient(client *http.Client) *SaferClient {
	return &SaferClient{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		maxRedirects:   10,
	}
}
