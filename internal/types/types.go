package types

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Supported proxy schemes.
const (
	HTTP    = "http"
	HTTPS   = "https"
	SOCKS5  = "socks5"
	SOCKS5H = "socks5h"
)

// Proxy is an immutable proxy endpoint. Two endpoints are the same proxy
// when their UrlString() values are equal.
type Proxy struct {
	Source string
	Type   string
	Host   string
	Port   string
	User   string
	Pass   string

	raw string
}

// NewProxy creates an instance of Proxy.
func NewProxy(source, ptype, host, port, user, pass string) (p *Proxy, e error) {
	ptype = strings.ToLower(strings.TrimSpace(ptype))
	switch ptype {
	case HTTP, HTTPS, SOCKS5, SOCKS5H:
	default:
		return nil, errors.Errorf("unsupported proxy scheme %q", ptype)
	}
	if host == "" || port == "" {
		return nil, errors.Errorf("proxy host and port are required, got %q:%q", host, port)
	}
	p = &Proxy{
		Source: source,
		Type:   ptype,
		Host:   host,
		Port:   port,
		User:   user,
		Pass:   pass,
	}
	p.raw = p.URL().String()
	return
}

// ParseProxy parses `scheme://[user:pass@]host:port`. A missing scheme defaults to http.
func ParseProxy(source, s string) (*Proxy, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty proxy string")
	}
	if !strings.Contains(s, "://") {
		s = HTTP + "://" + s
	}
	u, e := url.Parse(s)
	if e != nil {
		return nil, errors.Wrapf(e, "invalid proxy url %q", s)
	}
	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return NewProxy(source, u.Scheme, u.Hostname(), u.Port(), user, pass)
}

// URL returns the proxy as *url.URL, including credentials.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: p.Type, Host: p.Addr()}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u
}

// UrlString returns the canonical identity of the proxy.
func (p *Proxy) UrlString() string {
	return p.raw
}

// Addr returns host:port.
func (p *Proxy) Addr() string {
	return net.JoinHostPort(p.Host, p.Port)
}

// IsSOCKS reports whether the proxy speaks SOCKS5.
func (p *Proxy) IsSOCKS() bool {
	return p.Type == SOCKS5 || p.Type == SOCKS5H
}

// String hides credentials so the value can be logged.
func (p *Proxy) String() string {
	if p == nil {
		return "<nil>"
	}
	if p.User == "" {
		return p.raw
	}
	return fmt.Sprintf("%s://%s:***@%s", p.Type, p.User, p.Addr())
}

// Product is the fixed-shape record extracted from a product page.
type Product struct {
	Item     string
	URL      string
	Title    string
	Symbol   string
	Whole    string
	Fraction string
}
