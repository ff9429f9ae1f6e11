package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/agux/roscrape/internal/types"
	"github.com/agux/roscrape/internal/ua"
	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
)

// dialVia opens a connection to addr tunnelled through px:
// SOCKS5 for socks proxies, HTTP CONNECT for http and https proxies.
func dialVia(ctx context.Context, px *types.Proxy, network, addr string,
	timeout time.Duration, insecure bool) (conn net.Conn, e error) {
	d := &net.Dialer{Timeout: timeout}
	if px.IsSOCKS() {
		var auth *proxy.Auth
		if px.User != "" {
			auth = &proxy.Auth{User: px.User, Password: px.Pass}
		}
		var dialer proxy.Dialer
		if dialer, e = proxy.SOCKS5("tcp", px.Addr(), auth, d); e != nil {
			return nil, errors.Wrapf(e, "Error creating SOCKS5 dialer for %s", px)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	if conn, e = d.DialContext(ctx, "tcp", px.Addr()); e != nil {
		return nil, errors.Wrapf(e, "failed to reach proxy %s", px)
	}
	if px.Type == types.HTTPS {
		tc := tls.Client(conn, &tls.Config{ServerName: px.Host, InsecureSkipVerify: insecure})
		if e = tc.HandshakeContext(ctx); e != nil {
			conn.Close()
			return nil, errors.Wrapf(e, "tls handshake with proxy %s failed", px)
		}
		conn = tc
	}
	return connect(ctx, conn, px, addr, timeout)
}

// connect issues an HTTP CONNECT for addr over an established proxy connection.
func connect(ctx context.Context, conn net.Conn, px *types.Proxy, addr string, timeout time.Duration) (net.Conn, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if px.User != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(px.User + ":" + px.Pass))
		req.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	deadline, ok := ctx.Deadline()
	if !ok && timeout > 0 {
		deadline, ok = time.Now().Add(timeout), true
	}
	if ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	if e := req.Write(conn); e != nil {
		conn.Close()
		return nil, errors.Wrapf(e, "failed to send CONNECT to proxy %s", px)
	}
	br := bufio.NewReader(conn)
	res, e := http.ReadResponse(br, req)
	if e != nil {
		conn.Close()
		return nil, errors.Wrapf(e, "failed to read CONNECT response from proxy %s", px)
	}
	// the body of a refused CONNECT is not drained, the connection is dropped instead
	if res.StatusCode != http.StatusOK {
		conn.Close()
		return nil, errors.Errorf("proxy %s refused CONNECT %s: %s", px, addr, res.Status)
	}
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// handshake runs a TLS client handshake on raw with the profile's ClientHello.
// ALPN is pinned to http/1.1 since the connection is handed to net/http's HTTP/1 transport.
func handshake(ctx context.Context, raw net.Conn, addr string, profile *ua.Profile, insecure bool) (net.Conn, error) {
	host, _, e := net.SplitHostPort(addr)
	if e != nil {
		host = addr
	}
	spec, e := utls.UTLSIdToSpec(profile.HelloID)
	if e != nil {
		raw.Close()
		return nil, errors.Wrapf(e, "no ClientHello spec for profile %s", profile.Name)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	uc := utls.UClient(raw, &utls.Config{ServerName: host, InsecureSkipVerify: insecure}, utls.HelloCustom)
	if e = uc.ApplyPreset(&spec); e != nil {
		raw.Close()
		return nil, errors.Wrapf(e, "failed to apply %s ClientHello", profile.Name)
	}
	if e = uc.HandshakeContext(ctx); e != nil {
		raw.Close()
		return nil, errors.Wrapf(e, "tls handshake with %s failed", addr)
	}
	return uc, nil
}
