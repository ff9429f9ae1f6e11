package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/types"
	"github.com/agux/roscrape/internal/ua"
	"github.com/pkg/errors"
)

var log = logging.Logger

// maxBodySize caps how much of a page is read into memory.
var maxBodySize int64 = 16 << 20

// ErrBodyTooLarge is returned when a page exceeds maxBodySize. The page is discarded rather than
// parsed partially.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is the outcome of a request that reached the target and got an HTTP answer.
type Response struct {
	StatusCode int
	Body       string
	URL        string
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// TransportError is returned when the request never produced an HTTP response:
// connection refused, timeouts, TLS or proxy handshake failures, truncated bodies.
type TransportError struct {
	Proxy *types.Proxy
	URL   string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure via %s for %s: %v", e.Proxy, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client issues GET requests through a per-request proxy while presenting a browser profile.
type Client struct {
	profile  *ua.Profile
	timeout  time.Duration
	insecure bool
	headers  map[string]string
	cookies  []*http.Cookie
}

// Option customizes a Client.
type Option func(*Client)

// WithHeaders adds headers sent with every request, overriding profile headers of the same name.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithCookies adds cookies sent with every request.
func WithCookies(cookies map[string]string) Option {
	return func(c *Client) {
		for k, v := range cookies {
			c.cookies = append(c.cookies, &http.Cookie{Name: k, Value: v})
		}
	}
}

// WithInsecureSkipVerify disables certificate verification towards targets and https proxies.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		c.insecure = skip
	}
}

// NewClient creates a Client. timeout bounds each request including reading the body.
func NewClient(profile *ua.Profile, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		profile: profile,
		timeout: timeout,
		headers: make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get fetches link through px. A nil px connects directly.
// Failures before an HTTP response is read come back as *TransportError;
// any status code, including errors, comes back as a Response.
func (c *Client) Get(ctx context.Context, link string, px *types.Proxy) (res *Response, e error) {
	req, e := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if e != nil {
		return nil, errors.Wrapf(e, "unable to create http request for %s", link)
	}
	c.decorate(req)

	transport := c.transport(px)
	defer transport.CloseIdleConnections()
	client := &http.Client{
		Timeout:   c.timeout,
		Transport: transport,
	}

	if px != nil {
		log.Tracef("sending HTTP request via proxy [%s]: %s", px, link)
	}
	resp, e := client.Do(req)
	if e != nil {
		return nil, &TransportError{Proxy: px, URL: link, Err: e}
	}
	defer resp.Body.Close()

	body, e := readBody(resp)
	if errors.Is(e, ErrBodyTooLarge) {
		return nil, errors.Wrapf(e, "%s via %s", link, px)
	}
	if e != nil {
		return nil, &TransportError{Proxy: px, URL: link, Err: errors.Wrap(e, "failed to read response body")}
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		URL:        resp.Request.URL.String(),
	}, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.profile != nil {
		for _, h := range c.profile.Headers {
			req.Header.Set(h.Key, h.Value)
		}
		if agent := c.profile.PickUserAgent(); agent != "" {
			req.Header.Set("User-Agent", agent)
		}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
}

// transport builds a single-use transport for px.
// Plain http targets go through the standard proxy support for http proxies.
// https targets are always tunnelled by dialVia so the TLS handshake can carry the profile's ClientHello.
func (c *Client) transport(px *types.Proxy) *http.Transport {
	t := &http.Transport{
		DisableKeepAlives:   true,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: c.insecure},
		TLSHandshakeTimeout: c.timeout,
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if px == nil {
			d := &net.Dialer{Timeout: c.timeout}
			return d.DialContext(ctx, network, addr)
		}
		return dialVia(ctx, px, network, addr, c.timeout, c.insecure)
	}
	switch {
	case px == nil:
	case px.Type == types.HTTP:
		proxyURL := px.URL()
		t.Proxy = func(r *http.Request) (*url.URL, error) {
			if r.URL.Scheme == "https" {
				return nil, nil
			}
			return proxyURL, nil
		}
	default:
		t.DialContext = dial
	}
	t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, e := dial(ctx, network, addr)
		if e != nil {
			return nil, e
		}
		return handshake(ctx, raw, addr, c.helloProfile(), c.insecure)
	}
	return t
}

func (c *Client) helloProfile() *ua.Profile {
	if c.profile != nil {
		return c.profile
	}
	p, _ := ua.Lookup("safari")
	return p
}

func readBody(resp *http.Response) (string, error) {
	raw, e := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if e != nil {
		return "", e
	}
	if int64(len(raw)) > maxBodySize {
		return "", errors.Wrapf(ErrBodyTooLarge, "more than %d bytes", maxBodySize)
	}
	r, e := decodeReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if e != nil {
		return "", e
	}
	b, e := io.ReadAll(r)
	if e != nil {
		return "", e
	}
	return string(b), nil
}
