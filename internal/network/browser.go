package network

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/agux/roscrape/internal/types"
	"github.com/agux/roscrape/internal/ua"
	"github.com/chromedp/cdproto/fetch"
	cdpnet "github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/pkg/errors"
)

// Browser renders pages in a fresh headless Chrome per request, routed through the proxy.
// It satisfies the same Get contract as Client.
type Browser struct {
	profile  *ua.Profile
	timeout  time.Duration
	headless bool
	noImage  bool
	headers  map[string]string
}

// NewBrowser creates a Browser. timeout bounds navigation plus document capture.
func NewBrowser(profile *ua.Profile, timeout time.Duration, headless, noImage bool, headers map[string]string) *Browser {
	return &Browser{
		profile:  profile,
		timeout:  timeout,
		headless: headless,
		noImage:  noImage,
		headers:  headers,
	}
}

// Get navigates to link and returns the document status and outer HTML.
func (b *Browser) Get(ctx context.Context, link string, px *types.Proxy) (res *Response, e error) {
	actx, cancel := chromedp.NewExecAllocator(ctx, b.allocatorOptions(px)...)
	defer cancel()
	bctx, cancel := chromedp.NewContext(actx)
	defer cancel()
	tctx, cancel := context.WithTimeout(bctx, b.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		status int64
		final  string
	)
	chromedp.ListenTarget(tctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *cdpnet.EventResponseReceived:
			if ev.Type == cdpnet.ResourceTypeDocument {
				mu.Lock()
				status = ev.Response.Status
				final = ev.Response.URL
				mu.Unlock()
			}
		case *fetch.EventRequestPaused:
			go func() {
				if e := chromedp.Run(tctx, fetch.ContinueRequest(ev.RequestID)); e != nil {
					log.Tracef("failed to continue paused request: %v", e)
				}
			}()
		case *fetch.EventAuthRequired:
			go func() {
				auth := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: px.User,
					Password: px.Pass,
				}
				if e := chromedp.Run(tctx, fetch.ContinueWithAuth(ev.RequestID, auth)); e != nil {
					log.Tracef("failed to answer proxy auth challenge: %v", e)
				}
			}()
		}
	})

	actions := []chromedp.Action{cdpnet.Enable()}
	if len(b.headers) > 0 {
		h := make(cdpnet.Headers, len(b.headers))
		for k, v := range b.headers {
			h[k] = v
		}
		actions = append(actions, cdpnet.SetExtraHTTPHeaders(h))
	}
	if px != nil && px.User != "" {
		actions = append(actions, fetch.Enable().WithHandleAuthRequests(true))
	}
	var html string
	actions = append(actions,
		chromedp.Navigate(link),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if e = chromedp.Run(tctx, actions...); e != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "browser fetch of %s aborted", link)
		}
		return nil, &TransportError{Proxy: px, URL: link, Err: e}
	}

	mu.Lock()
	defer mu.Unlock()
	if status == 0 {
		return nil, &TransportError{Proxy: px, URL: link, Err: errors.New("no document response captured")}
	}
	if final == "" {
		final = link
	}
	return &Response{StatusCode: int(status), Body: html, URL: final}, nil
}

func (b *Browser) allocatorOptions(px *types.Proxy) (o []chromedp.ExecAllocatorOption) {
	if px != nil {
		scheme := px.Type
		if px.IsSOCKS() {
			scheme = types.SOCKS5
		}
		p := fmt.Sprintf("%s://%s", scheme, px.Addr())
		log.Debugf("chrome is using proxy: %s", p)
		o = append(o, chromedp.ProxyServer(p))
	}
	if b.profile != nil {
		if agent := b.profile.PickUserAgent(); agent != "" {
			o = append(o, chromedp.UserAgent(agent))
		}
	}
	if b.noImage {
		o = append(o, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		if reflect.ValueOf(chromedp.Headless).Pointer() == reflect.ValueOf(opt).Pointer() && !b.headless {
			log.Debug("ignored headless mode")
			continue
		}
		o = append(o, opt)
	}
	return
}
