package checker

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/agux/roscrape/internal/network"
	"github.com/agux/roscrape/internal/types"
)

var ipPattern = regexp.MustCompile(`(?:[0-9]{1,3}\.){3}[0-9]{1,3}`)

// Getter issues a GET through an optional proxy. network.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, link string, px *types.Proxy) (*network.Response, error)
}

// EchoIP extracts the caller address reported by an IP echo service, either httpbin style JSON
// ({"origin": "1.2.3.4"}) or plain text. It returns "" when no address is found.
func EchoIP(body string) string {
	var data struct {
		Origin string `json:"origin"`
	}
	if json.Unmarshal([]byte(body), &data) == nil && data.Origin != "" {
		body = data.Origin
	}
	if ip := ipPattern.FindString(body); ip != "" {
		return ip
	}
	return ""
}

// Relay requests echoURL through every proxy and keeps those that answer with a 2xx status.
// When our own outbound address can be determined, a proxy that echoes it back is dropped as
// well since it does not hide the caller. Some proxies relay to downstream nodes, so the echoed
// address is not required to equal the proxy host.
func Relay(ctx context.Context, g Getter, proxies []*types.Proxy, size int, echoURL string) []*types.Proxy {
	own := ""
	if res, e := g.Get(ctx, echoURL, nil); e != nil {
		log.Warnf("unable to determine outbound IP via %s: %+v", echoURL, e)
	} else if res.OK() {
		own = EchoIP(res.Body)
	}
	list := filter(ctx, proxies, size, func(px *types.Proxy) bool {
		res, e := g.Get(ctx, echoURL, px)
		if e != nil {
			log.Tracef("relay check failed [%s]: %+v", px, e)
			return false
		}
		if !res.OK() {
			log.Tracef("relay check failed [%s]: status %d", px, res.StatusCode)
			return false
		}
		ip := EchoIP(res.Body)
		if own != "" && strings.EqualFold(ip, own) {
			log.Tracef("proxy %s exposes our outbound address", px)
			return false
		}
		return true
	})
	log.Infof("%d of %d proxies passed the relay check via %s", len(list), len(proxies), echoURL)
	return list
}
