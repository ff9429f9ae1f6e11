package ua

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/agux/roscrape/internal/logging"
	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"
)

var log = logging.Logger

// Header is a single request header. Profiles keep headers ordered the way the browser sends them.
type Header struct {
	Key   string
	Value string
}

// Profile is a browser fingerprint: the user agents it presents, its default request headers
// and the TLS ClientHello it sends.
type Profile struct {
	Name       string
	UserAgents []string
	Headers    []Header
	HelloID    utls.ClientHelloID
}

var (
	profiles = map[string]*Profile{
		"safari": {
			Name: "safari",
			UserAgents: []string{
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15",
			},
			Headers: []Header{
				{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
				{"Accept-Language", "en-US,en;q=0.9"},
				{"Sec-Fetch-Site", "none"},
				{"Sec-Fetch-Mode", "navigate"},
				{"Sec-Fetch-Dest", "document"},
			},
			HelloID: utls.HelloSafari_Auto,
		},
		"chrome": {
			Name: "chrome",
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			Headers: []Header{
				{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"},
				{"Accept-Language", "en-US,en;q=0.9"},
				{"Upgrade-Insecure-Requests", "1"},
				{"Sec-Fetch-Site", "none"},
				{"Sec-Fetch-Mode", "navigate"},
				{"Sec-Fetch-User", "?1"},
				{"Sec-Fetch-Dest", "document"},
			},
			HelloID: utls.HelloChrome_Auto,
		},
		"firefox": {
			Name: "firefox",
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
				"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			},
			Headers: []Header{
				{"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
				{"Accept-Language", "en-US,en;q=0.5"},
				{"Upgrade-Insecure-Requests", "1"},
				{"Sec-Fetch-Dest", "document"},
				{"Sec-Fetch-Mode", "navigate"},
				{"Sec-Fetch-Site", "none"},
			},
			HelloID: utls.HelloFirefox_Auto,
		},
	}
	uaLock = sync.Mutex{}
	rnd    = rand.New(rand.NewSource(rand.Int63()))
)

// Lookup returns the named profile, case-insensitive.
func Lookup(name string) (*Profile, error) {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return nil, errors.Errorf("unknown browser profile %q, available: %s", name, strings.Join(Names(), ", "))
}

// Names lists the available profile names.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PickUserAgent picks a user agent string of the profile randomly.
func (p *Profile) PickUserAgent() string {
	if len(p.UserAgents) == 0 {
		log.Warnf("profile %s has no user agent", p.Name)
		return ""
	}
	uaLock.Lock()
	defer uaLock.Unlock()
	return p.UserAgents[rnd.Intn(len(p.UserAgents))]
}
