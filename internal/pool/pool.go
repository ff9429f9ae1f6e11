package pool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/metrics"
	"github.com/agux/roscrape/internal/types"
	"github.com/pkg/errors"
)

var log = logging.Logger

// ErrExhausted is returned once every proxy has been removed from the pool.
var ErrExhausted = errors.New("no proxies available")

// Pool is an in-memory set of proxies with a single "current" selection shared by all fetch tasks.
// current is either nil or a member of proxies.
type Pool struct {
	mu      sync.Mutex
	proxies []*types.Proxy
	index   map[string]int
	current *types.Proxy
	rnd     *rand.Rand
}

// Option customizes a Pool.
type Option func(*Pool)

// WithRand sets the random source used for selection.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) {
		p.rnd = r
	}
}

// New builds a pool from the given proxies, dropping duplicates, and selects an initial current proxy.
func New(proxies []*types.Proxy, opts ...Option) *Pool {
	p := &Pool{
		proxies: make([]*types.Proxy, 0, len(proxies)),
		index:   make(map[string]int, len(proxies)),
	}
	for _, o := range opts {
		o(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	for _, px := range proxies {
		if px == nil {
			continue
		}
		if _, dup := p.index[px.UrlString()]; dup {
			continue
		}
		p.index[px.UrlString()] = len(p.proxies)
		p.proxies = append(p.proxies, px)
	}
	p.mu.Lock()
	p.selectLocked()
	p.mu.Unlock()
	return p
}

// Select picks a member uniformly at random as current, or clears current when the pool is empty.
func (p *Pool) Select() *types.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selectLocked()
}

// RemoveCurrent removes the current proxy from the pool. current stays nil until the next Select.
func (p *Pool) RemoveCurrent() *types.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := p.current
	if removed != nil {
		p.removeLocked(removed)
		p.current = nil
	}
	return removed
}

// Current returns the active proxy, or nil when the pool is exhausted.
func (p *Pool) Current() *types.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Next returns the current proxy, selecting one first if RemoveCurrent left the selection empty.
// It returns ErrExhausted only when no proxy is left.
func (p *Pool) Next() (*types.Proxy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		p.selectLocked()
	}
	if p.current == nil {
		return nil, ErrExhausted
	}
	return p.current, nil
}

// Fail handles a hard failure observed on px: px is removed if still present, and a new proxy is
// selected if px was current. It reports whether this call removed px, so concurrent failures on
// the same proxy remove it once.
func (p *Pool) Fail(px *types.Proxy) (removed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed = p.removeLocked(px)
	if p.current == nil || p.current.UrlString() == px.UrlString() {
		p.selectLocked()
	}
	if removed {
		log.Debugf("proxy %s removed, %d left", px, len(p.proxies))
	}
	return
}

// Rotate handles a soft failure on px: a new current proxy is selected if px is still current.
// Nothing is removed.
func (p *Pool) Rotate(px *types.Proxy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.current.UrlString() == px.UrlString() {
		p.selectLocked()
	}
}

// Size returns the number of proxies left.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// Contains reports whether px is still in the pool.
func (p *Pool) Contains(px *types.Proxy) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[px.UrlString()]
	return ok
}

// Snapshot returns a copy of the proxies currently in the pool.
func (p *Pool) Snapshot() []*types.Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Proxy(nil), p.proxies...)
}

func (p *Pool) selectLocked() *types.Proxy {
	if len(p.proxies) == 0 {
		p.current = nil
	} else {
		p.current = p.proxies[p.rnd.Intn(len(p.proxies))]
	}
	metrics.PoolSize.Set(float64(len(p.proxies)))
	return p.current
}

// removeLocked swaps px with the last element and truncates.
func (p *Pool) removeLocked(px *types.Proxy) bool {
	key := px.UrlString()
	i, ok := p.index[key]
	if !ok {
		return false
	}
	last := len(p.proxies) - 1
	if i != last {
		p.proxies[i] = p.proxies[last]
		p.index[p.proxies[i].UrlString()] = i
	}
	p.proxies[last] = nil
	p.proxies = p.proxies[:last]
	delete(p.index, key)
	if p.current != nil && p.current.UrlString() == key {
		p.current = nil
	}
	metrics.ProxiesRemoved.Inc()
	metrics.PoolSize.Set(float64(len(p.proxies)))
	return true
}
