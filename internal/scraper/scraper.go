package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agux/roscrape/internal/conf"
	"github.com/agux/roscrape/internal/extract"
	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/network"
	"github.com/agux/roscrape/internal/pool"
	"github.com/agux/roscrape/internal/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var log = logging.Logger

// Doer performs one GET through the given proxy. Both network.Client and network.Browser satisfy it.
type Doer interface {
	Get(ctx context.Context, link string, px *types.Proxy) (*network.Response, error)
}

// Options tunes the fetch loop.
type Options struct {
	// URLTemplate receives the item id through fmt.Sprintf.
	URLTemplate string
	Concurrency int
	MaxAttempts int
	// TaskTimeout bounds a whole task, all attempts included. Zero disables it.
	TaskTimeout time.Duration
	// RetryDelay is the base of the jittered backoff between attempts. Zero retries immediately.
	RetryDelay   time.Duration
	MaxDelay     time.Duration
	SoftStatuses []int
	Detector     *ChallengeDetector
	// Limiter paces outgoing requests across all tasks. Nil means unlimited.
	Limiter *rate.Limiter
}

// OptionsFromConfig reads the `scraper`, `challenge` and `network` config sections.
func OptionsFromConfig() Options {
	s := conf.Args.Scraper
	o := Options{
		URLTemplate:  s.URLTemplate,
		Concurrency:  s.Concurrency,
		MaxAttempts:  s.MaxAttempts,
		TaskTimeout:  time.Duration(s.TaskTimeout) * time.Second,
		RetryDelay:   time.Duration(s.RetryDelay) * time.Millisecond,
		MaxDelay:     time.Duration(s.MaxDelay) * time.Millisecond,
		SoftStatuses: s.SoftStatuses,
		Detector:     DetectorFromConfig(),
	}
	if rps := conf.Args.Network.RequestsPerSecond; rps > 0 {
		burst := conf.Args.Network.Burst
		if burst <= 0 {
			burst = 1
		}
		o.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return o
}

// Scraper runs fetch tasks against a shared proxy pool.
type Scraper struct {
	pool *pool.Pool
	doer Doer
	opts Options
	soft map[int]bool
	sem  *semaphore.Weighted
}

// Result is what a finished task reports.
type Result struct {
	Item     string
	URL      string
	Response *network.Response
	Product  types.Product
	Err      error
}

// New builds a scraper. Non-positive concurrency or attempt limits are raised to 1.
func New(p *pool.Pool, d Doer, o Options) *Scraper {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.URLTemplate == "" {
		o.URLTemplate = "%s"
	}
	if o.MaxDelay < o.RetryDelay {
		o.MaxDelay = o.RetryDelay
	}
	soft := make(map[int]bool, len(o.SoftStatuses))
	for _, s := range o.SoftStatuses {
		soft[s] = true
	}
	return &Scraper{
		pool: p,
		doer: d,
		opts: o,
		soft: soft,
		sem:  semaphore.NewWeighted(int64(o.Concurrency)),
	}
}

// URL returns the page address for item.
func (s *Scraper) URL(item string) string {
	return fmt.Sprintf(s.opts.URLTemplate, item)
}

// Run starts one task per item and streams results in completion order. The channel is closed
// after the last task finishes.
func (s *Scraper) Run(ctx context.Context, items []string) <-chan Result {
	out := make(chan Result, len(items))
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item string) {
			defer wg.Done()
			link := s.URL(item)
			r := Result{Item: item, URL: link}
			r.Response, r.Err = s.FetchURL(ctx, item, link)
			if r.Err == nil {
				r.Product = extract.Product(item, link, r.Response.Body)
			}
			out <- r
		}(item)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Fetch retrieves the page for item through the pool.
func (s *Scraper) Fetch(ctx context.Context, item string) (*network.Response, error) {
	return s.FetchURL(ctx, item, s.URL(item))
}
