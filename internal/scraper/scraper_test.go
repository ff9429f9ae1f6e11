package scraper

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agux/roscrape/internal/extract"
	"github.com/agux/roscrape/internal/network"
	"github.com/agux/roscrape/internal/pool"
	"github.com/agux/roscrape/internal/types"
	"github.com/agux/roscrape/internal/ua"
	"github.com/pkg/errors"
)

const cleanPage = `<html><body><p>nothing to see</p></body></html>`

const challengePage = `<html><body><h4>Enter the characters you see below</h4></body></html>`

var detector = &ChallengeDetector{
	Selector:    "h4",
	Markers:     []string{"Enter the characters you see below"},
	BodyMarkers: []string{"/errors/validateCaptcha"},
}

type reply func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error)

// fakeDoer dispatches on the proxy address and counts calls.
type fakeDoer struct {
	mu     sync.Mutex
	calls  map[string]int
	total  int32
	routes map[string]reply
}

func newFakeDoer(routes map[string]reply) *fakeDoer {
	return &fakeDoer{calls: make(map[string]int), routes: routes}
}

func (f *fakeDoer) Get(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
	atomic.AddInt32(&f.total, 1)
	f.mu.Lock()
	f.calls[px.UrlString()]++
	f.mu.Unlock()
	return f.routes[px.UrlString()](ctx, link, px)
}

func (f *fakeDoer) count(px *types.Proxy) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[px.UrlString()]
}

func ok(body string) reply {
	return func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
		return &network.Response{StatusCode: http.StatusOK, Body: body, URL: link}, nil
	}
}

func status(code int) reply {
	return func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
		return &network.Response{StatusCode: code, Body: "", URL: link}, nil
	}
}

func timeout() reply {
	return func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
		return nil, &network.TransportError{Proxy: px, URL: link, Err: errors.New("i/o timeout")}
	}
}

func mustProxy(t *testing.T, s string) *types.Proxy {
	t.Helper()
	px, e := types.ParseProxy("test", s)
	if e != nil {
		t.Fatal(e)
	}
	return px
}

func taskErr(t *testing.T, e error) *TaskError {
	t.Helper()
	var te *TaskError
	if !errors.As(e, &te) {
		t.Fatalf("expected *TaskError, got %T: %v", e, e)
	}
	return te
}

func TestFetch_FailoverToCleanProxy(t *testing.T) {
	a, b := mustProxy(t, "http://10.0.0.1:8080"), mustProxy(t, "http://10.0.0.2:8080")
	p := pool.New([]*types.Proxy{a, b})
	for p.Current().UrlString() != a.UrlString() {
		p.Select()
	}
	d := newFakeDoer(map[string]reply{a.UrlString(): timeout(), b.UrlString(): ok(cleanPage)})
	s := New(p, d, Options{URLTemplate: "https://shop.example/dp/%s", MaxAttempts: 10, Detector: detector})

	res, e := s.Fetch(context.Background(), "B000")
	if e != nil {
		t.Fatalf("Fetch failed: %+v", e)
	}
	if res.Body != cleanPage {
		t.Errorf("unexpected body %q", res.Body)
	}
	if p.Size() != 1 || !p.Contains(b) || p.Contains(a) {
		t.Errorf("expected pool [B], got %v", p.Snapshot())
	}
	prod := extract.Product("B000", res.URL, res.Body)
	if prod.Title != extract.NoTitle || prod.Fraction != extract.NoFraction {
		t.Errorf("expected placeholders, got %+v", prod)
	}
}

func TestFetch_ChallengeBoundedByAttempts(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	d := newFakeDoer(map[string]reply{a.UrlString(): ok(challengePage)})
	s := New(p, d, Options{MaxAttempts: 5, Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, ErrRetryBudget) {
		t.Fatalf("expected retry budget error, got %v", e)
	}
	if te := taskErr(t, e); te.Attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", te.Attempts)
	}
	if d.count(a) != 5 {
		t.Errorf("expected 5 requests through A, got %d", d.count(a))
	}
	if p.Size() != 1 || !p.Contains(a) {
		t.Errorf("challenge must not shrink the pool, got %v", p.Snapshot())
	}
}

func TestFetch_BodyMarkerChallenge(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	d := newFakeDoer(map[string]reply{a.UrlString(): ok(`<form action="/errors/validateCaptcha"></form>`)})
	s := New(p, d, Options{MaxAttempts: 2, Detector: detector})

	if _, e := s.Fetch(context.Background(), "B000"); !errors.Is(e, ErrRetryBudget) {
		t.Errorf("expected retry budget error, got %v", e)
	}
	if p.Size() != 1 {
		t.Errorf("challenge must not shrink the pool")
	}
}

func TestFetch_EmptyPool(t *testing.T) {
	p := pool.New(nil)
	d := newFakeDoer(nil)
	s := New(p, d, Options{MaxAttempts: 5, Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, pool.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", e)
	}
	if !strings.Contains(e.Error(), "no proxies available") {
		t.Errorf("unexpected message %q", e.Error())
	}
	if atomic.LoadInt32(&d.total) != 0 {
		t.Errorf("no request should be issued, got %d", d.total)
	}
}

func TestFetch_ExhaustsPool(t *testing.T) {
	var ps []*types.Proxy
	routes := map[string]reply{}
	for _, s := range []string{"http://10.0.0.1:1", "http://10.0.0.2:2", "socks5://10.0.0.3:3"} {
		px := mustProxy(t, s)
		ps = append(ps, px)
		routes[px.UrlString()] = status(http.StatusForbidden)
	}
	p := pool.New(ps)
	d := newFakeDoer(routes)
	s := New(p, d, Options{MaxAttempts: 50, Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, pool.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", e)
	}
	if p.Size() != 0 || p.Current() != nil {
		t.Errorf("pool should be empty, got %v", p.Snapshot())
	}
	if n := atomic.LoadInt32(&d.total); n != 3 {
		t.Errorf("expected exactly one request per proxy, got %d", n)
	}

	// later tasks fail immediately
	if _, e = s.Fetch(context.Background(), "B001"); !errors.Is(e, pool.ErrExhausted) {
		t.Errorf("expected exhaustion, got %v", e)
	}
	if n := atomic.LoadInt32(&d.total); n != 3 {
		t.Errorf("no request expected on an exhausted pool, got %d", n)
	}
}

func TestFetch_ExhaustionWinsOverAttemptLimit(t *testing.T) {
	var ps []*types.Proxy
	routes := map[string]reply{}
	for _, s := range []string{"http://10.0.0.1:1", "http://10.0.0.2:2", "http://10.0.0.3:3"} {
		px := mustProxy(t, s)
		ps = append(ps, px)
		routes[px.UrlString()] = status(http.StatusForbidden)
	}
	p := pool.New(ps)
	s := New(p, newFakeDoer(routes), Options{MaxAttempts: len(ps), Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, pool.ErrExhausted) {
		t.Fatalf("expected exhaustion once every proxy failed, got %v", e)
	}
	if errors.Is(e, ErrRetryBudget) {
		t.Errorf("exhaustion must not be reported as a spent retry budget: %v", e)
	}
	if te := taskErr(t, e); te.Attempts != len(ps) {
		t.Errorf("expected %d attempts, got %d", len(ps), te.Attempts)
	}
}

func TestFetch_SoftStatusKeepsProxy(t *testing.T) {
	a, b := mustProxy(t, "http://10.0.0.1:8080"), mustProxy(t, "http://10.0.0.2:8080")
	p := pool.New([]*types.Proxy{a, b})
	for p.Current().UrlString() != a.UrlString() {
		p.Select()
	}
	d := newFakeDoer(map[string]reply{a.UrlString(): status(503), b.UrlString(): ok(cleanPage)})
	s := New(p, d, Options{MaxAttempts: 50, SoftStatuses: []int{503}, Detector: detector})

	if _, e := s.Fetch(context.Background(), "B000"); e != nil {
		t.Fatalf("Fetch failed: %+v", e)
	}
	if p.Size() != 2 {
		t.Errorf("soft status must not remove proxies, got %v", p.Snapshot())
	}
}

func TestFetch_NonTransportErrorStops(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	boom := errors.New("bad request url")
	d := newFakeDoer(map[string]reply{a.UrlString(): func(context.Context, string, *types.Proxy) (*network.Response, error) {
		return nil, boom
	}})
	s := New(p, d, Options{MaxAttempts: 50, Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, boom) {
		t.Fatalf("expected the request error, got %v", e)
	}
	if d.count(a) != 1 || p.Size() != 1 {
		t.Errorf("expected a single attempt and no removal, got %d calls, pool %v", d.count(a), p.Snapshot())
	}
}

func TestFetch_TaskTimeout(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	d := newFakeDoer(map[string]reply{a.UrlString(): func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
		<-ctx.Done()
		return nil, &network.TransportError{Proxy: px, URL: link, Err: ctx.Err()}
	}})
	s := New(p, d, Options{MaxAttempts: 50, TaskTimeout: 50 * time.Millisecond, Detector: detector})

	_, e := s.Fetch(context.Background(), "B000")
	if !errors.Is(e, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", e)
	}
	if p.Size() != 1 {
		t.Errorf("a task deadline must not remove the proxy")
	}
}

func TestFetch_RetryDelay(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	d := newFakeDoer(map[string]reply{a.UrlString(): ok(challengePage)})
	s := New(p, d, Options{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Detector:    detector,
	})
	if _, e := s.Fetch(context.Background(), "B000"); !errors.Is(e, ErrRetryBudget) {
		t.Errorf("expected retry budget error, got %v", e)
	}
	if d.count(a) != 3 {
		t.Errorf("expected 3 attempts, got %d", d.count(a))
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	var inflight, peak int32
	d := newFakeDoer(map[string]reply{a.UrlString(): func(ctx context.Context, link string, px *types.Proxy) (*network.Response, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return &network.Response{StatusCode: 200, Body: `<h1><span>T</span></h1>`, URL: link}, nil
	}})
	s := New(p, d, Options{URLTemplate: "http://shop.example/dp/%s", Concurrency: 2, MaxAttempts: 3, Detector: detector})

	items := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	seen := map[string]bool{}
	for r := range s.Run(context.Background(), items) {
		if r.Err != nil {
			t.Errorf("item %s failed: %v", r.Item, r.Err)
			continue
		}
		if r.Product.Title != "T" || r.URL != "http://shop.example/dp/"+r.Item {
			t.Errorf("unexpected result %+v", r)
		}
		seen[r.Item] = true
	}
	if len(seen) != len(items) {
		t.Errorf("expected %d results, got %d", len(items), len(seen))
	}
	if peak > 2 {
		t.Errorf("at most 2 tasks should be in flight, saw %d", peak)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	a := mustProxy(t, "http://10.0.0.1:8080")
	p := pool.New([]*types.Proxy{a})
	d := newFakeDoer(map[string]reply{a.UrlString(): ok(cleanPage)})
	s := New(p, d, Options{MaxAttempts: 3, Detector: detector})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for r := range s.Run(ctx, []string{"1", "2"}) {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("expected cancellation, got %v", r.Err)
		}
	}
	if p.Size() != 1 {
		t.Errorf("cancellation must not remove proxies")
	}
}

func TestClassify(t *testing.T) {
	soft := map[int]bool{503: true}
	transport := &network.TransportError{Err: errors.New("refused")}
	cases := []struct {
		name string
		res  *network.Response
		err  error
		want Outcome
	}{
		{"transport", nil, transport, OutcomeProxyFailure},
		{"wrapped transport", nil, errors.Wrap(transport, "get"), OutcomeProxyFailure},
		{"other error", nil, errors.New("bad url"), OutcomeFatal},
		{"404", &network.Response{StatusCode: 404}, nil, OutcomeProxyFailure},
		{"soft 503", &network.Response{StatusCode: 503}, nil, OutcomeChallenge},
		{"challenge", &network.Response{StatusCode: 200, Body: challengePage}, nil, OutcomeChallenge},
		{"clean", &network.Response{StatusCode: 200, Body: cleanPage}, nil, OutcomeSuccess},
	}
	for _, c := range cases {
		if got := Classify(c.res, c.err, detector, soft); got != c.want {
			t.Errorf("%s: want %s, got %s", c.name, c.want, got)
		}
	}
}

func TestEndToEnd_HTTPProxies(t *testing.T) {
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><h1><span>Desk Lamp</span></h1>` +
			`<span class="a-price-symbol">$</span><span class="a-price-whole">24.</span>` +
			`<span class="a-price-fraction">50</span></html>`))
	}))
	defer proxySrv.Close()

	// a listener that is closed right away leaves a port nobody answers on
	l, e := net.Listen("tcp", "127.0.0.1:0")
	if e != nil {
		t.Fatal(e)
	}
	dead := mustProxy(t, "http://"+l.Addr().String())
	l.Close()

	live := mustProxy(t, proxySrv.URL)
	p := pool.New([]*types.Proxy{dead, live})
	for p.Current().UrlString() != dead.UrlString() {
		p.Select()
	}
	profile, _ := ua.Lookup("chrome")
	s := New(p, network.NewClient(profile, 5*time.Second), Options{
		URLTemplate: "http://shop.example/dp/%s",
		MaxAttempts: 5,
		TaskTimeout: 30 * time.Second,
		Detector:    detector,
	})

	var got []Result
	for r := range s.Run(context.Background(), []string{"B0LAMP"}) {
		got = append(got, r)
	}
	if len(got) != 1 || got[0].Err != nil {
		t.Fatalf("unexpected results %+v", got)
	}
	prod := got[0].Product
	if prod.Title != "Desk Lamp" || prod.Symbol != "$" || prod.Whole != "24" || prod.Fraction != "50" {
		t.Errorf("unexpected product %+v", prod)
	}
	if p.Contains(dead) || !p.Contains(live) {
		t.Errorf("dead proxy should be removed, got %v", p.Snapshot())
	}
}
