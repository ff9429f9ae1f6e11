package checker

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/types"
)

var log = logging.Logger

type job struct {
	idx int
	px  *types.Proxy
}

// Probe checks the listening port of every proxy with `size` concurrent workers
// and returns the reachable ones in their original order.
func Probe(ctx context.Context, proxies []*types.Proxy, size int, timeout time.Duration) []*types.Proxy {
	list := filter(ctx, proxies, size, func(px *types.Proxy) bool {
		return Reachable(ctx, px, timeout)
	})
	log.Infof("%d of %d proxies passed the reachability probe", len(list), len(proxies))
	return list
}

// Reachable reports whether a TCP connection to the proxy's host:port can be opened within timeout.
func Reachable(ctx context.Context, px *types.Proxy, timeout time.Duration) bool {
	d := &net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", px.Addr())
	if err != nil {
		log.Tracef("proxy probe failed [%s]: %+v", px, err)
		return false
	}
	conn.Close()
	return true
}

// filter runs keep over proxies with `size` workers, preserving order.
// Proxies not checked before ctx is done are dropped.
func filter(ctx context.Context, proxies []*types.Proxy, size int, keep func(*types.Proxy) bool) []*types.Proxy {
	if size <= 0 {
		size = 1
	}
	alive := make([]bool, len(proxies))
	chjobs := make(chan job, size)

	var wg sync.WaitGroup
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range chjobs {
				alive[j.idx] = keep(j.px)
			}
		}()
	}

feed:
	for i, px := range proxies {
		select {
		case chjobs <- job{i, px}:
		case <-ctx.Done():
			break feed
		}
	}
	close(chjobs)
	wg.Wait()

	list := make([]*types.Proxy, 0, len(proxies))
	for i, ok := range alive {
		if ok {
			list = append(list, proxies[i])
		}
	}
	return list
}
