package fetcher

import (
	"context"

	"github.com/agux/roscrape/internal/logging"
	t "github.com/agux/roscrape/internal/types"
	"github.com/pkg/errors"
)

var log = logging.Logger

// Source loads the proxy endpoints available to the pool. It is called once at startup.
type Source interface {
	//UID returns the unique identifier for this source.
	UID() string
	//Load reads the proxy list.
	Load(ctx context.Context) ([]*t.Proxy, error)
}

// Fetch loads proxies from src, dropping duplicates.
func Fetch(ctx context.Context, src Source) (ps []*t.Proxy, e error) {
	log.Debugf("fetching proxy servers from %s", src.UID())
	list, e := src.Load(ctx)
	if e != nil {
		return nil, errors.WithStack(e)
	}
	seen := make(map[string]bool, len(list))
	for _, p := range list {
		if seen[p.UrlString()] {
			continue
		}
		seen[p.UrlString()] = true
		ps = append(ps, p)
	}
	log.Infof("%d proxies available from %s", len(ps), src.UID())
	return
}
