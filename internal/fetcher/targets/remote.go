package targets

import (
	"context"
	"time"

	"github.com/agux/roscrape/internal/types"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// RemoteList downloads a newline-delimited list of `scheme://[user:pass@]host:port` entries,
// such as the proxyscrape free proxy API.
type RemoteList struct {
	URL     string
	Timeout time.Duration
	Retry   int

	client *resty.Client
}

// NewRemoteList creates a RemoteList source.
func NewRemoteList(url string, timeout time.Duration, retry int) *RemoteList {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retry).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})
	return &RemoteList{URL: url, Timeout: timeout, Retry: retry, client: client}
}

// UID returns the unique identifier for this source.
func (f *RemoteList) UID() string {
	return "remote"
}

// Load fetches and parses the list.
func (f *RemoteList) Load(ctx context.Context) (ps []*types.Proxy, e error) {
	res, e := f.client.R().SetContext(ctx).Get(f.URL)
	if e != nil {
		return nil, errors.Wrapf(e, "failed to get proxy list from %s", f.URL)
	}
	if res.IsError() {
		return nil, errors.Errorf("proxy list %s returned %s", f.URL, res.Status())
	}
	log.Tracef("plain text returned from %s:\n%s", f.URL, res.String())
	return f.ParsePlainText(res.Body()), nil
}

// ParsePlainText parses plain text payload and extracts proxy information.
func (f *RemoteList) ParsePlainText(payload []byte) []*types.Proxy {
	return parseLines(f.UID(), payload, func(line string) (*types.Proxy, error) {
		return types.ParseProxy(f.UID(), line)
	})
}
