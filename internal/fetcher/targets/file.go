package targets

import (
	"context"
	"os"
	"strings"

	"github.com/agux/roscrape/internal/types"
	"github.com/pkg/errors"
)

// LocalFile reads proxies from a newline-delimited file of `host:port:user:pass`
// or `host:port` records. Lines that already are proxy urls are taken as is.
type LocalFile struct {
	Path   string
	Scheme string
}

// UID returns the unique identifier for this source.
func (f LocalFile) UID() string {
	return "file"
}

// Load reads and parses the file.
func (f LocalFile) Load(ctx context.Context) ([]*types.Proxy, error) {
	payload, e := os.ReadFile(f.Path)
	if e != nil {
		return nil, errors.Wrapf(e, "failed to read proxy file %s", f.Path)
	}
	return f.ParsePlainText(payload), nil
}

// ParsePlainText parses plain text payload and extracts proxy information.
func (f LocalFile) ParsePlainText(payload []byte) []*types.Proxy {
	scheme := f.Scheme
	if scheme == "" {
		scheme = types.HTTP
	}
	return parseLines(f.UID(), payload, func(line string) (*types.Proxy, error) {
		if strings.Contains(line, "://") {
			return types.ParseProxy(f.UID(), line)
		}
		// the password is the last field and may itself contain colons
		fields := strings.SplitN(line, ":", 4)
		switch len(fields) {
		case 2:
			return types.NewProxy(f.UID(), scheme, fields[0], fields[1], "", "")
		case 4:
			return types.NewProxy(f.UID(), scheme, fields[0], fields[1], fields[2], fields[3])
		default:
			return nil, errors.Errorf("expected host:port:user:pass, got %q", line)
		}
	})
}
