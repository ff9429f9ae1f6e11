package targets

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/types"
)

var log = logging.Logger

// lineParser turns one non-empty, non-comment line into a proxy.
type lineParser func(line string) (*types.Proxy, error)

// parseLines scans a newline-delimited payload. Malformed lines are logged and skipped.
func parseLines(uid string, payload []byte, parse lineParser) (ps []*types.Proxy) {
	sc := bufio.NewScanner(bytes.NewReader(payload))
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, e := parse(line)
		if e != nil {
			log.Warnf("%s: skipping line %d: %v", uid, n, e)
			continue
		}
		ps = append(ps, p)
	}
	if e := sc.Err(); e != nil {
		log.Errorf("%s: failed to scan proxy list: %+v", uid, e)
	}
	return
}
