package scraper

import (
	"github.com/agux/roscrape/internal/network"
)

// Outcome is the classification of a single fetch attempt.
type Outcome int

const (
	// OutcomeSuccess is a clean 2xx page.
	OutcomeSuccess Outcome = iota
	// OutcomeProxyFailure means the proxy is bad: transport error or a hard non-2xx status.
	// The proxy is removed.
	OutcomeProxyFailure
	// OutcomeChallenge means the target answered with a verification page, or with a status
	// configured as soft. The proxy stays in the pool but is no longer current.
	OutcomeChallenge
	// OutcomeFatal is an error unrelated to the proxy, such as a malformed request.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeProxyFailure:
		return "proxy_failure"
	case OutcomeChallenge:
		return "challenge"
	default:
		return "fatal"
	}
}

// Classify maps the result of one attempt to an Outcome. soft lists the non-2xx statuses that
// are handled like challenges instead of proxy failures.
func Classify(res *network.Response, err error, d *ChallengeDetector, soft map[int]bool) Outcome {
	switch {
	case err != nil && network.IsTransport(err):
		return OutcomeProxyFailure
	case err != nil:
		return OutcomeFatal
	case res == nil:
		return OutcomeFatal
	case !res.OK():
		if soft[res.StatusCode] {
			return OutcomeChallenge
		}
		return OutcomeProxyFailure
	case d.IsChallenge(res.Body):
		return OutcomeChallenge
	default:
		return OutcomeSuccess
	}
}
