package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/agux/roscrape/internal/conf"
)

// ChallengeDetector recognizes bot-verification pages served with a 2xx status.
type ChallengeDetector struct {
	// Selector picks the node whose text is matched against Markers. Only the first match counts.
	Selector string
	Markers  []string
	// BodyMarkers are matched against the raw page source.
	BodyMarkers []string
}

// DetectorFromConfig builds a detector from the `challenge` config section.
func DetectorFromConfig() *ChallengeDetector {
	c := conf.Args.Challenge
	return &ChallengeDetector{
		Selector:    c.Selector,
		Markers:     c.Markers,
		BodyMarkers: c.BodyMarkers,
	}
}

// IsChallenge reports whether body looks like a challenge page.
func (d *ChallengeDetector) IsChallenge(body string) bool {
	if d == nil {
		return false
	}
	for _, m := range d.BodyMarkers {
		if m != "" && strings.Contains(body, m) {
			return true
		}
	}
	if d.Selector == "" || len(d.Markers) == 0 {
		return false
	}
	doc, e := goquery.NewDocumentFromReader(strings.NewReader(body))
	if e != nil {
		log.Debugf("unable to parse page for challenge markers: %+v", e)
		return false
	}
	txt := doc.Find(d.Selector).First().Text()
	for _, m := range d.Markers {
		if m != "" && strings.Contains(txt, m) {
			return true
		}
	}
	return false
}
