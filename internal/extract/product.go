package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/types"
)

var log = logging.Logger

// Placeholders reported when a selector has no match.
const (
	NoTitle    = "Title not found"
	NoSymbol   = "Symbol not found"
	NoWhole    = "Whole part not found"
	NoFraction = "Fraction not found"
)

// Product pulls title and price parts out of a product page. Missing nodes fall back to
// placeholders, an unparsable page yields all placeholders.
func Product(item, url, body string) types.Product {
	p := types.Product{
		Item:     item,
		URL:      url,
		Title:    NoTitle,
		Symbol:   NoSymbol,
		Whole:    NoWhole,
		Fraction: NoFraction,
	}
	doc, e := goquery.NewDocumentFromReader(strings.NewReader(body))
	if e != nil {
		log.Warnf("unable to parse page for %s: %+v", item, e)
		return p
	}
	if s, ok := first(doc, "h1 span"); ok {
		p.Title = s
	}
	if s, ok := first(doc, "span.a-price-symbol"); ok {
		p.Symbol = s
	}
	if s, ok := first(doc, "span.a-price-whole"); ok {
		p.Whole = strings.ReplaceAll(s, ".", "")
	}
	if s, ok := first(doc, "span.a-price-fraction"); ok {
		p.Fraction = s
	}
	return p
}

func first(doc *goquery.Document, sel string) (string, bool) {
	s := doc.Find(sel).First()
	if s.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(s.Text()), true
}
