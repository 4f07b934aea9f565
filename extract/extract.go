// Package extract pulls text fragments out of scraped markup using CSS
// selectors. Selectors come from operator-managed site configuration, so
// full CSS syntax is supported (goquery/cascadia), not a hand-rolled
// subset.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FirstText parses markup, selects the first element matching selector,
// and returns the first non-empty line of its text content, trimmed.
// ok is false when no element matches, when the element's text is blank,
// or when the markup cannot be parsed. A missing match is absence, not an
// error: stale selectors are an operational condition handled upstream.
func FirstText(markup []byte, selector string) (text string, ok bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return "", false
	}

	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}

	for _, line := range strings.Split(sel.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, true
		}
	}
	return "", false
}
