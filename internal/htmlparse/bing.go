// Package htmlparse extracts ad and link counts from rendered search pages.
package htmlparse

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/serpscout/serpscout/internal/keywords"
)

// adSelector matches Bing's sponsored-result containers. Blocks can nest, so
// counting goes by top-level containers only.
const adSelector = ".b_ad, .sb_add"

// BingParser counts ads and links on a Bing results page.
type BingParser struct{}

// NewBingParser returns a Bing page parser.
func NewBingParser() BingParser { return BingParser{} }

// Parse counts top-level sponsored blocks and all anchors in the document.
func (BingParser) Parse(html string) (keywords.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return keywords.ParseResult{}, fmt.Errorf("parsing document: %w", err)
	}

	ads := 0
	doc.Find(adSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered(adSelector).Length() == 0 {
			ads++
		}
	})

	return keywords.ParseResult{
		TotalAds:   ads,
		TotalLinks: doc.Find("a").Length(),
	}, nil
}
