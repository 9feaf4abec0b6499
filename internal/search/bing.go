// Package search builds result-page URLs for supported search engines.
package search

import "net/url"

// Bing builds Bing web-search URLs.
type Bing struct{}

// NewBing returns a Bing search engine.
func NewBing() Bing { return Bing{} }

// SearchURL returns the results page for the given keyword.
func (Bing) SearchURL(keyword string) string {
	return "https://www.bing.com/search?q=" + url.QueryEscape(keyword)
}
