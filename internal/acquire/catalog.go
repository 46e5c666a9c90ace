// Package acquire fetches the match archive catalog and downloads the
// archives it links to.
package acquire

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkText is the anchor text of a category's JSON archive link.
const LinkText = "JSON"

// Link is the JSON archive URL published for one catalog category.
type Link struct {
	Category string
	URL      string
}

// FindArchiveLinks parses a catalog page and returns, in categories order,
// the JSON archive link of every category it can find.
//
// For each category the first <dt> whose text contains the label is taken,
// then the first <dd> after it in document order, then the first <a> inside
// that <dd> whose trimmed text is "JSON". Its href is resolved against base.
// Categories without a link are returned in missing.
func FindArchiveLinks(r io.Reader, base *url.URL, categories []string) (links []Link, missing []string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire: parse catalog: %w", err)
	}

	terms := doc.Find("dt, dd")

	for _, category := range categories {
		href, ok := categoryHref(terms, category)
		if !ok {
			missing = append(missing, category)
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire: category %q: bad href %q: %w", category, href, err)
		}
		u := ref
		if base != nil {
			u = base.ResolveReference(ref)
		}
		links = append(links, Link{Category: category, URL: u.String()})
	}
	return links, missing, nil
}

// categoryHref scans dt/dd elements in document order.
func categoryHref(terms *goquery.Selection, category string) (string, bool) {
	var (
		href    string
		found   bool
		matched bool
	)
	terms.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !matched {
			if goquery.NodeName(s) == "dt" && strings.Contains(s.Text(), category) {
				matched = true
			}
			return true
		}
		if goquery.NodeName(s) != "dd" {
			return true
		}
		s.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
			if strings.TrimSpace(a.Text()) != LinkText {
				return true
			}
			href, found = a.Attr("href")
			return !found
		})
		return false
	})
	return href, found
}
