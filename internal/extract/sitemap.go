package extract

import (
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// ParseSitemap returns the <loc> entries of a urlset or sitemapindex document.
func ParseSitemap(body string) ([]string, error) {
	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	nodes, err := xmlquery.QueryAll(doc, "//*[local-name()='loc']")
	if err != nil {
		return nil, fmt.Errorf("query sitemap: %w", err)
	}
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs, nil
}
