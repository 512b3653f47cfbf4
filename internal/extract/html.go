// Package extract pulls links, visible text and sitemap entries out of fetched documents.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func parse(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Links returns the absolute http(s) targets of every a[href] in document order,
// resolved against base (the page's final URL). A <base href> in the document
// takes precedence over base.
func Links(html, base string) ([]string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := parse(html)
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := baseURL.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = resolved
		}
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if link, ok := resolve(baseURL, href); ok {
			links = append(links, link)
		}
	})
	return links, nil
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}

// Text returns the document's visible text with whitespace collapsed to single spaces.
func Text(html string) (string, error) {
	doc, err := parse(html)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, template").Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	collectText(root, &b)
	return strings.Join(strings.Fields(b.String()), " "), nil
}

func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			b.WriteByte(' ')
			return
		}
		collectText(child, b)
	})
}

// Title returns the trimmed <title> text.
func Title(html string) string {
	doc, err := parse(html)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// SitemapLinks returns sitemap candidates for a page: every <link rel="sitemap"> href
// followed by /sitemap.xml on the page's origin.
func SitemapLinks(html, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	var out []string
	if doc, err := parse(html); err == nil {
		doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
			rel, _ := s.Attr("rel")
			if !strings.EqualFold(strings.TrimSpace(rel), "sitemap") {
				return
			}
			href, _ := s.Attr("href")
			if link, ok := resolve(baseURL, href); ok {
				out = append(out, link)
			}
		})
	}
	if fallback, ok := resolve(baseURL, "/sitemap.xml"); ok {
		out = append(out, fallback)
	}
	return out
}
