package ingest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageMetadata summarizes navigational metadata extracted from a page.
type PageMetadata struct {
	Title       string
	Description string
	Canonical   string
	Feeds       []string
	Sitemaps    []string
	NextPage    string
}

var feedTypes = map[string]bool{
	"application/rss+xml":  true,
	"application/atom+xml": true,
}

// Well-known sitemap locations probed for every origin.
var sitemapCandidates = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/sitemaps.xml",
}

var sitemapRefPattern = regexp.MustCompile(`[A-Za-z0-9_~%/.:-]*sitemap[A-Za-z0-9_-]*\.xml`)

// ExtractPageMetadata pulls title, description, canonical link, feed links,
// sitemap references, and the rel=next pagination link out of raw HTML.
// Relative URLs are resolved against baseURL; anything that fails to parse
// is silently dropped.
func ExtractPageMetadata(rawHTML, baseURL string) PageMetadata {
	meta := PageMetadata{Canonical: baseURL}

	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
		meta.Canonical = ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		meta.Sitemaps = defaultSitemaps(base)
		return meta
	}

	meta.Title = NormalizeText(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		meta.Description = NormalizeText(desc)
	}

	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if resolved := resolveRef(base, href); resolved != "" {
			meta.Canonical = resolved
		}
	}
	if href, ok := doc.Find(`link[rel="next"]`).First().Attr("href"); ok {
		meta.NextPage = resolveRef(base, href)
	}

	doc.Find("link[type]").Each(func(_ int, sel *goquery.Selection) {
		linkType, _ := sel.Attr("type")
		if !feedTypes[strings.ToLower(strings.TrimSpace(linkType))] {
			return
		}
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		if resolved := resolveRef(base, href); resolved != "" {
			meta.Feeds = appendUnique(meta.Feeds, resolved)
		}
	})

	meta.Sitemaps = defaultSitemaps(base)
	for _, ref := range sitemapRefPattern.FindAllString(rawHTML, -1) {
		if resolved := resolveRef(base, ref); resolved != "" {
			meta.Sitemaps = appendUnique(meta.Sitemaps, resolved)
		}
	}

	return meta
}

func defaultSitemaps(base *url.URL) []string {
	if base == nil || base.Host == "" {
		return nil
	}
	origin := url.URL{Scheme: base.Scheme, Host: base.Host}
	out := make([]string, 0, len(sitemapCandidates))
	for _, p := range sitemapCandidates {
		candidate := origin
		candidate.Path = p
		out = append(out, candidate.String())
	}
	return out
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return parsed.String()
}

func appendUnique(list []string, candidate string) []string {
	for _, existing := range list {
		if existing == candidate {
			return list
		}
	}
	return append(list, candidate)
}
