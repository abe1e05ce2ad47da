package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// LinkStrategy pulls candidate detail links out of a listing document.
type LinkStrategy func(doc *Document) []string

// LinkRules describes how listing pages are walked.
type LinkRules struct {
	// Detail is tried in order; the first strategy yielding links wins.
	Detail []LinkStrategy
	// NextPage yields the next listing URL, if any.
	NextPage []Strategy
}

// DetailLinks returns absolute, canonical, de-duplicated detail URLs from the
// first strategy that produced any.
func (r LinkRules) DetailLinks(doc *Document) []string {
	for _, s := range r.Detail {
		if s == nil {
			continue
		}
		if links := canonicalLinks(doc.URL, s(doc)); len(links) > 0 {
			return links
		}
	}
	return nil
}

// Next returns the absolute next-page URL, if any.
func (r LinkRules) Next(doc *Document) (string, bool) {
	v, ok := FirstOf(r.NextPage...)(doc)
	if !ok {
		return "", false
	}
	next, err := crawler.ResolveURL(doc.URL, v)
	if err != nil {
		return "", false
	}
	current, _ := crawler.NormalizeURL(doc.URL)
	if next == current {
		return "", false
	}
	return next, true
}

// LinkSelector collects attr from every element matching css.
func LinkSelector(css, attr string) LinkStrategy {
	return func(doc *Document) []string {
		h := doc.HTML()
		if h == nil {
			return nil
		}
		var out []string
		h.Find(css).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				out = append(out, v)
			}
		})
		return out
	}
}

// JSONIDs reads idField from every element of the array at listPath and
// renders each through template, replacing "{id}".
func JSONIDs(listPath, idField, template string) LinkStrategy {
	return func(doc *Document) []string {
		v, ok := Lookup(doc.JSON(), listPath)
		if !ok {
			return nil
		}
		items, ok := v.([]any)
		if !ok {
			return nil
		}
		var out []string
		for _, item := range items {
			raw, ok := Lookup(item, idField)
			if !ok {
				continue
			}
			if id, ok := Scalar(raw); ok && id != "" {
				out = append(out, strings.ReplaceAll(template, "{id}", id))
			}
		}
		return out
	}
}

// IDRegex scans the raw markup for pattern and renders the first capture
// group of every match through template.
func IDRegex(pattern, template string) LinkStrategy {
	re := regexp.MustCompile(pattern)
	return func(doc *Document) []string {
		if template == "" {
			return nil
		}
		var out []string
		for _, m := range re.FindAllStringSubmatch(doc.Raw(), -1) {
			if len(m) < 2 || m[1] == "" {
				continue
			}
			out = append(out, strings.ReplaceAll(template, "{id}", m[1]))
		}
		return out
	}
}

func canonicalLinks(base string, raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, link := range raw {
		if strings.HasPrefix(strings.TrimSpace(link), "javascript:") {
			continue
		}
		abs, err := crawler.ResolveURL(base, link)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
