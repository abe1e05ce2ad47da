// Package detector decides when a job page fetch should be repeated in a headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

const defaultThreshold = 2048

// serverDataSelector matches script payloads the extractor can read without
// rendering.
const serverDataSelector = `script#__NEXT_DATA__, script[type="application/ld+json"]`

// mountSelector matches the root nodes common SPA frameworks render into.
const mountSelector = "#root, #app, #__next"

// Heuristic flags 2xx HTML responses that look like an un-rendered
// single-page-app shell rather than a server-rendered job page.
type Heuristic struct {
	// BodyLengthThreshold bounds the pages checked for script-over-text.
	BodyLengthThreshold int
	// ContentMarkers, when set, are substrings a rendered page is expected
	// to contain, such as a posting container class.
	ContentMarkers []string
}

// NewHeuristic creates a detector. A zero threshold means 2048 bytes.
func NewHeuristic(threshold int, contentMarkers ...string) *Heuristic {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, ContentMarkers: contentMarkers}
}

// ShouldPromote reports whether resp needs a headless re-fetch. JSON bodies
// and pages that embed server-side data are never promoted.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	if looksJSON(resp.ContentType(), body) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find(serverDataSelector).Length() > 0 {
		return false
	}
	if hasEmptyMount(doc) {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptOutweighsText(doc) {
		return true
	}
	if len(h.ContentMarkers) == 0 {
		return false
	}
	for _, marker := range h.ContentMarkers {
		if bytes.Contains(body, []byte(marker)) {
			return false
		}
	}
	return true
}

func looksJSON(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	return body[0] == '{' || body[0] == '['
}

func hasEmptyMount(doc *goquery.Document) bool {
	empty := false
	doc.Find(mountSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() == 0 && strings.TrimSpace(s.Text()) == "" {
			empty = true
			return false
		}
		return true
	})
	return empty
}

// scriptOutweighsText compares inline script size with visible text. It
// removes script nodes from doc.
func scriptOutweighsText(doc *goquery.Document) bool {
	scripts := doc.Find("script")
	scriptLen := len(strings.TrimSpace(scripts.Text()))
	scripts.Remove()
	doc.Find("style, noscript").Remove()
	visible := strings.Join(strings.Fields(doc.Text()), " ")
	return scriptLen > len(visible)
}
