package extract

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

func (d *Document) embeddedJSON(scriptCSS string) []any {
	h := d.HTML()
	if h == nil {
		return nil
	}
	var out []any
	h.Find(scriptCSS).Each(func(_ int, s *goquery.Selection) {
		body := strings.TrimSpace(s.Text())
		if body == "" {
			return
		}
		var v any
		if err := json.Unmarshal([]byte(body), &v); err == nil {
			out = append(out, v)
		}
	})
	return out
}

// Readability extracts the main article content as sanitized markup. It is a
// last-resort description strategy for pages without usable selectors.
func Readability() Strategy {
	return func(doc *Document) (string, bool) {
		if doc.IsJSON() {
			return "", false
		}
		pageURL, err := url.Parse(doc.URL)
		if err != nil {
			return "", false
		}
		article, err := readability.FromReader(strings.NewReader(doc.Raw()), pageURL)
		if err != nil {
			return "", false
		}
		v := SanitizeDescription(article.Content)
		return v, StripMarkup(v) != ""
	}
}
