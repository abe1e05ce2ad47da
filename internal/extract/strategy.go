package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy pulls one candidate value out of a document.
type Strategy func(doc *Document) (string, bool)

// FirstOf tries strategies in order and returns the first value whose visible
// text is non-empty.
func FirstOf(strategies ...Strategy) Strategy {
	return func(doc *Document) (string, bool) {
		for _, s := range strategies {
			if s == nil {
				continue
			}
			if v, ok := s(doc); ok && StripMarkup(v) != "" {
				return v, true
			}
		}
		return "", false
	}
}

// Selector returns the cleaned text of the first element matching css.
func Selector(css string) Strategy {
	return func(doc *Document) (string, bool) {
		sel := first(doc, css)
		if sel == nil {
			return "", false
		}
		v := CollapseSpace(sel.Text())
		return v, v != ""
	}
}

// SelectorHTML returns the sanitized inner markup of the first match.
func SelectorHTML(css string) Strategy {
	return func(doc *Document) (string, bool) {
		sel := first(doc, css)
		if sel == nil {
			return "", false
		}
		inner, err := sel.Html()
		if err != nil {
			return "", false
		}
		v := SanitizeDescription(inner)
		return v, v != ""
	}
}

// Attr returns an attribute of the first element matching css.
func Attr(css, attr string) Strategy {
	return func(doc *Document) (string, bool) {
		sel := first(doc, css)
		if sel == nil {
			return "", false
		}
		v, ok := sel.Attr(attr)
		v = CollapseSpace(v)
		return v, ok && v != ""
	}
}

// Meta returns the content of <meta name|property=name>.
func Meta(name string) Strategy {
	return Attr(`meta[name="`+name+`"], meta[property="`+name+`"]`, "content")
}

// Regex applies pattern to the visible text and returns the first capture
// group, or the whole match when the pattern has no groups.
func Regex(pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return func(doc *Document) (string, bool) {
		return matchFirst(re, doc.Text())
	}
}

// RawRegex is Regex over the undecoded markup, scripts included.
func RawRegex(pattern string) Strategy {
	re := regexp.MustCompile(pattern)
	return func(doc *Document) (string, bool) {
		return matchFirst(re, doc.Raw())
	}
}

// JSONPath reads a scalar from a JSON body. Markup in the value is stripped.
func JSONPath(path string) Strategy {
	return func(doc *Document) (string, bool) {
		v, ok := Lookup(doc.JSON(), path)
		if !ok {
			return "", false
		}
		s, ok := Scalar(v)
		if !ok {
			return "", false
		}
		s = StripMarkup(s)
		return s, s != ""
	}
}

// JSONPathHTML is JSONPath for fields that carry description markup.
func JSONPathHTML(path string) Strategy {
	return func(doc *Document) (string, bool) {
		v, ok := Lookup(doc.JSON(), path)
		if !ok {
			return "", false
		}
		s, ok := Scalar(v)
		if !ok {
			return "", false
		}
		s = SanitizeDescription(s)
		return s, s != ""
	}
}

// EmbeddedJSON searches JSON payloads inside <script> elements matching
// scriptCSS (for example `script#__NEXT_DATA__` or
// `script[type="application/ld+json"]`) and reads path from the first payload
// that has it.
func EmbeddedJSON(scriptCSS, path string) Strategy {
	return func(doc *Document) (string, bool) {
		for _, payload := range doc.embeddedJSON(scriptCSS) {
			v, ok := Lookup(payload, path)
			if !ok {
				continue
			}
			if s, ok := Scalar(v); ok {
				if s = StripMarkup(s); s != "" {
					return s, true
				}
			}
		}
		return "", false
	}
}

func first(doc *Document, css string) *goquery.Selection {
	h := doc.HTML()
	if h == nil {
		return nil
	}
	sel := h.Find(css).First()
	if sel.Length() == 0 {
		return nil
	}
	return sel
}

func matchFirst(re *regexp.Regexp, s string) (string, bool) {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	v := m[0]
	if len(m) > 1 {
		v = m[1]
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
