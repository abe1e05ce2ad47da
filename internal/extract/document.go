package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Document is a decoded response body with lazily built HTML and JSON views.
type Document struct {
	URL         string
	ContentType string
	raw         string

	htmlOnce sync.Once
	html     *goquery.Document
	text     string

	jsonOnce sync.Once
	json     any
}

// NewDocument decodes resp into a Document. Bodies that are still compressed,
// are not valid UTF-8 after charset conversion, or contain NUL bytes are
// reported as crawler.ErrUndecodable.
func NewDocument(resp crawler.FetchResponse) (*Document, error) {
	if stillEncoded(contentEncoding(resp), resp.Body) {
		return nil, fmt.Errorf("%w: content-encoding %q", crawler.ErrUndecodable, contentEncoding(resp))
	}
	return FromBytes(resp.URL, resp.ContentType(), resp.Body)
}

var gzipMagic = []byte{0x1f, 0x8b}

// stillEncoded reports whether body has not been decoded yet. The fetcher
// gunzips transparently, so a gzip label only counts when the magic bytes
// are still there; other encodings are never decoded upstream.
func stillEncoded(encoding string, body []byte) bool {
	switch encoding {
	case "", "identity":
		return false
	case "gzip", "x-gzip":
		return bytes.HasPrefix(body, gzipMagic)
	default:
		return true
	}
}

// FromBytes decodes body using the charset declared in contentType or sniffed
// from the markup.
func FromBytes(url, contentType string, body []byte) (*Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrUndecodable, err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crawler.ErrUndecodable, err)
	}
	if !utf8.Valid(decoded) || bytes.IndexByte(decoded, 0) >= 0 {
		return nil, fmt.Errorf("%w: body is not text", crawler.ErrUndecodable)
	}
	return &Document{URL: url, ContentType: contentType, raw: string(decoded)}, nil
}

func contentEncoding(resp crawler.FetchResponse) string {
	if resp.Headers == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(resp.Headers.Get("Content-Encoding")))
}

// Raw returns the decoded body as-is.
func (d *Document) Raw() string {
	return d.raw
}

// HTML returns the parsed goquery document, or nil for JSON bodies.
func (d *Document) HTML() *goquery.Document {
	d.parseHTML()
	return d.html
}

// Text returns whitespace-collapsed visible text. JSON bodies return the raw body.
func (d *Document) Text() string {
	d.parseHTML()
	return d.text
}

func (d *Document) parseHTML() {
	d.htmlOnce.Do(func() {
		if d.IsJSON() {
			d.text = d.raw
			return
		}
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.raw))
		if err != nil {
			d.text = CollapseSpace(d.raw)
			return
		}
		d.html = doc
		d.text = CollapseSpace(visibleText(doc.Find("body").Nodes))
	})
}

// visibleText joins every text node under roots with a space, skipping
// script content, so text from adjacent elements never runs together.
func visibleText(roots []*html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range roots {
		walk(n)
	}
	return b.String()
}

// IsJSON reports whether the body is a JSON payload.
func (d *Document) IsJSON() bool {
	if strings.Contains(strings.ToLower(d.ContentType), "json") {
		return true
	}
	trimmed := strings.TrimSpace(d.raw)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// JSON returns the decoded JSON body or nil.
func (d *Document) JSON() any {
	d.jsonOnce.Do(func() {
		if !d.IsJSON() {
			return
		}
		var v any
		if err := json.Unmarshal([]byte(d.raw), &v); err == nil {
			d.json = v
		}
	})
	return d.json
}

// Lookup walks a dotted path ("data.company.name", "data.0.id") through
// decoded JSON.
func Lookup(v any, path string) (any, bool) {
	if path == "" {
		return v, v != nil
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// Scalar renders a JSON leaf as a string.
func Scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}
