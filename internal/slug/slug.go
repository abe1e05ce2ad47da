// Package slug derives URL-safe, per-container unique slugs for postings.
package slug

import (
	"strconv"
	"strings"
)

// MaxLength bounds generated slugs.
const MaxLength = 200

// Make lower-cases title and keeps ASCII letters and digits, joining runs of
// anything else with a single dash. Non-ASCII titles may yield "".
func Make(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > MaxLength {
		out = strings.TrimRight(out[:MaxLength], "-")
	}
	return out
}

// ForPosting returns Make(title), or "job-<fallbackID>" when the title has no
// ASCII content.
func ForPosting(title, fallbackID string) string {
	if s := Make(title); s != "" {
		return s
	}
	id := strings.ReplaceAll(Make(fallbackID), "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return "job-" + id
}

// Unique appends -2, -3, ... to base until taken reports false.
func Unique(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		suffix := "-" + strconv.Itoa(n)
		candidate := base
		if len(candidate)+len(suffix) > MaxLength {
			candidate = strings.TrimRight(candidate[:MaxLength-len(suffix)], "-")
		}
		candidate += suffix
		if !taken(candidate) {
			return candidate
		}
	}
}
