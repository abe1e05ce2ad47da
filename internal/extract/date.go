package extract

import (
	"regexp"
	"strings"
	"time"
)

var (
	datePattern = regexp.MustCompile(`\d{4}\s*[-/.年]\s*\d{1,2}\s*[-/.月]\s*\d{1,2}\s*日?`)
	dateLayouts = []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2006-1-2",
		"2006/01/02",
		"2006/1/2",
		"2006.01.02",
		"2006.1.2",
	}
	dateSeparators = strings.NewReplacer("年", "-", "月", "-", "日", "", " ", "")
)

// DatePattern is a Regex strategy that finds the first date-like substring.
func DatePattern() Strategy {
	return func(doc *Document) (string, bool) {
		return matchFirst(datePattern, doc.Text())
	}
}

// ParseDate parses the date formats job boards commonly use.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	if m := datePattern.FindString(s); m != "" {
		normalized := dateSeparators.Replace(m)
		for _, layout := range dateLayouts {
			if t, err := time.ParseInLocation(layout, normalized, time.UTC); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
