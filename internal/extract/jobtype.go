package extract

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

var (
	internMarker   = regexp.MustCompile(`(?i)\binterns?(hip)?\b|实习`)
	partTimeMarker = regexp.MustCompile(`(?i)\bpart[- ]?time\b|兼职`)

	jobTypeCodes = map[string]crawler.JobType{
		"0001":      crawler.JobTypeFullTime,
		"0002":      crawler.JobTypeIntern,
		"0003":      crawler.JobTypePartTime,
		"fulltime":  crawler.JobTypeFullTime,
		"full-time": crawler.JobTypeFullTime,
		"intern":    crawler.JobTypeIntern,
		"parttime":  crawler.JobTypePartTime,
		"part-time": crawler.JobTypePartTime,
		"全职":        crawler.JobTypeFullTime,
		"实习":        crawler.JobTypeIntern,
		"兼职":        crawler.JobTypePartTime,
	}
)

// ParseJobType maps an explicit job type value (site code or label).
func ParseJobType(explicit string) (crawler.JobType, bool) {
	t, ok := jobTypeCodes[strings.ToLower(strings.TrimSpace(explicit))]
	return t, ok
}

// ClassifyJobType resolves the job type for a document. A recognised explicit
// value wins; otherwise the text is scanned for markers, intern before
// part-time, and full-time is the default.
func ClassifyJobType(explicit, text string) crawler.JobType {
	if t, ok := ParseJobType(explicit); ok {
		return t
	}
	switch {
	case internMarker.MatchString(explicit) || internMarker.MatchString(text):
		return crawler.JobTypeIntern
	case partTimeMarker.MatchString(explicit) || partTimeMarker.MatchString(text):
		return crawler.JobTypePartTime
	default:
		return crawler.JobTypeFullTime
	}
}
