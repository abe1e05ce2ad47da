package extract

import (
	"fmt"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Column limits carried over from the posting schema.
const (
	maxTitleLen    = 255
	maxCompanyLen  = 255
	maxLocationLen = 100
	maxSalaryLen   = 100
)

// Rules holds one strategy chain per posting field.
type Rules struct {
	Title       []Strategy
	Company     []Strategy
	Location    []Strategy
	Salary      []Strategy
	Description []Strategy
	JobType     []Strategy
	PublishedAt []Strategy
}

// Extractor applies Rules to detail documents.
type Extractor struct {
	chains  map[string]Strategy
	order   []string
	jobType Strategy
}

// NewExtractor compiles rules into first-success-wins chains.
func NewExtractor(rules Rules) *Extractor {
	return &Extractor{
		chains: map[string]Strategy{
			crawler.FieldTitle:       FirstOf(rules.Title...),
			crawler.FieldCompany:     FirstOf(rules.Company...),
			crawler.FieldLocation:    FirstOf(rules.Location...),
			crawler.FieldSalary:      FirstOf(rules.Salary...),
			crawler.FieldDescription: FirstOf(rules.Description...),
			crawler.FieldPublishedAt: FirstOf(rules.PublishedAt...),
		},
		order: []string{
			crawler.FieldTitle,
			crawler.FieldCompany,
			crawler.FieldLocation,
			crawler.FieldSalary,
			crawler.FieldDescription,
			crawler.FieldPublishedAt,
		},
		jobType: FirstOf(rules.JobType...),
	}
}

// Extract runs every chain. Fields no strategy could fill are absent, except
// job_type which always resolves.
func (e *Extractor) Extract(doc *Document) crawler.ExtractionResult {
	result := crawler.ExtractionResult{}
	for _, field := range e.order {
		if v, ok := e.chains[field](doc); ok {
			result[field] = v
		}
	}
	explicit, _ := e.jobType(doc)
	result[crawler.FieldJobType] = string(ClassifyJobType(explicit, doc.Text()))
	return result
}

// ToPosting validates an ExtractionResult and builds the posting. It returns
// crawler.ErrInsufficientFields when title or company is missing. now is used
// when no publish date could be parsed.
func ToPosting(result crawler.ExtractionResult, sourceURL, website string, now time.Time) (crawler.JobPosting, error) {
	title, okTitle := result.Get(crawler.FieldTitle)
	company, okCompany := result.Get(crawler.FieldCompany)
	if !okTitle || !okCompany {
		return crawler.JobPosting{}, fmt.Errorf("%w: title=%t company=%t", crawler.ErrInsufficientFields, okTitle, okCompany)
	}
	canonical, err := crawler.NormalizeURL(sourceURL)
	if err != nil {
		return crawler.JobPosting{}, fmt.Errorf("canonical source url: %w", err)
	}

	posting := crawler.JobPosting{
		Title:         truncateRunes(title, maxTitleLen),
		CompanyName:   truncateRunes(company, maxCompanyLen),
		Location:      truncateRunes(result[crawler.FieldLocation], maxLocationLen),
		Salary:        truncateRunes(result[crawler.FieldSalary], maxSalaryLen),
		Description:   result[crawler.FieldDescription],
		JobType:       crawler.JobType(result[crawler.FieldJobType]),
		SourceWebsite: website,
		SourceURL:     canonical,
		PublishedAt:   now,
	}
	if !posting.JobType.Valid() {
		posting.JobType = crawler.JobTypeFullTime
	}
	if raw, ok := result.Get(crawler.FieldPublishedAt); ok {
		if t, ok := ParseDate(raw); ok {
			posting.PublishedAt = t
		}
	}
	return posting, nil
}
