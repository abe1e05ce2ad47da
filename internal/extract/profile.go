package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Profile bundles everything site specific: URL templates, request headers,
// field rules, and listing link rules.
type Profile struct {
	Name          string
	SourceWebsite string
	// ListingURL may contain {keyword}, {city}, and {page}.
	ListingURL string
	// DetailURL renders IDs found by JSONIDs/IDRegex; it contains {id}.
	DetailURL      string
	ContainerSlug  string
	ContainerTitle string
	Headers        map[string]string
	Fields         Rules
	Links          LinkRules
	// SourceURL overrides the fetched URL as the dedup key. When empty the
	// detail URL itself is the canonical source URL.
	SourceURL []Strategy
}

// ListingPage renders the listing URL for a seed and 1-based page number.
func (p Profile) ListingPage(seed crawler.Seed, page int) string {
	r := strings.NewReplacer(
		"{keyword}", url.QueryEscape(seed.Keyword),
		"{city}", url.QueryEscape(seed.City),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(p.ListingURL)
}

// ResolveSourceURL returns the canonical source URL for a detail document.
func (p Profile) ResolveSourceURL(doc *Document) (string, error) {
	if len(p.SourceURL) > 0 {
		if v, ok := FirstOf(p.SourceURL...)(doc); ok {
			return crawler.ResolveURL(doc.URL, v)
		}
	}
	return crawler.NormalizeURL(doc.URL)
}

// DetailIsSource reports whether the detail URL doubles as the dedup key,
// which lets the frontier skip fetching already-stored postings.
func (p Profile) DetailIsSource() bool {
	return len(p.SourceURL) == 0
}

// NextPageParam advances the integer query parameter param when the JSON
// value at flagPath is truthy (true, a non-zero number, or a non-empty string).
func NextPageParam(flagPath, param string) Strategy {
	return func(doc *Document) (string, bool) {
		flag, ok := Lookup(doc.JSON(), flagPath)
		if !ok || !truthy(flag) {
			return "", false
		}
		u, err := url.Parse(doc.URL)
		if err != nil {
			return "", false
		}
		q := u.Query()
		page, err := strconv.Atoi(q.Get(param))
		if err != nil || page < 1 {
			page = 1
		}
		q.Set(param, strconv.Itoa(page+1))
		u.RawQuery = q.Encode()
		return u.String(), true
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != "" && t != "0" && t != "false"
	default:
		return v != nil
	}
}

const ldJSON = `script[type="application/ld+json"]`

// Zhilian is the JSON API profile of the original spider.
func Zhilian() Profile {
	const detail = "https://api.zhilian.com/v1/job/{id}"
	return Profile{
		Name:           "zhilian",
		SourceWebsite:  "智联招聘",
		ListingURL:     "https://api.zhilian.com/v1/jobs?keyword={keyword}&city={city}&page={page}",
		DetailURL:      detail,
		ContainerSlug:  "zhilian-jobs",
		ContainerTitle: "所有职位",
		Headers: map[string]string{
			"Referer": "https://www.zhaopin.com/",
			"Accept":  "application/json",
		},
		Fields: Rules{
			Title:       []Strategy{JSONPath("data.jobName"), JSONPath("data.name")},
			Company:     []Strategy{JSONPath("data.company.name"), JSONPath("data.companyName")},
			Location:    []Strategy{JSONPath("data.city.display"), JSONPath("data.workCity")},
			Salary:      []Strategy{JSONPath("data.salary"), Regex(`薪[资水酬]\s*[:：]\s*([0-9A-Za-z.\-~万千/·]+)`)},
			Description: []Strategy{JSONPathHTML("data.jobDesc"), JSONPathHTML("data.description")},
			JobType:     []Strategy{JSONPath("data.jobType")},
			PublishedAt: []Strategy{JSONPath("data.publishDate"), DatePattern()},
		},
		Links: LinkRules{
			Detail: []LinkStrategy{
				JSONIDs("data", "id", detail),
				JSONIDs("data.list", "id", detail),
				IDRegex(`"(?:id|jobId)"\s*:\s*"?(\w+)"?`, detail),
			},
			NextPage: []Strategy{JSONPath("next"), NextPageParam("hasMore", "page")},
		},
		SourceURL: []Strategy{JSONPath("data.pageUrl")},
	}
}

// Generic is an HTML profile built on common job-board markup, schema.org
// JobPosting data, and Next.js payloads. ListingURL and DetailURL come from
// configuration.
func Generic(listingURL, detailURL, website string) Profile {
	return Profile{
		Name:           "generic",
		SourceWebsite:  website,
		ListingURL:     listingURL,
		DetailURL:      detailURL,
		ContainerSlug:  "jobs",
		ContainerTitle: "所有职位",
		Fields: Rules{
			Title: []Strategy{
				Selector(".job-title"),
				Selector(".job-name"),
				EmbeddedJSON(ldJSON, "title"),
				EmbeddedJSON("script#__NEXT_DATA__", "props.pageProps.job.title"),
				Meta("og:title"),
				Selector("h1"),
			},
			Company: []Strategy{
				Selector(".company-name"),
				Selector(`[itemprop="hiringOrganization"] [itemprop="name"]`),
				EmbeddedJSON(ldJSON, "hiringOrganization.name"),
				EmbeddedJSON("script#__NEXT_DATA__", "props.pageProps.job.company.name"),
				Regex(`(?:公司名称|公司|Company)\s*[:：]\s*(\S+)`),
			},
			Location: []Strategy{
				Selector(".job-location"),
				Selector(`[itemprop="jobLocation"]`),
				EmbeddedJSON(ldJSON, "jobLocation.address.addressLocality"),
				Regex(`(?:工作地点|地点|Location)\s*[:：]\s*(\S+)`),
			},
			Salary: []Strategy{
				Selector(".salary"),
				Selector(".job-salary"),
				EmbeddedJSON("script#__NEXT_DATA__", "props.pageProps.job.salary"),
				Regex(`(?:薪资|薪水|月薪|Salary)\s*[:：]\s*([0-9A-Za-z.\-~万千/·]+|面议|negotiable)`),
			},
			Description: []Strategy{
				SelectorHTML(".job-description"),
				SelectorHTML(".job-detail"),
				SelectorHTML(`[itemprop="description"]`),
				EmbeddedJSON(ldJSON, "description"),
				Readability(),
			},
			JobType: []Strategy{
				Selector(".job-type"),
				EmbeddedJSON(ldJSON, "employmentType"),
			},
			PublishedAt: []Strategy{
				Attr("time[datetime]", "datetime"),
				EmbeddedJSON(ldJSON, "datePosted"),
				Meta("article:published_time"),
				DatePattern(),
			},
		},
		Links: LinkRules{
			Detail: []LinkStrategy{
				LinkSelector("a.job-link", "href"),
				LinkSelector(`a[href*="/job/"]`, "href"),
				IDRegex(`"jobId"\s*:\s*"?(\w+)"?`, detailURL),
			},
			NextPage: []Strategy{
				Attr(`a[rel="next"]`, "href"),
				Attr(".pagination .next a", "href"),
				Attr("a.next", "href"),
			},
		},
	}
}

// ProfileByName returns a built-in profile.
func ProfileByName(name, listingURL, detailURL, website string) (Profile, error) {
	switch strings.ToLower(name) {
	case "", "zhilian":
		p := Zhilian()
		if listingURL != "" {
			p.ListingURL = listingURL
		}
		if website != "" {
			p.SourceWebsite = website
		}
		return p, nil
	case "generic":
		if listingURL == "" {
			return Profile{}, fmt.Errorf("generic profile requires a listing url")
		}
		return Generic(listingURL, detailURL, website), nil
	default:
		return Profile{}, fmt.Errorf("unknown profile %q", name)
	}
}
