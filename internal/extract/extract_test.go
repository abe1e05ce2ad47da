package extract

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func htmlDoc(t *testing.T, url, body string) *Document {
	t.Helper()
	doc, err := FromBytes(url, "text/html; charset=utf-8", []byte(body))
	require.NoError(t, err)
	return doc
}

func TestFirstOfFallsBackToRegex(t *testing.T) {
	t.Parallel()

	doc := htmlDoc(t, "https://x.test/job/1", `<html><body>
		<div class="salary">   </div>
		<p>薪资: 15K-20K 工作地点: 北京</p>
	</body></html>`)

	chain := FirstOf(Selector(".salary"), Regex(`薪资\s*[:：]\s*(\S+)`))
	got, ok := chain(doc)
	require.True(t, ok)
	require.Equal(t, "15K-20K", got)
}

func TestFirstOfPrefersEarlierStrategy(t *testing.T) {
	t.Parallel()

	doc := htmlDoc(t, "https://x.test/job/1", `<h1 class="job-title">Backend <b>Intern</b></h1><h1>Other</h1>`)
	got, ok := FirstOf(Selector(".job-title"), Selector("h1"))(doc)
	require.True(t, ok)
	require.Equal(t, "Backend Intern", got)

	_, ok = FirstOf(Selector(".missing"), nil)(doc)
	require.False(t, ok)
}

func TestGenericExtractSalaryFromText(t *testing.T) {
	t.Parallel()

	p := Generic("https://x.test/jobs?q={keyword}&page={page}", "https://x.test/job/{id}", "X")
	doc := htmlDoc(t, "https://x.test/job/7", `<html><body>
		<h1 class="job-title">Go Engineer</h1>
		<div class="company-name">Acme</div>
		<div class="job-description"><p>Build <script>alert(1)</script>crawlers</p></div>
		<p>薪资：15K-20K</p>
	</body></html>`)

	res := NewExtractor(p.Fields).Extract(doc)
	require.Equal(t, "15K-20K", res[crawler.FieldSalary])
	require.Equal(t, "Go Engineer", res[crawler.FieldTitle])
	require.Equal(t, "Acme", res[crawler.FieldCompany])
	require.NotContains(t, res[crawler.FieldDescription], "script")
	require.Contains(t, res[crawler.FieldDescription], "<p>")
	require.Equal(t, string(crawler.JobTypeFullTime), res[crawler.FieldJobType])
	_, hasLocation := res[crawler.FieldLocation]
	require.False(t, hasLocation)
}

func TestExtractInternMarker(t *testing.T) {
	t.Parallel()

	p := Generic("https://x.test/jobs", "", "X")
	doc := htmlDoc(t, "https://x.test/job/8", `<h1 class="job-title">Data intern</h1><div class="company-name">Acme</div>
		<p>We also hire part-time staff.</p>`)

	res := NewExtractor(p.Fields).Extract(doc)
	require.Equal(t, string(crawler.JobTypeIntern), res[crawler.FieldJobType])
}

func TestExtractMarkerEndingAnElement(t *testing.T) {
	t.Parallel()

	p := Generic("https://x.test/jobs", "", "X")
	doc := htmlDoc(t, "https://x.test/job/9", `<h1 class="job-title">Summer intern</h1><div class="company-name">Acme</div>`)

	require.Equal(t, "Summer intern Acme", doc.Text())
	res := NewExtractor(p.Fields).Extract(doc)
	require.Equal(t, string(crawler.JobTypeIntern), res[crawler.FieldJobType])
}

func TestRegexCaptureStopsAtElementBoundary(t *testing.T) {
	t.Parallel()

	doc := htmlDoc(t, "https://x.test/job/10",
		`<span>Location: Shanghai</span><span>Salary: 15K-20K</span><script>var Location = "x";</script>`)

	got, ok := Regex(`Location\s*[:：]\s*(\S+)`)(doc)
	require.True(t, ok)
	require.Equal(t, "Shanghai", got)
	require.NotContains(t, doc.Text(), "var Location")
}

func TestClassifyJobType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, crawler.JobTypeIntern, ClassifyJobType("0002", ""))
	assert.Equal(t, crawler.JobTypePartTime, ClassifyJobType("0003", "intern"))
	assert.Equal(t, crawler.JobTypeFullTime, ClassifyJobType("", "international company"))
	assert.Equal(t, crawler.JobTypePartTime, ClassifyJobType("", "周末兼职"))
	assert.Equal(t, crawler.JobTypeIntern, ClassifyJobType("", "Python实习生 兼职"))
	assert.Equal(t, crawler.JobTypeIntern, ClassifyJobType("INTERNSHIP", ""))
}

func TestToPostingInsufficientFields(t *testing.T) {
	t.Parallel()

	res := crawler.ExtractionResult{crawler.FieldTitle: "Go Engineer"}
	_, err := ToPosting(res, "https://x.test/job/1", "X", time.Now())
	require.ErrorIs(t, err, crawler.ErrInsufficientFields)
}

func TestToPostingDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	res := crawler.ExtractionResult{
		crawler.FieldTitle:   "Go Engineer",
		crawler.FieldCompany: "Acme",
	}
	posting, err := ToPosting(res, "HTTPS://X.test/job/1#top", "X", now)
	require.NoError(t, err)
	require.Equal(t, now, posting.PublishedAt)
	require.Equal(t, crawler.JobTypeFullTime, posting.JobType)
	require.Equal(t, "https://x.test/job/1", posting.SourceURL)
	require.Equal(t, "Acme-Go Engineer", posting.PageTitle())

	res[crawler.FieldPublishedAt] = "发布于 2024年3月5日"
	posting, err = ToPosting(res, "https://x.test/job/1", "X", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), posting.PublishedAt)
}

func TestZhilianDetail(t *testing.T) {
	t.Parallel()

	body := `{"data":{"jobName":"Python实习生","company":{"name":"字节跳动"},"city":{"display":"北京"},
		"salary":"4K-6K","jobDesc":"<p>写爬虫</p><iframe src=x></iframe>","jobType":"0002",
		"pageUrl":"https://jobs.zhaopin.com/CC123.htm","publishDate":"2026-10-01"}}`
	doc, err := FromBytes("https://api.zhilian.com/v1/job/123", "application/json", []byte(body))
	require.NoError(t, err)

	p := Zhilian()
	res := NewExtractor(p.Fields).Extract(doc)
	src, err := p.ResolveSourceURL(doc)
	require.NoError(t, err)
	require.Equal(t, "https://jobs.zhaopin.com/CC123.htm", src)
	require.False(t, p.DetailIsSource())

	posting, err := ToPosting(res, src, p.SourceWebsite, time.Now())
	require.NoError(t, err)
	require.Equal(t, "Python实习生", posting.Title)
	require.Equal(t, "字节跳动", posting.CompanyName)
	require.Equal(t, "北京", posting.Location)
	require.Equal(t, "4K-6K", posting.Salary)
	require.Equal(t, "<p>写爬虫</p>", posting.Description)
	require.Equal(t, crawler.JobTypeIntern, posting.JobType)
	require.Equal(t, "智联招聘", posting.SourceWebsite)
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), posting.PublishedAt)
}

func TestZhilianListingLinks(t *testing.T) {
	t.Parallel()

	doc, err := FromBytes("https://api.zhilian.com/v1/jobs?keyword=go&city=101010100&page=2",
		"application/json", []byte(`{"data":[{"id":11},{"id":"12"},{"id":11}],"hasMore":true}`))
	require.NoError(t, err)

	p := Zhilian()
	links := p.Links.DetailLinks(doc)
	require.Equal(t, []string{
		"https://api.zhilian.com/v1/job/11",
		"https://api.zhilian.com/v1/job/12",
	}, links)

	next, ok := p.Links.Next(doc)
	require.True(t, ok)
	require.Equal(t, "https://api.zhilian.com/v1/jobs?city=101010100&keyword=go&page=3", next)
}

func TestListingPageTemplate(t *testing.T) {
	t.Parallel()

	got := Zhilian().ListingPage(crawler.Seed{Keyword: "Java应届", City: "101010100"}, 1)
	require.Equal(t, "https://api.zhilian.com/v1/jobs?keyword=Java%E5%BA%94%E5%B1%8A&city=101010100&page=1", got)
}

func TestGenericLinkFallbacks(t *testing.T) {
	t.Parallel()

	p := Generic("https://x.test/jobs", "https://x.test/job/{id}", "X")

	structured := htmlDoc(t, "https://x.test/jobs", `<a class="job-link" href="/job/1">a</a><a href="/job/2">b</a>
		<a rel="next" href="/jobs?page=2">next</a>`)
	require.Equal(t, []string{"https://x.test/job/1"}, p.Links.DetailLinks(structured))
	next, ok := p.Links.Next(structured)
	require.True(t, ok)
	require.Equal(t, "https://x.test/jobs?page=2", next)

	generic := htmlDoc(t, "https://x.test/jobs", `<a href="/job/2">b</a><a href="/about">c</a>`)
	require.Equal(t, []string{"https://x.test/job/2"}, p.Links.DetailLinks(generic))
	_, ok = p.Links.Next(generic)
	require.False(t, ok)

	embedded := htmlDoc(t, "https://x.test/jobs", `<div id="app"></div><script>window.__S__={"jobs":[{"jobId":"501"},{"jobId":502}]}</script>`)
	require.Equal(t, []string{"https://x.test/job/501", "https://x.test/job/502"}, p.Links.DetailLinks(embedded))
}

func TestEmbeddedJSONStrategy(t *testing.T) {
	t.Parallel()

	doc := htmlDoc(t, "https://x.test/job/3", `<script type="application/ld+json">
		{"@type":"JobPosting","title":"SRE","hiringOrganization":{"name":"Initech"},"datePosted":"2026-09-30"}
	</script>`)
	p := Generic("https://x.test/jobs", "", "X")
	res := NewExtractor(p.Fields).Extract(doc)
	require.Equal(t, "SRE", res[crawler.FieldTitle])
	require.Equal(t, "Initech", res[crawler.FieldCompany])
	require.Equal(t, "2026-09-30", res[crawler.FieldPublishedAt])
}

func TestNewDocumentUndecodable(t *testing.T) {
	t.Parallel()

	_, err := NewDocument(crawler.FetchResponse{
		URL:     "https://x.test/job/1",
		Headers: http.Header{"Content-Encoding": {"br"}},
		Body:    []byte{0x1b, 0x2f, 0x00},
	})
	require.True(t, errors.Is(err, crawler.ErrUndecodable))

	_, err = NewDocument(crawler.FetchResponse{
		URL:     "https://x.test/job/1",
		Headers: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:    []byte("ok\x00binary"),
	})
	require.ErrorIs(t, err, crawler.ErrUndecodable)
}

func TestNewDocumentGzipLabel(t *testing.T) {
	t.Parallel()

	// Already gunzipped by the fetcher but still labelled gzip.
	doc, err := NewDocument(crawler.FetchResponse{
		URL:     "https://x.test/job/1",
		Headers: http.Header{"Content-Encoding": {"gzip"}, "Content-Type": {"text/html; charset=utf-8"}},
		Body:    []byte(`<h1 class="job-title">Go Developer</h1>`),
	})
	require.NoError(t, err)
	require.Equal(t, "Go Developer", doc.Text())

	_, err = NewDocument(crawler.FetchResponse{
		URL:     "https://x.test/job/1",
		Headers: http.Header{"Content-Encoding": {"gzip"}},
		Body:    []byte{0x1f, 0x8b, 0x08, 0x00},
	})
	require.ErrorIs(t, err, crawler.ErrUndecodable)
}

func TestNewDocumentTranscodesCharset(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(crawler.FetchResponse{
		URL:     "https://x.test/job/1",
		Headers: http.Header{"Content-Type": {"text/html; charset=iso-8859-1"}},
		Body:    []byte("<p>caf\xe9</p>"),
	})
	require.NoError(t, err)
	require.Equal(t, "café", doc.Text())
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]time.Time{
		"2026-10-01":           time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		"2026/1/2":             time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		"2026年10月18日":          time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
		"2026-10-01T08:00:00Z": time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
	} {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		require.True(t, want.Equal(got), in)
	}
	_, ok := ParseDate("yesterday")
	require.False(t, ok)
}
