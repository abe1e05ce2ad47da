package crawler

import (
	"net/http"
	"time"
)

// JobType classifies a posting's employment type.
type JobType string

// Supported job types. FullTime is the default when nothing else matches.
const (
	JobTypeFullTime JobType = "full-time"
	JobTypeIntern   JobType = "intern"
	JobTypePartTime JobType = "part-time"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFullTime, JobTypeIntern, JobTypePartTime:
		return true
	default:
		return false
	}
}

// JobPosting is the normalized record produced by extraction and persisted by ingest.
type JobPosting struct {
	Title         string    `json:"title" bson:"title"`
	CompanyName   string    `json:"company_name" bson:"company_name"`
	Location      string    `json:"location" bson:"location"`
	Salary        string    `json:"salary" bson:"salary"`
	Description   string    `json:"description" bson:"description"`
	JobType       JobType   `json:"job_type" bson:"job_type"`
	SourceWebsite string    `json:"source_website" bson:"source_website"`
	SourceURL     string    `json:"source_url" bson:"source_url"`
	PublishedAt   time.Time `json:"published_at" bson:"published_at"`
}

// PageTitle is the content-store node title, "<company>-<title>".
func (p JobPosting) PageTitle() string {
	return p.CompanyName + "-" + p.Title
}

// Posting is a JobPosting as stored by the content store.
type Posting struct {
	JobPosting  `bson:",inline"`
	ID          string    `json:"id" bson:"_id"`
	Slug        string    `json:"slug" bson:"slug"`
	ContainerID string    `json:"container_id" bson:"container_id"`
	Live        bool      `json:"live" bson:"live"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// Container is the parent node grouping postings from one source.
type Container struct {
	ID    string `json:"id" bson:"_id"`
	Slug  string `json:"slug" bson:"slug"`
	Title string `json:"title" bson:"title"`
}

// Field names used in ExtractionResult.
const (
	FieldTitle       = "title"
	FieldCompany     = "company"
	FieldLocation    = "location"
	FieldSalary      = "salary"
	FieldDescription = "description"
	FieldJobType     = "job_type"
	FieldPublishedAt = "published_at"
)

// ExtractionResult maps field names to extracted values. A missing key means
// no strategy produced a value.
type ExtractionResult map[string]string

// Get returns the value for field and whether it was extracted.
func (r ExtractionResult) Get(field string) (string, bool) {
	v, ok := r[field]
	return v, ok && v != ""
}

// Stage identifies which callback handles a task's response.
type Stage string

// Crawl stages.
const (
	StageListing Stage = "listing"
	StageDetail  Stage = "detail"
)

// TaskState is the lifecycle state of a CrawlTask.
type TaskState string

// Task states. Done and Dropped are terminal.
const (
	TaskQueued   TaskState = "queued"
	TaskInFlight TaskState = "in-flight"
	TaskDone     TaskState = "done"
	TaskDropped  TaskState = "dropped"
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskDropped
}

// Outcome records why a task reached its terminal state.
type Outcome string

// Task outcomes.
const (
	OutcomeListed             Outcome = "listed"
	OutcomeCreated            Outcome = "created"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeSkippedVisited     Outcome = "skipped-visited"
	OutcomeFetchError         Outcome = "fetch-error"
	OutcomeHTTPStatus         Outcome = "http-status"
	OutcomeUndecodable        Outcome = "undecodable"
	OutcomeInsufficientFields Outcome = "insufficient-fields"
	OutcomePersistenceError   Outcome = "persistence-error"
)

// State maps an outcome onto its terminal task state.
func (o Outcome) State() TaskState {
	switch o {
	case OutcomeListed, OutcomeCreated, OutcomeDuplicate, OutcomeSkippedVisited:
		return TaskDone
	default:
		return TaskDropped
	}
}

// CrawlTask is one pending fetch inside a run.
type CrawlTask struct {
	URL     string
	Stage   Stage
	Keyword string
	City    string
	Page    int
	State   TaskState
}

// Seed is one keyword x city pair the frontier starts from.
type Seed struct {
	Keyword string `json:"keyword" mapstructure:"keyword"`
	City    string `json:"city" mapstructure:"city"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ContentType returns the response Content-Type header.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

// IngestJob is one extracted posting handed to the ingest workers.
type IngestJob struct {
	RunID   string
	Posting JobPosting
}

// IngestResult reports how an IngestJob ended.
type IngestResult struct {
	RunID     string
	SourceURL string
	Outcome   Outcome
	PostingID string
	Err       error
}

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run statuses.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunCounters tracks per-run task totals.
type RunCounters struct {
	ListingPages int64             `json:"listing_pages"`
	DetailTasks  int64             `json:"detail_tasks"`
	Created      int64             `json:"created"`
	Duplicates   int64             `json:"duplicates"`
	Dropped      int64             `json:"dropped"`
	ByOutcome    map[Outcome]int64 `json:"by_outcome,omitempty"`
}

// Record counts one terminal task.
func (c *RunCounters) Record(stage Stage, outcome Outcome) {
	if c.ByOutcome == nil {
		c.ByOutcome = make(map[Outcome]int64)
	}
	c.ByOutcome[outcome]++
	if stage == StageListing {
		c.ListingPages++
	} else {
		c.DetailTasks++
	}
	switch {
	case outcome == OutcomeCreated:
		c.Created++
	case outcome == OutcomeDuplicate:
		c.Duplicates++
	case outcome.State() == TaskDropped:
		c.Dropped++
	}
}

// Run is one invocation of the frontier over a seed set.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Seeds     []Seed      `json:"seeds"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// PostingEventCreated is the event type published after a posting goes live.
const PostingEventCreated = "posting.created"

// PostingEvent is the payload published to message buses.
type PostingEvent struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id"`
	Posting Posting   `json:"posting"`
	At      time.Time `json:"at"`
}
