package crawler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcomeState(t *testing.T) {
	t.Parallel()

	done := []Outcome{OutcomeListed, OutcomeCreated, OutcomeDuplicate, OutcomeSkippedVisited}
	for _, o := range done {
		assert.Equal(t, TaskDone, o.State(), o)
	}
	dropped := []Outcome{OutcomeFetchError, OutcomeHTTPStatus, OutcomeUndecodable, OutcomeInsufficientFields, OutcomePersistenceError}
	for _, o := range dropped {
		assert.Equal(t, TaskDropped, o.State(), o)
		assert.True(t, o.State().Terminal())
	}
	assert.False(t, TaskInFlight.Terminal())
}

func TestRunCountersRecord(t *testing.T) {
	t.Parallel()

	var c RunCounters
	c.Record(StageListing, OutcomeListed)
	c.Record(StageDetail, OutcomeCreated)
	c.Record(StageDetail, OutcomeDuplicate)
	c.Record(StageDetail, OutcomeSkippedVisited)
	c.Record(StageDetail, OutcomeHTTPStatus)
	c.Record(StageListing, OutcomeUndecodable)

	require.Equal(t, int64(2), c.ListingPages)
	require.Equal(t, int64(4), c.DetailTasks)
	require.Equal(t, int64(1), c.Created)
	require.Equal(t, int64(1), c.Duplicates)
	require.Equal(t, int64(2), c.Dropped)
	require.Equal(t, int64(1), c.ByOutcome[OutcomeSkippedVisited])
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	cases := map[Outcome]error{
		OutcomeHTTPStatus:         fmt.Errorf("fetch: %w", &HTTPStatusError{URL: "https://x.test", StatusCode: 404}),
		OutcomeUndecodable:        fmt.Errorf("decode: %w", ErrUndecodable),
		OutcomeInsufficientFields: ErrInsufficientFields,
		OutcomeDuplicate:          ErrAlreadyExists,
		OutcomeFetchError:         errors.New("connection reset"),
	}
	for want, err := range cases {
		assert.Equal(t, want, ClassifyError(err))
	}
}

func TestJobPostingPageTitle(t *testing.T) {
	t.Parallel()

	p := JobPosting{CompanyName: "Acme", Title: "Go Developer"}
	require.Equal(t, "Acme-Go Developer", p.PageTitle())
	require.True(t, JobTypeIntern.Valid())
	require.False(t, JobType("contract").Valid())
}
