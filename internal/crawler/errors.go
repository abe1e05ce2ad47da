package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyExists reports a posting whose source URL is already stored.
	ErrAlreadyExists = errors.New("posting already exists")
	// ErrInsufficientFields reports a document without a title or company.
	ErrInsufficientFields = errors.New("insufficient fields")
	// ErrUndecodable reports a body that cannot be decoded to text.
	ErrUndecodable = errors.New("undecodable body")
	// ErrNotFound reports a missing run or posting.
	ErrNotFound = errors.New("not found")
)

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// ClassifyError maps a task error onto its outcome.
func ClassifyError(err error) Outcome {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return OutcomeCreated
	case errors.As(err, &statusErr):
		return OutcomeHTTPStatus
	case errors.Is(err, ErrUndecodable):
		return OutcomeUndecodable
	case errors.Is(err, ErrInsufficientFields):
		return OutcomeInsufficientFields
	case errors.Is(err, ErrAlreadyExists):
		return OutcomeDuplicate
	default:
		return OutcomeFetchError
	}
}
