package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/slug"
)

// ContentStore is an in-memory crawler.ContentStore. A single mutex makes each
// CreateAndPublish call atomic.
type ContentStore struct {
	mu         sync.RWMutex
	ids        crawler.IDGenerator
	clock      crawler.Clock
	containers map[string]crawler.Container
	postings   map[string]crawler.Posting
	slugs      map[string]map[string]struct{}
}

// NewContentStore constructs a ContentStore.
func NewContentStore(ids crawler.IDGenerator, clock crawler.Clock) *ContentStore {
	return &ContentStore{
		ids:        ids,
		clock:      clock,
		containers: make(map[string]crawler.Container),
		postings:   make(map[string]crawler.Posting),
		slugs:      make(map[string]map[string]struct{}),
	}
}

// FindBySourceURL returns the posting stored under sourceURL.
func (s *ContentStore) FindBySourceURL(_ context.Context, sourceURL string) (crawler.Posting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.postings[sourceURL]
	return p, ok, nil
}

// GetOrCreateContainer returns the container for slug, creating it once.
func (s *ContentStore) GetOrCreateContainer(_ context.Context, containerSlug, title string) (crawler.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[containerSlug]; ok {
		return c, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Container{}, fmt.Errorf("container id: %w", err)
	}
	c := crawler.Container{ID: id, Slug: containerSlug, Title: title}
	s.containers[containerSlug] = c
	s.slugs[id] = make(map[string]struct{})
	return c, nil
}

// CreateAndPublish stores posting as live unless its source URL is taken.
func (s *ContentStore) CreateAndPublish(
	_ context.Context,
	container crawler.Container,
	posting crawler.JobPosting,
) (crawler.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.postings[posting.SourceURL]; exists {
		return crawler.Posting{}, crawler.ErrAlreadyExists
	}
	taken, ok := s.slugs[container.ID]
	if !ok {
		return crawler.Posting{}, fmt.Errorf("container %q: %w", container.ID, crawler.ErrNotFound)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Posting{}, fmt.Errorf("posting id: %w", err)
	}
	base := slug.ForPosting(posting.PageTitle(), id)
	pageSlug := slug.Unique(base, func(candidate string) bool {
		_, used := taken[candidate]
		return used
	})
	stored := crawler.Posting{
		JobPosting:  posting,
		ID:          id,
		Slug:        pageSlug,
		ContainerID: container.ID,
		Live:        true,
		CreatedAt:   s.clock.Now(),
	}
	taken[pageSlug] = struct{}{}
	s.postings[posting.SourceURL] = stored
	return stored, nil
}

// Count returns the number of stored postings.
func (s *ContentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.postings)
}

// Postings returns a snapshot of stored postings.
func (s *ContentStore) Postings() []crawler.Posting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Posting, 0, len(s.postings))
	for _, p := range s.postings {
		out = append(out, p)
	}
	return out
}
