package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/slug"
)

const (
	uniqueViolation  = "23505"
	sourceURLKey     = "job_postings_source_url_key"
	maxSlugAttempts  = 3
	postingColumns   = "id, container_id, slug, title, company_name, location, salary, description, job_type, source_website, source_url, published_at, live, created_at"
	findBySourceURL  = "SELECT " + postingColumns + " FROM job_postings WHERE source_url = $1"
	existsBySource   = "SELECT EXISTS (SELECT 1 FROM job_postings WHERE source_url = $1)"
	takenSlugs       = "SELECT slug FROM job_postings WHERE container_id = $1 AND (slug = $2 OR slug LIKE $3)"
	insertContainer  = "INSERT INTO job_containers (id, slug, title) VALUES ($1, $2, $3) ON CONFLICT (slug) DO NOTHING"
	selectContainer  = "SELECT id, slug, title FROM job_containers WHERE slug = $1"
	insertPostingSQL = "INSERT INTO job_postings (" + postingColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)"
)

var errSlugTaken = errors.New("slug taken")

// ContentStore implements crawler.ContentStore on Postgres. The unique
// constraint on source_url is the only concurrency control.
type ContentStore struct {
	pool  dbPool
	ids   crawler.IDGenerator
	clock crawler.Clock
}

// NewContentStore wraps a pool (a *pgxpool.Pool or a pgxmock pool).
func NewContentStore(pool dbPool, ids crawler.IDGenerator, clock crawler.Clock) (*ContentStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ContentStore{pool: pool, ids: ids, clock: clock}, nil
}

// Ping checks connectivity.
func (s *ContentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ContentStore) Close() {
	s.pool.Close()
}

// FindBySourceURL looks a posting up by exact source URL.
func (s *ContentStore) FindBySourceURL(ctx context.Context, sourceURL string) (crawler.Posting, bool, error) {
	p, err := scanPosting(s.pool.QueryRow(ctx, findBySourceURL, sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Posting{}, false, nil
	}
	if err != nil {
		return crawler.Posting{}, false, fmt.Errorf("find posting: %w", err)
	}
	return p, true, nil
}

// GetOrCreateContainer inserts the container if missing and returns the stored row.
func (s *ContentStore) GetOrCreateContainer(ctx context.Context, containerSlug, title string) (crawler.Container, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Container{}, fmt.Errorf("container id: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertContainer, id, containerSlug, title); err != nil {
		return crawler.Container{}, fmt.Errorf("insert container: %w", err)
	}
	var c crawler.Container
	if err := s.pool.QueryRow(ctx, selectContainer, containerSlug).Scan(&c.ID, &c.Slug, &c.Title); err != nil {
		return crawler.Container{}, fmt.Errorf("select container: %w", err)
	}
	return c, nil
}

// CreateAndPublish re-checks the source URL, reserves a slug, and inserts the
// posting as live inside one transaction. A unique violation on source_url at
// insert or commit time yields crawler.ErrAlreadyExists.
func (s *ContentStore) CreateAndPublish(
	ctx context.Context,
	container crawler.Container,
	posting crawler.JobPosting,
) (crawler.Posting, error) {
	var lastErr error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p, err := s.createOnce(ctx, container, posting)
		if !errors.Is(err, errSlugTaken) {
			return p, err
		}
		lastErr = err
	}
	return crawler.Posting{}, fmt.Errorf("create posting: %w", lastErr)
}

func (s *ContentStore) createOnce(
	ctx context.Context,
	container crawler.Container,
	posting crawler.JobPosting,
) (_ crawler.Posting, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.Posting{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	if err = tx.QueryRow(ctx, existsBySource, posting.SourceURL).Scan(&exists); err != nil {
		return crawler.Posting{}, fmt.Errorf("recheck source url: %w", err)
	}
	if exists {
		err = crawler.ErrAlreadyExists
		return crawler.Posting{}, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Posting{}, fmt.Errorf("posting id: %w", err)
	}
	pageSlug, err := reserveSlug(ctx, tx, container.ID, slug.ForPosting(posting.PageTitle(), id))
	if err != nil {
		return crawler.Posting{}, err
	}

	stored := crawler.Posting{
		JobPosting:  posting,
		ID:          id,
		Slug:        pageSlug,
		ContainerID: container.ID,
		Live:        true,
		CreatedAt:   s.clock.Now(),
	}
	if _, err = tx.Exec(ctx, insertPostingSQL,
		stored.ID,
		stored.ContainerID,
		stored.Slug,
		stored.Title,
		stored.CompanyName,
		stored.Location,
		stored.Salary,
		stored.Description,
		string(stored.JobType),
		stored.SourceWebsite,
		stored.SourceURL,
		stored.PublishedAt,
		stored.Live,
		stored.CreatedAt,
	); err != nil {
		err = classifyInsertError(err)
		return crawler.Posting{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		err = classifyInsertError(err)
		return crawler.Posting{}, err
	}
	return stored, nil
}

func reserveSlug(ctx context.Context, tx pgx.Tx, containerID, base string) (string, error) {
	rows, err := tx.Query(ctx, takenSlugs, containerID, base, escapeLike(base)+"-%")
	if err != nil {
		return "", fmt.Errorf("query slugs: %w", err)
	}
	defer rows.Close()
	taken := make(map[string]struct{})
	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			return "", fmt.Errorf("scan slug: %w", err)
		}
		taken[existing] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate slugs: %w", err)
	}
	return slug.Unique(base, func(candidate string) bool {
		_, used := taken[candidate]
		return used
	}), nil
}

func classifyInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == sourceURLKey {
			return crawler.ErrAlreadyExists
		}
		return fmt.Errorf("%w: %s", errSlugTaken, pgErr.ConstraintName)
	}
	return fmt.Errorf("insert posting: %w", err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanPosting(row pgx.Row) (crawler.Posting, error) {
	var (
		p           crawler.Posting
		jobType     string
		publishedAt time.Time
		createdAt   time.Time
	)
	if err := row.Scan(
		&p.ID,
		&p.ContainerID,
		&p.Slug,
		&p.Title,
		&p.CompanyName,
		&p.Location,
		&p.Salary,
		&p.Description,
		&jobType,
		&p.SourceWebsite,
		&p.SourceURL,
		&publishedAt,
		&p.Live,
		&createdAt,
	); err != nil {
		return crawler.Posting{}, err
	}
	p.JobType = crawler.JobType(jobType)
	p.PublishedAt = publishedAt
	p.CreatedAt = createdAt
	return p, nil
}
