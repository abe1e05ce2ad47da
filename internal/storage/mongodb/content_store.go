// Package mongodb provides a MongoDB-backed content store.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/slug"
)

const (
	containersCollection = "job_containers"
	postingsCollection   = "job_postings"
	sourceURLIndex       = "source_url_1"
	maxSlugAttempts      = 3
)

// Config names the MongoDB deployment and database.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

// ContentStore implements crawler.ContentStore on MongoDB. Unique indexes on
// source_url and (container_id, slug) stand in for transactional checks.
type ContentStore struct {
	client     *mongo.Client
	containers *mongo.Collection
	postings   *mongo.Collection
	ids        crawler.IDGenerator
	clock      crawler.Clock
}

// Connect dials MongoDB, pings it, and ensures indexes.
func Connect(ctx context.Context, cfg Config, ids crawler.IDGenerator, clock crawler.Clock) (*ContentStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store.mongo.uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := NewContentStore(client.Database(cfg.Database), ids, clock)
	store.client = client
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

// NewContentStore wraps an existing database handle.
func NewContentStore(db *mongo.Database, ids crawler.IDGenerator, clock crawler.Clock) *ContentStore {
	return &ContentStore{
		containers: db.Collection(containersCollection),
		postings:   db.Collection(postingsCollection),
		ids:        ids,
		clock:      clock,
	}
}

// EnsureIndexes creates the unique indexes dedup relies on.
func (s *ContentStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.postings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "source_url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "container_id", Value: 1}, {Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
	}); err != nil {
		return fmt.Errorf("create posting indexes: %w", err)
	}
	if _, err := s.containers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create container index: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *ContentStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client if the store owns it.
func (s *ContentStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// FindBySourceURL looks a posting up by exact source URL.
func (s *ContentStore) FindBySourceURL(ctx context.Context, sourceURL string) (crawler.Posting, bool, error) {
	var p crawler.Posting
	err := s.postings.FindOne(ctx, bson.M{"source_url": sourceURL}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return crawler.Posting{}, false, nil
	}
	if err != nil {
		return crawler.Posting{}, false, fmt.Errorf("find posting: %w", err)
	}
	return p, true, nil
}

// GetOrCreateContainer upserts the container by slug and returns the stored document.
func (s *ContentStore) GetOrCreateContainer(ctx context.Context, containerSlug, title string) (crawler.Container, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Container{}, fmt.Errorf("container id: %w", err)
	}
	update := bson.M{"$setOnInsert": bson.M{"_id": id, "slug": containerSlug, "title": title}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c crawler.Container
	if err := s.containers.FindOneAndUpdate(ctx, bson.M{"slug": containerSlug}, update, opts).Decode(&c); err != nil {
		return crawler.Container{}, fmt.Errorf("upsert container: %w", err)
	}
	return c, nil
}

// CreateAndPublish inserts the posting as live. A duplicate key on source_url
// yields crawler.ErrAlreadyExists; a duplicate slug is retried.
func (s *ContentStore) CreateAndPublish(
	ctx context.Context,
	container crawler.Container,
	posting crawler.JobPosting,
) (crawler.Posting, error) {
	var lastErr error
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		p, err := s.createOnce(ctx, container, posting)
		if err == nil || !errors.Is(err, errSlugTaken) {
			return p, err
		}
		lastErr = err
	}
	return crawler.Posting{}, fmt.Errorf("create posting: %w", lastErr)
}

var errSlugTaken = errors.New("slug taken")

func (s *ContentStore) createOnce(
	ctx context.Context,
	container crawler.Container,
	posting crawler.JobPosting,
) (crawler.Posting, error) {
	err := s.postings.FindOne(ctx, bson.M{"source_url": posting.SourceURL},
		options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	switch {
	case err == nil:
		return crawler.Posting{}, crawler.ErrAlreadyExists
	case !errors.Is(err, mongo.ErrNoDocuments):
		return crawler.Posting{}, fmt.Errorf("recheck source url: %w", err)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Posting{}, fmt.Errorf("posting id: %w", err)
	}
	pageSlug, err := s.reserveSlug(ctx, container.ID, slug.ForPosting(posting.PageTitle(), id))
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
	if _, err := s.postings.InsertOne(ctx, stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if strings.Contains(err.Error(), sourceURLIndex) {
				return crawler.Posting{}, crawler.ErrAlreadyExists
			}
			return crawler.Posting{}, fmt.Errorf("%w: %v", errSlugTaken, err)
		}
		return crawler.Posting{}, fmt.Errorf("insert posting: %w", err)
	}
	return stored, nil
}

func (s *ContentStore) reserveSlug(ctx context.Context, containerID, base string) (string, error) {
	filter := bson.M{
		"container_id": containerID,
		"slug":         bson.M{"$regex": "^" + regexp.QuoteMeta(base) + "(-[0-9]+)?$"},
	}
	cursor, err := s.postings.Find(ctx, filter, options.Find().SetProjection(bson.M{"slug": 1}))
	if err != nil {
		return "", fmt.Errorf("query slugs: %w", err)
	}
	defer cursor.Close(ctx)

	taken := make(map[string]struct{})
	for cursor.Next(ctx) {
		var row struct {
			Slug string `bson:"slug"`
		}
		if err := cursor.Decode(&row); err != nil {
			return "", fmt.Errorf("decode slug: %w", err)
		}
		taken[row.Slug] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return "", fmt.Errorf("iterate slugs: %w", err)
	}
	return slug.Unique(base, func(candidate string) bool {
		_, used := taken[candidate]
		return used
	}), nil
}
