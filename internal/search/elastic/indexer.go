// Package elastic indexes live postings into Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Config controls the Elasticsearch client.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Transport http.RoundTripper
}

// Indexer writes postings into one index keyed by posting ID, so re-indexing
// the same posting overwrites rather than duplicates.
type Indexer struct {
	client *elasticsearch.Client
	index  string
}

// New builds an Indexer. It does not contact the cluster.
func New(cfg Config) (*Indexer, error) {
	if cfg.Index == "" {
		return nil, fmt.Errorf("search.elastic.index is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create es client: %w", err)
	}
	return &Indexer{client: client, index: cfg.Index}, nil
}

type document struct {
	crawler.JobPosting
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// Index upserts the posting document.
func (i *Indexer) Index(ctx context.Context, posting crawler.Posting) error {
	data, err := json.Marshal(document{JobPosting: posting.JobPosting, ID: posting.ID, Slug: posting.Slug})
	if err != nil {
		return fmt.Errorf("marshal posting: %w", err)
	}
	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: posting.ID,
		Body:       bytes.NewReader(data),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index error: %s", res.Status())
	}
	return nil
}

// Ping checks that the cluster answers.
func (i *Indexer) Ping(ctx context.Context) error {
	res, err := i.client.Ping(i.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("es ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("es ping: %s", res.Status())
	}
	return nil
}
