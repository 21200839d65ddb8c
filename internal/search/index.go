// Package search keeps marketplace listings in an Elasticsearch index.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/config"
	"csquare/marketplace/marketplace-backend/internal/projects"
)

const defaultLimit = 50

// Index is a full-text index of purchasable projects.
type Index interface {
	Upsert(ctx context.Context, project *projects.Project) error
	Remove(ctx context.Context, projectID string) error
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// Document is the indexed form of a project.
type Document struct {
	ProjectID       string  `json:"projectId"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	ProjectType     string  `json:"projectType"`
	Country         string  `json:"country,omitempty"`
	Region          string  `json:"region,omitempty"`
	Status          string  `json:"status"`
	TonsAvailable   float64 `json:"tonsAvailable"`
	PricePerTonUsd  float64 `json:"pricePerTonUsd"`
	SellerCompanyID string  `json:"sellerCompanyId"`
}

// NewDocument converts a project into its indexed form.
func NewDocument(p *projects.Project) Document {
	return Document{
		ProjectID:       p.ProjectID,
		Name:            p.Name,
		Description:     p.Description,
		ProjectType:     string(p.ProjectType),
		Country:         p.Country,
		Region:          p.Region,
		Status:          string(p.Status),
		TonsAvailable:   p.TonsAvailable,
		PricePerTonUsd:  p.PricePerTonUsd,
		SellerCompanyID: p.SellerCompanyID,
	}
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "projectId":       {"type": "keyword"},
      "name":            {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "description":     {"type": "text"},
      "projectType":     {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "country":         {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "region":          {"type": "text"},
      "status":          {"type": "keyword"},
      "tonsAvailable":   {"type": "double"},
      "pricePerTonUsd":  {"type": "double"},
      "sellerCompanyId": {"type": "keyword"}
    }
  }
}`

// ElasticIndex is the Elasticsearch implementation of Index
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
	logger *zap.Logger
}

// NewElasticIndex connects to the configured cluster.
func NewElasticIndex(cfg config.SearchConfig, logger *zap.Logger) (*ElasticIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ElasticIndex{client: client, index: cfg.Index, logger: logger}, nil
}

func responseError(res *esapi.Response, action string) error {
	body, _ := io.ReadAll(res.Body)
	reason := gjson.GetBytes(body, "error.reason").String()
	if reason == "" {
		reason = strings.TrimSpace(string(body))
	}
	return fmt.Errorf("elasticsearch %s failed (%d): %s", action, res.StatusCode, reason)
}

// EnsureIndex creates the listing index with its mapping when missing.
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		// Another instance may have created it first.
		if res.StatusCode == http.StatusBadRequest {
			return nil
		}
		return responseError(res, "create index")
	}
	e.logger.Info("Search index created", zap.String("index", e.index))
	return nil
}

// Upsert indexes a purchasable project and removes any other.
func (e *ElasticIndex) Upsert(ctx context.Context, project *projects.Project) error {
	if !project.Purchasable() {
		return e.Remove(ctx, project.ProjectID)
	}

	body, err := json.Marshal(NewDocument(project))
	if err != nil {
		return fmt.Errorf("failed to encode search document: %w", err)
	}
	res, err := e.client.Index(e.index, bytes.NewReader(body),
		e.client.Index.WithContext(ctx),
		e.client.Index.WithDocumentID(project.ProjectID))
	if err != nil {
		return fmt.Errorf("failed to index project: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError(res, "index")
	}
	return nil
}

func (e *ElasticIndex) Remove(ctx context.Context, projectID string) error {
	res, err := e.client.Delete(e.index, projectID, e.client.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to remove project from index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError(res, "delete")
	}
	return nil
}

// Search returns the projectIds of the best matches, most relevant first.
func (e *ElasticIndex) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	body, err := json.Marshal(map[string]any{
		"_source": false,
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":     query,
						"fields":    []string{"name^3", "projectType^2", "country^2", "region", "description"},
						"fuzziness": "AUTO",
					},
				},
				"filter": []any{
					map[string]any{"term": map[string]any{"status": projects.StatusActive}},
					map[string]any{"range": map[string]any{"tonsAvailable": map[string]any{"gt": 0}}},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(bytes.NewReader(body)),
		e.client.Search.WithSize(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError(res, "search")
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	hits := gjson.GetBytes(raw, "hits.hits.#._id").Array()
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.String())
	}
	return ids, nil
}
