package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/config"
	"csquare/marketplace/marketplace-backend/internal/ledger"
	"csquare/marketplace/marketplace-backend/internal/projects"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

func newTestIndex(t *testing.T, respond func(w http.ResponseWriter, r *http.Request)) (*ElasticIndex, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		respond(w, r)
	}))
	t.Cleanup(server.Close)

	idx, err := NewElasticIndex(config.SearchConfig{Addresses: []string{server.URL}, Index: "listings"}, zap.NewNop())
	require.NoError(t, err)
	return idx, &requests
}

func TestSearchReturnsHitIDs(t *testing.T) {
	idx, requests := newTestIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_id":"p-2"},{"_id":"p-1"}]}}`))
	})

	ids, err := idx.Search(context.Background(), "mangrove", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-2", "p-1"}, ids)

	require.Len(t, *requests, 1)
	assert.Equal(t, "/listings/_search", (*requests)[0].path)
	assert.Contains(t, (*requests)[0].body, `"mangrove"`)
}

func TestUpsertIndexesPurchasableProject(t *testing.T) {
	idx, requests := newTestIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	p := projects.New("Reef", ledger.ProjectTypeOther)
	p.TonsAvailable = 5
	require.NoError(t, idx.Upsert(context.Background(), p))

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.True(t, strings.HasSuffix(req.path, "/listings/_doc/"+p.ProjectID))

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(req.body), &doc))
	assert.Equal(t, "Reef", doc.Name)
}

func TestUpsertRemovesSoldOutProject(t *testing.T) {
	idx, requests := newTestIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	})

	p := projects.New("Reef", ledger.ProjectTypeOther)
	require.NoError(t, idx.Upsert(context.Background(), p))

	require.Len(t, *requests, 1)
	assert.Equal(t, http.MethodDelete, (*requests)[0].method)
}

func TestSearchSurfacesClusterErrors(t *testing.T) {
	idx, _ := newTestIndex(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"reason":"shard failure"}}`))
	})

	_, err := idx.Search(context.Background(), "x", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard failure")
}
