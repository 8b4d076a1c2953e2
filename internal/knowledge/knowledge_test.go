package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"raggate-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedderRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-embed", req.Model)
		assert.Equal(t, "hello", req.Input)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.25, 0.5}}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-embed")
	vec, err := e.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5}, vec)
}

func TestEmbedderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-embed")
	_, err := e.Embed(context.Background(), "hello")

	assert.True(t, errors.Is(err, shared.ErrRetrievalUnavailable))
}

func TestEmbedderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	e := NewEmbedder(srv.URL, "test-embed")
	_, err := e.Embed(context.Background(), "hello")

	assert.True(t, errors.Is(err, shared.ErrRetrievalUnavailable))
}

func TestEmbedderEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "test-embed")
	_, err := e.Embed(context.Background(), "hello")

	assert.True(t, errors.Is(err, shared.ErrRetrievalUnavailable))
}

func TestStoreSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.TopK)
		_ = json.NewEncoder(w).Encode(searchResponse{Results: []Candidate{
			{ID: "doc-1", Document: "Paris is the capital of France.", Score: 0.95},
		}})
	}))
	defer srv.Close()

	s := NewStore(srv.URL)
	candidates, err := s.Search(context.Background(), []float32{0.1}, 2)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "doc-1", candidates[0].ID)
	assert.InDelta(t, 0.95, candidates[0].Score, 1e-9)
}

func TestStoreUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	s := NewStore(srv.URL)
	_, err := s.Search(context.Background(), []float32{0.1}, 2)

	assert.True(t, errors.Is(err, shared.ErrRetrievalUnavailable))
}
