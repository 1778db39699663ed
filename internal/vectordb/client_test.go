package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	c := NewClient(Config{Host: u.Hostname(), Port: port, Collection: "test_chunks", Dimensions: 3}, nil)
	return c, srv
}

func TestPointIDIsDeterministic(t *testing.T) {
	ref := ChunkRef{DocumentID: "doc-1", Ordinal: 4}
	assert.Equal(t, PointID(ref), PointID(ref))
	assert.NotEqual(t, PointID(ref), PointID(ChunkRef{DocumentID: "doc-1", Ordinal: 5}))
	assert.NotEqual(t, PointID(ref), PointID(ChunkRef{DocumentID: "doc-2", Ordinal: 4}))
}

func TestUpsertSendsDeterministicIDs(t *testing.T) {
	var captured struct {
		Points []struct {
			ID      string                 `json:"id"`
			Vector  []float32              `json:"vector"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"points"`
	}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/points"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	})
	defer srv.Close()

	pt := ChunkPoint{
		Ref:          ChunkRef{DocumentID: "doc-1", Ordinal: 0},
		Vector:       []float32{0.1, 0.2, 0.3},
		Text:         "first chunk",
		CharStart:    0,
		CharEnd:      11,
		ModelVersion: "test-model",
	}
	require.NoError(t, c.Upsert(context.Background(), []ChunkPoint{pt}))

	require.Len(t, captured.Points, 1)
	assert.Equal(t, PointID(pt.Ref), captured.Points[0].ID)
	assert.Equal(t, "doc-1", captured.Points[0].Payload["document_id"])
	assert.Equal(t, "test-model", captured.Points[0].Payload["model_version"])
	assert.Equal(t, float64(0), captured.Points[0].Payload["chunk_ordinal"])
}

func TestSearchMapsScoresToUnitInterval(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req qdrantQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Limit)
		require.NotNil(t, req.Filter)

		resp := map[string]interface{}{
			"status": "ok",
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{"id": "a", "score": 1.0, "payload": map[string]interface{}{
						"document_id": "doc-1", "chunk_ordinal": 0, "text": "exact", "char_start": 0, "char_end": 5,
					}},
					{"id": "b", "score": -1.0, "payload": map[string]interface{}{
						"document_id": "doc-1", "chunk_ordinal": 1, "text": "opposite", "char_start": 6, "char_end": 14,
					}},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	hits, err := c.Search(context.Background(), []float32{1, 0, 0}, 2, "doc-1")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-9)
	assert.Equal(t, "doc-1", hits[0].Ref.DocumentID)
	assert.Equal(t, 1, hits[1].Ref.Ordinal)
	assert.Equal(t, 6, hits[1].CharStart)
}

func TestSearchOmitsFilterWithoutDocument(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req qdrantQueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.Filter)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"result": map[string]interface{}{"points": []interface{}{}},
		})
	})
	defer srv.Close()

	hits, err := c.Search(context.Background(), []float32{1, 0, 0}, 3, "")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteDocumentFilters(t *testing.T) {
	var body map[string]interface{}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/points/delete"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
	})
	defer srv.Close()

	require.NoError(t, c.DeleteDocument(context.Background(), "doc-9"))

	filter := body["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	cond := must[0].(map[string]interface{})
	assert.Equal(t, "document_id", cond["key"])
}

func TestSearchErrorsWhenIndexDown(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1", Port: 1, Collection: "down", Dimensions: 3}, nil)
	_, err := c.Search(context.Background(), []float32{1}, 5, "")
	require.Error(t, err)
}
