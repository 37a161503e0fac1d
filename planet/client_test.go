package planet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, router *mux.Router) (*Client, *httptest.Server) {
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	opts := DefaultOptions()
	opts.BaseURL = srv.URL
	opts.APIKey = "test-key"
	opts.PageSize = 2
	opts.RequestsPerSecond = 1000
	opts.RateLimitRetries = 0
	return New(opts), srv
}

func feature(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":   id,
		"type": "Feature",
		"geometry": map[string]interface{}{
			"type":        "Point",
			"coordinates": []float64{-122.4, 37.8},
		},
		"properties": map[string]interface{}{
			"item_type":   "PSScene4Band",
			"cloud_cover": 0.1,
		},
	}
}

func TestSearchAndNextPage(t *testing.T) {
	router := mux.NewRouter()
	var srvURL string
	router.HandleFunc("/quick-search", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test-key", user)
		assert.Equal(t, "acquired desc", r.URL.Query().Get("_sort"))
		assert.Equal(t, "2", r.URL.Query().Get("_page_size"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			ItemTypes []string        `json:"item_types"`
			Filter    json.RawMessage `json:"filter"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"PSScene4Band"}, body.ItemTypes)
		assert.Contains(t, string(body.Filter), "AndFilter")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"_links":   map[string]string{"_next": srvURL + "/pages/2"},
			"features": []interface{}{feature("a"), feature("b")},
		})
	}).Methods("POST")
	router.HandleFunc("/pages/2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"_links":   map[string]string{},
			"features": []interface{}{feature("c")},
		})
	}).Methods("GET")

	client, srv := newTestClient(t, router)
	srvURL = srv.URL

	spec, err := BuildFromStrings(testAOI(t), "2017-12-01", "2017-12-31", 0.2, PermissionAssetsDownload)
	require.NoError(t, err)

	page, err := client.Search(context.Background(), spec.Request([]string{"PSScene4Band"}))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a", page.Items[0].ID())
	assert.Equal(t, "PSScene4Band", page.Items[0].ItemType())
	assert.NotNil(t, page.Items[0].Geometry())
	assert.Equal(t, srv.URL+"/pages/2", page.Next)

	page, err = client.NextPage(context.Background(), page.Next)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].ID())
	assert.Empty(t, page.Next)

	_, err = client.NextPage(context.Background(), "")
	assert.Error(t, err)
}

func TestAPIErrors(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/quick-search", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "bad filter"}`, http.StatusBadRequest)
	})
	router.HandleFunc("/throttled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	router.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client, srv := newTestClient(t, router)

	t.Run("400 is a client error", func(t *testing.T) {
		_, err := client.Search(context.Background(), &SearchRequest{ItemTypes: []string{"PSScene4Band"}})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Body, "bad filter")
		assert.True(t, IsClientError(err))
	})

	t.Run("429 is not a client error", func(t *testing.T) {
		_, err := client.NextPage(context.Background(), srv.URL+"/throttled")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.False(t, IsClientError(err))
	})

	t.Run("5xx is not a client error", func(t *testing.T) {
		_, err := client.NextPage(context.Background(), srv.URL+"/broken")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.False(t, IsClientError(err))
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("page 3: %w", &APIError{StatusCode: http.StatusForbidden})
		assert.True(t, IsClientError(err))
		assert.True(t, IsClientError(fmt.Errorf("x: %w", ErrUnknownAsset)))
		assert.False(t, IsClientError(errors.New("connection reset")))
	})
}

func assetRouter(t *testing.T, srvURL *string, activations *atomic.Int32) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/item-types/{type}/items/{id}/assets", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		assert.Equal(t, "PSScene4Band", vars["type"])
		status := "inactive"
		entry := map[string]interface{}{
			"_links":       map[string]string{"activate": *srvURL + "/activate/" + vars["id"]},
			"md5_digest":   "abc123",
			"content_type": "image/tiff",
			"size":         11,
			"type":         "analytic",
		}
		if activations.Load() > 0 {
			status = "active"
			entry["location"] = *srvURL + "/bytes/" + vars["id"]
		}
		entry["status"] = status
		json.NewEncoder(w).Encode(map[string]interface{}{"analytic": entry})
	}).Methods("GET")
	router.HandleFunc("/activate/{id}", func(w http.ResponseWriter, r *http.Request) {
		activations.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}).Methods("GET")
	router.HandleFunc("/bytes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/tiff")
		w.Write([]byte("hello world"))
	}).Methods("GET")
	return router
}

func TestAssets(t *testing.T) {
	var srvURL string
	var activations atomic.Int32
	client, srv := newTestClient(t, assetRouter(t, &srvURL, &activations))
	srvURL = srv.URL
	ctx := context.Background()

	status, err := client.AssetStatus(ctx, "PSScene4Band", "item1", "analytic")
	require.NoError(t, err)
	assert.Equal(t, AssetInactive, status.Status)
	assert.Equal(t, "abc123", status.MD5)
	assert.Equal(t, int64(11), status.Size)
	assert.Equal(t, "image/tiff", status.ContentType)
	assert.Empty(t, status.Location)
	assert.Equal(t, int32(0), activations.Load(), "status checks must not activate")

	require.NoError(t, client.RequestActivation(ctx, "PSScene4Band", "item1", "analytic"))
	assert.Equal(t, int32(1), activations.Load())

	status, err = client.AssetStatus(ctx, "PSScene4Band", "item1", "analytic")
	require.NoError(t, err)
	assert.Equal(t, AssetActive, status.Status)
	assert.Equal(t, srv.URL+"/bytes/item1", status.Location)

	body, err := client.Download(ctx, status.Location)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, "image/tiff", body.ContentType)
	assert.Equal(t, int64(11), body.Size)

	_, err = client.AssetStatus(ctx, "PSScene4Band", "item1", "visual")
	assert.ErrorIs(t, err, ErrUnknownAsset)
	assert.True(t, IsClientError(err))
}
