package confluence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageJSON(id, title string, version int, adf string) string {
	raw, _ := json.Marshal(map[string]any{
		"id":      id,
		"title":   title,
		"spaceId": "SP1",
		"version": map[string]any{"number": version},
		"body": map[string]any{
			"atlas_doc_format": map[string]any{"value": adf},
		},
	})

	return string(raw)
}

func TestGetPage(t *testing.T) {
	adf := `{"type":"doc","version":1,"content":[]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/pages/123", r.URL.Path)
		assert.Equal(t, "atlas_doc_format", r.URL.Query().Get("body-format"))
		_, _ = w.Write([]byte(pageJSON("123", "Roadmap", 7, adf)))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.GetPage(context.Background(), "123")
	require.NoError(t, err)

	assert.Equal(t, "123", page.ID)
	assert.Equal(t, "Roadmap", page.Title)
	assert.Equal(t, "SP1", page.SpaceID)
	assert.Equal(t, 7, page.Version)
	assert.JSONEq(t, adf, string(page.Body))
}

func TestGetPage_EmptyBodyNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pageJSON("123", "Empty", 1, "")))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.GetPage(context.Background(), "123")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(page.Body))
}

func TestGetPage_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pageJSON("123", "Broken", 1, `{"type":`)))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetPage(context.Background(), "123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed ADF body")
}

func TestGetPage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetPage(context.Background(), "999")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePage_SendsIncrementedVersion(t *testing.T) {
	adf := `{"type":"doc","version":1,"content":[]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v2/pages/123", r.URL.Path)

		var req struct {
			Title   string `json:"title"`
			Version struct {
				Number  int    `json:"number"`
				Message string `json:"message"`
			} `json:"version"`
			Body struct {
				Representation string `json:"representation"`
				Value          string `json:"value"`
			} `json:"body"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "Roadmap", req.Title)
		assert.Equal(t, 8, req.Version.Number)
		assert.Equal(t, "tweak", req.Version.Message)
		assert.Equal(t, "atlas_doc_format", req.Body.Representation)
		assert.JSONEq(t, adf, req.Body.Value)

		_, _ = w.Write([]byte(pageJSON("123", "Roadmap", 8, "")))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.UpdatePage(context.Background(), "123", "Roadmap", 7, json.RawMessage(adf), "tweak")
	require.NoError(t, err)

	assert.Equal(t, 8, page.Version)
	// The update response omits the body; the pushed body is carried over.
	assert.JSONEq(t, adf, string(page.Body))
}

func TestUpdatePage_Conflict(t *testing.T) {
	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"version conflict"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.UpdatePage(context.Background(), "123", "T", 7, json.RawMessage(`{}`), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	// Conflicts are the engine's business, never retried here.
	assert.Equal(t, 1, calls)
}

func TestCreatePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/pages", r.URL.Path)

		var req struct {
			SpaceID  string `json:"spaceId"`
			ParentID string `json:"parentId"`
			Title    string `json:"title"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "SP1", req.SpaceID)
		assert.Equal(t, "777", req.ParentID)

		_, _ = w.Write([]byte(pageJSON("456", req.Title, 1, "")))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.CreatePage(context.Background(), "SP1", "New Page", json.RawMessage(`{"type":"doc"}`), "777")
	require.NoError(t, err)
	assert.Equal(t, "456", page.ID)
	assert.Equal(t, 1, page.Version)
}

func TestPageVersionBody(t *testing.T) {
	adf := `{"type":"doc","version":1,"content":[{"type":"paragraph"}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/api/content/123", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("version"))
		assert.Equal(t, "body.atlas_doc_format", r.URL.Query().Get("expand"))

		raw, _ := json.Marshal(map[string]any{
			"body": map[string]any{
				"atlas_doc_format": map[string]any{"value": adf},
			},
		})
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	body, err := client.PageVersionBody(context.Background(), "123", 5)
	require.NoError(t, err)
	assert.JSONEq(t, adf, string(body))
}
