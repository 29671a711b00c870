package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsdesk/internal/records"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Token: "secret"})
}

func TestFetchSnapshotPaginates(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/data_sources/ds-1/query", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, defaultVersion, r.Header.Get("Notion-Version"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["start_cursor"] == nil {
			fmt.Fprint(w, `{"results":[
				{"id":"p1","properties":{
					"Agenda Item":{"type":"title","title":[{"plain_text":"Bud"},{"plain_text":"get"}]},
					"Completed":{"type":"checkbox","checkbox":false},
					"Person":{"type":"people","people":[{"name":"Ann"}]},
					"Stars":{"type":"number","number":7},
					"Date":{"type":"date","date":{"start":"2024-01-05","end":null}},
					"Stage":{"type":"status","status":{"name":"Doing"}},
					"Done?":{"type":"formula","formula":{"type":"boolean","boolean":true}}}},
				{"id":"gone","in_trash":true,"properties":{}}],
				"has_more":true,"next_cursor":"c2"}`)
			return
		}
		assert.Equal(t, "c2", body["start_cursor"])
		fmt.Fprint(w, `{"results":[{"id":"p2","properties":{"Agenda Item":{"type":"title","title":[]}}}],"has_more":false,"next_cursor":null}`)
	})

	snap, err := c.FetchSnapshot(context.Background(), "ds-1")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, "p1", snap.Rows[0].ID)
	assert.Equal(t, "p2", snap.Rows[1].ID)

	row := snap.Rows[0]
	assert.Equal(t, "Budget", row.Text("Agenda Item"))
	assert.Equal(t, "Ann", row.Text("Person"))
	assert.Equal(t, "Doing", row.Text("Stage"))
	assert.Equal(t, "2024-01-05", row.Text("Date"))
	done, err := row.Bool("Done?")
	require.NoError(t, err)
	assert.True(t, done)
	stars, err := row.Int("Stars")
	require.NoError(t, err)
	assert.Equal(t, 7, stars)
}

func TestFetchSnapshotErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":"object_not_found"}`)
	})
	_, err := c.FetchSnapshot(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "object_not_found")

	_, err = c.FetchSnapshot(context.Background(), "")
	assert.Error(t, err)
}

func TestCreateAndRetireRecord(t *testing.T) {
	var created, trashed map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pages":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `{"id":"new-1","url":"https://example/new-1"}`)
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/pages/old-1":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&trashed))
			fmt.Fprint(w, `{"id":"old-1","in_trash":true}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	rec, err := c.CreateRecord(context.Background(), "ds-9", records.Properties{}.Title("Name", "a/b"), "https://github.com/a.png")
	require.NoError(t, err)
	assert.Equal(t, "new-1", rec.ID)
	assert.Equal(t, map[string]any{"type": "data_source_id", "data_source_id": "ds-9"}, created["parent"])
	assert.Equal(t, "https://github.com/a.png", created["icon"].(map[string]any)["external"].(map[string]any)["url"])

	require.NoError(t, c.RetireRecord(context.Background(), "old-1"))
	assert.Equal(t, true, trashed["in_trash"])
}

func blocks(n int) []Block {
	out := make([]Block, n)
	for i := range out {
		out[i] = Block{"object": "block", "type": "paragraph", "paragraph": map[string]any{"rich_text": []any{}}}
	}
	return out
}

func TestAppendContentBatches(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/blocks/page-1/children", r.URL.Path)
		var body struct {
			Children []Block `json:"children"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		sizes = append(sizes, len(body.Children))
		mu.Unlock()
		fmt.Fprint(w, `{"results":[{"id":"b-last"}]}`)
	})

	res, err := c.AppendContent(context.Background(), "page-1", blocks(250), 500)
	require.NoError(t, err)
	assert.Equal(t, []int{100, 100, 50}, sizes)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 250, res.Appended)
	assert.Equal(t, []string{"b-last"}, res.BlockIDs)
}

func TestAppendContentStopsOnFailedBatch(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"invalid block"}`)
			return
		}
		fmt.Fprint(w, `{"results":[]}`)
	})

	res, err := c.AppendContent(context.Background(), "page-1", blocks(30), 10)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 10, res.Appended)
	assert.Contains(t, err.Error(), "batch 2")
}

func TestListChildrenPaginates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/blocks/page-1/children", r.URL.Path)
		if r.URL.Query().Get("start_cursor") == "" {
			fmt.Fprint(w, `{"results":[{"type":"divider"}],"has_more":true,"next_cursor":"n"}`)
			return
		}
		fmt.Fprint(w, `{"results":[{"type":"paragraph"}],"has_more":false}`)
	})
	got, err := c.ListChildren(context.Background(), "page-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "divider", got[0].Type())
	assert.Equal(t, "paragraph", got[1].Type())
}
