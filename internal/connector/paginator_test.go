package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice-sync/internal/mapping"
)

func identityRecord(fields map[string]interface{}, index int) (interface{}, error) {
	return fields, nil
}

func newTestPaginator(t *testing.T, handler http.HandlerFunc) (*Paginator, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	client, err := NewClient(serverConfig(t, server), nil, testLogger())
	require.NoError(t, err)

	exec := NewExecutor(client, nil, testLogger())
	exec.sleep = func(d time.Duration) {}

	return NewPaginator(exec, mapping.NewEngine(testLogger()), testLogger()), server.Close
}

func departmentsMapping(pagination *mapping.PaginationConfig) *mapping.EntityMapping {
	return &mapping.EntityMapping{
		Source:    "/departments",
		ArrayPath: "$.data",
		Fields: map[string]mapping.FieldMapping{
			"id":   {Path: "$.id", Required: true},
			"name": {Path: "$.name"},
		},
		Pagination: pagination,
	}
}

func writePage(w http.ResponseWriter, page map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func TestFetchAllSinglePageWithoutPagination(t *testing.T) {
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{"id": "1", "name": "Fuel"},
				map[string]interface{}{"id": "2", "name": "Grocery"},
			},
		})
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(nil), identityRecord)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0].(map[string]interface{})
	assert.Equal(t, "1", first["id"])
	assert.Equal(t, "Fuel", first["name"])
}

func TestFetchAllOffsetPagination(t *testing.T) {
	var offsets []string
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		offsets = append(offsets, r.URL.Query().Get("offset"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))

		var items []interface{}
		// Five records total, page size two.
		for i := offset; i < offset+2 && i < 5; i++ {
			items = append(items, map[string]interface{}{"id": fmt.Sprintf("%d", i)})
		}
		writePage(w, map[string]interface{}{"data": items})
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{Type: mapping.PaginationOffset, PageSize: 2}),
		identityRecord)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	assert.Equal(t, []string{"0", "2", "4"}, offsets)
}

func TestFetchAllPageNumberPagination(t *testing.T) {
	var pages []string
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("p"))
		pages = append(pages, r.URL.Query().Get("p"))

		var items []interface{}
		if page <= 2 {
			for i := 0; i < 3; i++ {
				items = append(items, map[string]interface{}{"id": fmt.Sprintf("%d-%d", page, i)})
			}
		}
		writePage(w, map[string]interface{}{"data": items, "has_more": page < 2})
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{
			Type:        mapping.PaginationPage,
			PageSize:    3,
			PageParam:   "p",
			HasMorePath: "$.has_more",
		}),
		identityRecord)
	require.NoError(t, err)
	assert.Len(t, records, 6)
	assert.Equal(t, []string{"1", "2"}, pages, "has_more=false must stop the walk")
}

func TestFetchAllCursorPagination(t *testing.T) {
	var cursors []string
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		page := map[string]interface{}{
			"data": []interface{}{map[string]interface{}{"id": "x" + cursor}},
		}
		switch cursor {
		case "":
			page["next"] = "c1"
		case "c1":
			page["next"] = "c2"
		}
		writePage(w, page)
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{
			Type:           mapping.PaginationCursor,
			PageSize:       1,
			NextCursorPath: "$.next",
		}),
		identityRecord)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, []string{"", "c1", "c2"}, cursors, "absent next cursor must stop the walk")
}

func TestFetchAllStopsOnEmptyPage(t *testing.T) {
	calls := 0
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		// A vendor that always reports has_more=true but returns no records
		// must not loop forever.
		writePage(w, map[string]interface{}{"data": []interface{}{}, "has_more": true})
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{
			Type:        mapping.PaginationOffset,
			PageSize:    10,
			HasMorePath: "$.has_more",
		}),
		identityRecord)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 1, calls)
}

func TestFetchAllTruncatesAtMaxRecords(t *testing.T) {
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		items := make([]interface{}, 2)
		for i := range items {
			items[i] = map[string]interface{}{"id": "r"}
		}
		writePage(w, map[string]interface{}{"data": items})
	})
	defer cleanup()

	records, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{
			Type:       mapping.PaginationOffset,
			PageSize:   2,
			MaxRecords: 5,
		}),
		identityRecord)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestFetchAllDoesNotMutateBaseDescriptor(t *testing.T) {
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]interface{}{"data": []interface{}{}})
	})
	defer cleanup()

	base := &RequestDescriptor{
		Method: "GET",
		Path:   "/departments",
		Query:  map[string]string{"store": "42"},
	}
	_, err := paginator.FetchAll(context.Background(), base,
		departmentsMapping(&mapping.PaginationConfig{Type: mapping.PaginationOffset}),
		identityRecord)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"store": "42"}, base.Query)
}

func TestFetchAllUnknownPaginationType(t *testing.T) {
	paginator, cleanup := newTestPaginator(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, map[string]interface{}{"data": []interface{}{}})
	})
	defer cleanup()

	_, err := paginator.FetchAll(context.Background(),
		&RequestDescriptor{Method: "GET", Path: "/departments"},
		departmentsMapping(&mapping.PaginationConfig{Type: "scroll"}),
		identityRecord)
	require.Error(t, err)
}
