package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmart/stock-ledger/api"
	"github.com/osmart/stock-ledger/exclusions"
	"github.com/osmart/stock-ledger/ledger"
	"github.com/osmart/stock-ledger/ledger/store"
	"github.com/osmart/stock-ledger/pipeline"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testEpoch = ledger.NewDay(2025, time.March, 1)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	mem := store.NewMemory()
	excl := exclusions.NewLog(filepath.Join(t.TempDir(), "exclusions.csv"))
	runner := &pipeline.Runner{
		Events:      mem,
		Truth:       mem,
		Points:      mem,
		Checkpoints: mem,
		Exclusions:  excl,
		Log:         zerolog.Nop(),
		Epoch:       testEpoch,
		Now:         func() time.Time { return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC) },
	}
	sources := []pipeline.Source{{Name: "downtown", StoreID: 1}}

	handler := api.NewHandler(runner, sources, excl, zerolog.Nop())
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv, mem
}

func getJSON(t *testing.T, url string, out any) int {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

// =============================================================================
// ENDPOINT TESTS
// =============================================================================

func TestAPI_ListStores(t *testing.T) {
	srv, _ := newTestServer(t)

	var stores []api.StoreDTO
	code := getJSON(t, srv.URL+"/api/stores", &stores)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, stores, 1)
	assert.Equal(t, "downtown", stores[0].Name)
	assert.Empty(t, stores[0].LastDate, "no checkpoint before the first run")
}

func TestAPI_UpdateThenReadBack(t *testing.T) {
	srv, mem := newTestServer(t)
	mem.AddEvents(1, ledger.RawEvent{
		StoreID:    1,
		ProductID:  7,
		RecordID:   "h-1",
		Timestamp:  testEpoch.Time().Add(8 * time.Hour),
		IsAbsolute: "1",
		AbsAfter:   "100",
	})

	// Trigger a run.
	resp, err := http.Post(srv.URL+"/api/runs/update", "application/json", nil)
	require.NoError(t, err)
	var results []pipeline.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	resp.Body.Close()
	require.Len(t, results, 1)
	assert.Equal(t, pipeline.StatusCompleted, results[0].Status)

	// Cursor now visible.
	var stores []api.StoreDTO
	getJSON(t, srv.URL+"/api/stores", &stores)
	assert.Equal(t, "2025-03-10", stores[0].LastDate)

	// Points readable.
	var points []api.PointDTO
	code := getJSON(t, srv.URL+"/api/stores/1/points", &points)
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, points)

	// Forward-filled balance.
	var bal api.BalanceDTO
	code = getJSON(t, srv.URL+"/api/stores/1/balance?product=7&date=2025-03-08", &bal)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, bal.Known)
	assert.Equal(t, int64(100), bal.Balance)

	// Run history recorded.
	var runs []pipeline.RunResult
	getJSON(t, srv.URL+"/api/runs", &runs)
	assert.Len(t, runs, 1)
}

func TestAPI_SeedUnknownStoreIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(api.SeedRequest{Store: "nowhere"})
	resp, err := http.Post(srv.URL+"/api/runs/seed", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_UnknownStorePoints404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stores/99/points")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_BadDateIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stores/1/points?from=03-10-2025")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
