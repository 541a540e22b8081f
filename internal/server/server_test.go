package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/qarbon/qingest/pkg/adapters/builtin"
	"github.com/qarbon/qingest/pkg/registry"
	"github.com/qarbon/qingest/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const run = `{"duration_seconds":3600,"emissions_kg":0.5,"project_name":"x","country_name":"USA"}`

func newServer(t *testing.T, withDB bool) *Server {
	t.Helper()
	reg, err := builtin.NewRegistry(registry.DefaultOptions(), builtin.Config{})
	require.NoError(t, err)
	var db *storage.DB
	if withDB {
		db, err = storage.Open(filepath.Join(t.TempDir(), "server.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
	}
	return New(reg, db, "", "")
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDetect(t *testing.T) {
	h := newServer(t, false).Handler()
	rec := do(t, h, http.MethodPost, "/api/detect", run)
	require.Equal(t, http.StatusOK, rec.Code)

	var res registry.DetectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "codecarbon", res.BestMatch)
	assert.NotEmpty(t, res.ConfidenceScores)

	rec = do(t, h, http.MethodPost, "/api/detect", "\x00\x01\x02")
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Nil(t, raw["bestMatch"])

	rec = do(t, h, http.MethodPost, "/api/detect?simple=true", run)
	assert.JSONEq(t, `{"bestMatch":"codecarbon"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/detect?timeout=soon", run)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestStoresRecord(t *testing.T) {
	s := newServer(t, true)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/ingest?source=run.json", run)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		ID     string                   `json:"id"`
		Record *adapters.NormalizedData `json:"record"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.ID)
	assert.Equal(t, "codecarbon", out.Record.Metadata.Adapter)
	assert.Equal(t, 0.5, out.Record.Emissions.Total)

	rec = do(t, h, http.MethodGet, "/api/records/"+out.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored storage.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "run.json", stored.Source)

	rec = do(t, h, http.MethodGet, "/api/records?adapter=codecarbon&limit=5", "")
	var list []storage.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(t, h, http.MethodGet, "/api/records/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stats", "")
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 9, stats.Adapters)
	require.Len(t, stats.Records, 1)
	assert.Equal(t, 1, stats.Records[0].Records)
	require.NotNil(t, stats.Detections)
	assert.Equal(t, 1, stats.Detections.Total)

	rec = do(t, h, http.MethodGet, "/api/detections", "")
	var dets []storage.Detection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dets))
	require.Len(t, dets, 1)
	assert.Equal(t, "codecarbon", dets[0].BestMatch)
}

func TestIngestErrors(t *testing.T) {
	h := newServer(t, false).Handler()

	rec := do(t, h, http.MethodPost, "/api/ingest", `{invalid json`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "unknown format")
	require.NotNil(t, resp.Detection)
}

func TestWithoutDB(t *testing.T) {
	h := newServer(t, false).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/api/records", "").Code)

	rec := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"detections"`)
}

func TestAdapters(t *testing.T) {
	rec := do(t, newServer(t, false).Handler(), http.MethodGet, "/api/adapters", "")
	var ds []adapters.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.Len(t, ds, 9)
	assert.Equal(t, "codecarbon", ds[0].Name)
}

func TestBasicAuth(t *testing.T) {
	s := newServer(t, false)
	s.Username, s.Password = "admin", "secret"
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/adapters", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/adapters", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	s := newServer(t, false)
	s.MaxBody = 8
	rec := do(t, s.Handler(), http.MethodPost, "/api/detect", run)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
