package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "qingest.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func record(adapter string, kg float64) *adapters.NormalizedData {
	return &adapters.NormalizedData{
		Emissions: &adapters.Emissions{Total: kg, Unit: "kg"},
		Location:  &adapters.Location{Country: "FR"},
		Metadata:  adapters.Metadata{Adapter: adapter, AdapterVersion: "1.0.0", Confidence: 0.9},
		AdditionalProperties: map[string]any{
			"project_name": "x",
		},
	}
}

func TestSaveAndGetRecord(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	id, err := db.SaveRecord(ctx, "run.json", []byte(`{"emissions":0.5}`), record("codecarbon", 0.5))
	require.NoError(t, err)
	require.Len(t, id, 36)

	r, err := db.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run.json", r.Source)
	assert.Equal(t, "codecarbon", r.Adapter)
	assert.Equal(t, Signature([]byte(`{"emissions":0.5}`)), r.Signature)
	require.NotNil(t, r.EmissionsKg)
	assert.Equal(t, 0.5, *r.EmissionsKg)
	assert.Nil(t, r.EnergyKWh)
	assert.Equal(t, "FR", r.Country)
	assert.WithinDuration(t, time.Now(), r.IngestedAt, time.Minute)
	assert.Equal(t, "x", r.Data.AdditionalProperties["project_name"])
	assert.Equal(t, 0.5, r.Data.Emissions.Total)

	_, err = db.GetRecord(ctx, "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	_, err = db.SaveRecord(ctx, "", nil, nil)
	assert.Error(t, err)
}

func TestListRecords(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	for i, a := range []string{"csv", "codecarbon", "csv"} {
		_, err := db.SaveRecord(ctx, "batch/"+a, []byte{byte(i)}, record(a, float64(i+1)))
		require.NoError(t, err)
	}

	all, err := db.ListRecords(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	csv, err := db.ListRecords(ctx, ListOptions{Adapter: "csv"})
	require.NoError(t, err)
	assert.Len(t, csv, 2)

	limited, err := db.ListRecords(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	future, err := db.ListRecords(ctx, ListOptions{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)

	bySource, err := db.ListRecords(ctx, ListOptions{Source: "codecarbon"})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "codecarbon", bySource[0].Adapter)
}

func TestStats(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	_, err := db.SaveRecord(ctx, "", []byte("a"), record("csv", 1))
	require.NoError(t, err)
	_, err = db.SaveRecord(ctx, "", []byte("b"), record("csv", 2))
	require.NoError(t, err)
	_, err = db.SaveRecord(ctx, "", []byte("c"), record("xml", 4))
	require.NoError(t, err)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, AdapterStats{Adapter: "csv", Records: 2, EmissionsKg: 3, AvgConfidence: 0.9}, stats[0])
	assert.Equal(t, "xml", stats[1].Adapter)
}

func TestDetections(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.LogDetection(ctx, Detection{OccurredAt: base, Signature: "s1", BestMatch: "csv", TopScore: 0.84, Candidates: 9}))
	require.NoError(t, db.LogDetection(ctx, Detection{OccurredAt: base.Add(time.Second), Signature: "s2", TopScore: 0.3, Candidates: 9, TimedOut: true}))

	got, err := db.ListDetections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s2", got[0].Signature)
	assert.Empty(t, got[0].BestMatch)
	assert.True(t, got[0].TimedOut)
	assert.True(t, base.Equal(got[1].OccurredAt), got[1].OccurredAt)
	assert.Equal(t, "csv", got[1].BestMatch)

	total, unmatched, err := db.CountDetections(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, unmatched)
}
