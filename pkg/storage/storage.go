// Package storage persists ingested records and a detection audit log in a
// local sqlite database.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qarbon/qingest/pkg/adapters"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS records (
  id               TEXT PRIMARY KEY,
  source           TEXT,
  signature        TEXT NOT NULL,
  adapter          TEXT NOT NULL,
  adapter_version  TEXT NOT NULL,
  confidence       REAL NOT NULL,
  emissions_kg     REAL,
  energy_kwh       REAL,
  duration_seconds REAL,
  country          TEXT,
  body             TEXT NOT NULL,
  ingested_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_records_adapter ON records(adapter, ingested_at);
CREATE INDEX IF NOT EXISTS idx_records_time ON records(ingested_at);
CREATE TABLE IF NOT EXISTS detections (
  id            INTEGER PRIMARY KEY,
  occurred_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  source        TEXT,
  signature     TEXT NOT NULL,
  best_match    TEXT,
  top_score     REAL NOT NULL,
  candidates    INTEGER NOT NULL,
  early_exit    INTEGER NOT NULL CHECK (early_exit IN (0,1)),
  cache_hit     INTEGER NOT NULL CHECK (cache_hit IN (0,1)),
  timed_out     INTEGER NOT NULL CHECK (timed_out IN (0,1)),
  elapsed_ms    REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_detections_time ON detections(occurred_at);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Signature is the hex SHA-256 of a whole payload. Unlike the detection
// cache key it is exact, so identical uploads can be recognized later.
func Signature(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SaveRecord stores one ingested record and returns its generated id.
func (d *DB) SaveRecord(ctx context.Context, source string, raw []byte, data *adapters.NormalizedData) (string, error) {
	if data == nil {
		return "", errors.New("nil record")
	}
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}

	var emissions, energy, duration sql.NullFloat64
	if data.Emissions != nil {
		emissions = sql.NullFloat64{Float64: data.Emissions.Total, Valid: true}
	}
	if data.Energy != nil {
		energy = sql.NullFloat64{Float64: data.Energy.Total, Valid: true}
	}
	if data.Duration != nil {
		duration = sql.NullFloat64{Float64: data.Duration.Seconds, Valid: true}
	}
	var country string
	if data.Location != nil {
		country = data.Location.Country
	}

	id := uuid.NewString()
	_, err = d.sql.ExecContext(ctx, `INSERT INTO records(id, source, signature, adapter, adapter_version, confidence, emissions_kg, energy_kwh, duration_seconds, country, body, ingested_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, nullIfEmpty(source), Signature(raw), data.Metadata.Adapter, data.Metadata.AdapterVersion, data.Metadata.Confidence,
		emissions, energy, duration, nullIfEmpty(country), string(body), time.Now().UTC().Format(timeLayout))
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetRecord loads one record by id. It returns sql.ErrNoRows when absent.
func (d *DB) GetRecord(ctx context.Context, id string) (Record, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM records WHERE id = ?", id)
	return scanRecord(row)
}

// ListOptions controls selection when listing records.
type ListOptions struct {
	Adapter string
	Source  string
	Since   time.Time
	Limit   int
}

const recordColumns = "id, source, signature, adapter, adapter_version, confidence, emissions_kg, energy_kwh, duration_seconds, country, body, ingested_at"

// ListRecords returns records matching filters, newest first.
func (d *DB) ListRecords(ctx context.Context, opts ListOptions) ([]Record, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if opts.Adapter != "" && opts.Adapter != "all" {
		where = append(where, "adapter = ?")
		args = append(args, opts.Adapter)
	}
	if opts.Source != "" {
		where = append(where, "source LIKE ?")
		args = append(args, fmt.Sprintf("%%%s%%", opts.Source))
	}
	if !opts.Since.IsZero() {
		where = append(where, "ingested_at >= ?")
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}
	q := "SELECT " + recordColumns + " FROM records WHERE " + strings.Join(where, " AND ") + " ORDER BY ingested_at DESC, id"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		r                           Record
		source, country             sql.NullString
		emissions, energy, duration sql.NullFloat64
		body, ingestedAt            string
	)
	if err := s.Scan(&r.ID, &source, &r.Signature, &r.Adapter, &r.AdapterVersion, &r.Confidence,
		&emissions, &energy, &duration, &country, &body, &ingestedAt); err != nil {
		return Record{}, err
	}
	r.Source = source.String
	r.Country = country.String
	r.EmissionsKg = nullable(emissions)
	r.EnergyKWh = nullable(energy)
	r.DurationSeconds = nullable(duration)
	r.IngestedAt = parseTime(ingestedAt)

	r.Data = &adapters.NormalizedData{}
	if err := json.Unmarshal([]byte(body), r.Data); err != nil {
		return Record{}, fmt.Errorf("decoding record %s: %w", r.ID, err)
	}
	return r, nil
}

// LogDetection appends one entry to the detection audit log.
func (d *DB) LogDetection(ctx context.Context, det Detection) error {
	occurred := det.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := d.sql.ExecContext(ctx, `INSERT INTO detections(occurred_at, source, signature, best_match, top_score, candidates, early_exit, cache_hit, timed_out, elapsed_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		occurred.UTC().Format(timeLayout), nullIfEmpty(det.Source), det.Signature, nullIfEmpty(det.BestMatch), det.TopScore,
		det.Candidates, boolToInt(det.EarlyExit), boolToInt(det.CacheHit), boolToInt(det.TimedOut), det.ElapsedMs)
	return err
}

// ListDetections returns the most recent N detections.
func (d *DB) ListDetections(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	q := "SELECT id, occurred_at, source, signature, best_match, top_score, candidates, early_exit, cache_hit, timed_out, elapsed_ms FROM detections ORDER BY occurred_at DESC, id DESC LIMIT ?"
	rows, err := d.sql.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Detection{}
	for rows.Next() {
		var (
			det                          Detection
			occurredAt                   string
			source, best                 sql.NullString
			earlyExit, cacheHit, timeout int
		)
		if err := rows.Scan(&det.ID, &occurredAt, &source, &det.Signature, &best, &det.TopScore, &det.Candidates,
			&earlyExit, &cacheHit, &timeout, &det.ElapsedMs); err != nil {
			return nil, err
		}
		det.OccurredAt = parseTime(occurredAt)
		det.Source = source.String
		det.BestMatch = best.String
		det.EarlyExit = earlyExit == 1
		det.CacheHit = cacheHit == 1
		det.TimedOut = timeout == 1
		out = append(out, det)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetStats summarizes stored records per adapter.
func (d *DB) GetStats(ctx context.Context) ([]AdapterStats, error) {
	query := `
		SELECT
			adapter,
			COUNT(*),
			COALESCE(SUM(emissions_kg), 0),
			COALESCE(SUM(energy_kwh), 0),
			AVG(confidence)
		FROM
			records
		GROUP BY
			adapter
		ORDER BY
			adapter;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []AdapterStats{}
	for rows.Next() {
		var s AdapterStats
		if err := rows.Scan(&s.Adapter, &s.Records, &s.EmissionsKg, &s.EnergyKWh, &s.AvgConfidence); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// CountDetections returns the audit log size and how many found no match.
func (d *DB) CountDetections(ctx context.Context) (total, unmatched int, err error) {
	err = d.sql.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(*) - COUNT(best_match) FROM detections").Scan(&total, &unmatched)
	return total, unmatched, err
}

const timeLayout = "2006-01-02 15:04:05.000000"

// parseTime reads our own layout, SQLite CURRENT_TIMESTAMP, or RFC3339.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
