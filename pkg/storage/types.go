package storage

import (
	"time"

	"github.com/qarbon/qingest/pkg/adapters"
)

// Record is one stored ingestion result. The summary columns are copied out
// of Data so they can be filtered and aggregated in SQL.
type Record struct {
	ID             string    `json:"id"`
	Source         string    `json:"source,omitempty"`
	Signature      string    `json:"signature"`
	Adapter        string    `json:"adapter"`
	AdapterVersion string    `json:"adapterVersion"`
	Confidence     float64   `json:"confidence"`
	IngestedAt     time.Time `json:"ingestedAt"`

	EmissionsKg     *float64 `json:"emissionsKg,omitempty"`
	EnergyKWh       *float64 `json:"energyKWh,omitempty"`
	DurationSeconds *float64 `json:"durationSeconds,omitempty"`
	Country         string   `json:"country,omitempty"`

	Data *adapters.NormalizedData `json:"data"`
}

// Detection captures a single detection call for auditing.
type Detection struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurredAt"`
	Source     string    `json:"source,omitempty"`
	Signature  string    `json:"signature"`
	BestMatch  string    `json:"bestMatch,omitempty"` // empty when nothing matched
	TopScore   float64   `json:"topScore"`
	Candidates int       `json:"candidates"`
	EarlyExit  bool      `json:"earlyExit"`
	CacheHit   bool      `json:"cacheHit"`
	TimedOut   bool      `json:"timedOut"`
	ElapsedMs  float64   `json:"elapsedMs"`
}

type AdapterStats struct {
	Adapter       string  `json:"adapter"`
	Records       int     `json:"records"`
	EmissionsKg   float64 `json:"emissionsKg"`
	EnergyKWh     float64 `json:"energyKWh"`
	AvgConfidence float64 `json:"avgConfidence"`
}
