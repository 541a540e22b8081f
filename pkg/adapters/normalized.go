package adapters

// NormalizedData is the canonical record every adapter produces. Sections are
// optional; anything that does not fit lands in AdditionalProperties.
type NormalizedData struct {
	Emissions *Emissions `json:"emissions,omitempty"`
	Energy    *Energy    `json:"energy,omitempty"`
	Power     *Power     `json:"power,omitempty"`
	Location  *Location  `json:"location,omitempty"`
	Device    *Device    `json:"device,omitempty"`
	Duration  *Duration  `json:"duration,omitempty"`
	Metadata  Metadata   `json:"metadata"`

	AdditionalProperties map[string]any `json:"additionalProperties,omitempty"`
}

type Emissions struct {
	Total float64 `json:"total"`
	Unit  string  `json:"unit"`
	Scope string  `json:"scope,omitempty"`
}

type Energy struct {
	Total     float64            `json:"total"`
	Unit      string             `json:"unit"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

type Power struct {
	Average float64 `json:"average"`
	Peak    float64 `json:"peak,omitempty"`
	Unit    string  `json:"unit"`
	Samples int     `json:"samples,omitempty"`
}

type Location struct {
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Device struct {
	Type         string `json:"type,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Serial       string `json:"serial,omitempty"`
}

type Duration struct {
	Seconds float64 `json:"seconds"`
}

type Metadata struct {
	Adapter        string  `json:"adapter"`
	AdapterVersion string  `json:"adapterVersion"`
	Confidence     float64 `json:"confidence"`
}

// NewNormalizedData returns a record stamped with the adapter identity.
func NewNormalizedData(d Descriptor) *NormalizedData {
	return &NormalizedData{
		Metadata: Metadata{Adapter: d.Name, AdapterVersion: d.Version, Confidence: d.DeclaredConfidence},
	}
}

// SetExtra stores an adapter-specific value, allocating the bag on first use.
func (n *NormalizedData) SetExtra(key string, v any) {
	if n.AdditionalProperties == nil {
		n.AdditionalProperties = make(map[string]any)
	}
	n.AdditionalProperties[key] = v
}

// Empty reports whether no canonical section was populated.
func (n *NormalizedData) Empty() bool {
	return n.Emissions == nil && n.Energy == nil && n.Power == nil &&
		n.Location == nil && n.Device == nil && n.Duration == nil
}
