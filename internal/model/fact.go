package model

import (
	"encoding/json"
	"time"
)

// DefaultFactConfidence is used when an extractor does not score an item.
const DefaultFactConfidence = 0.8

// Source is one fetched page that yielded usable content. Sources are
// append-only: a re-fetch writes a new row.
type Source struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"orgId"`
	VendorID   string    `json:"vendorId"`
	Metric     Lane      `json:"metric"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	BodyHash   string    `json:"bodyHash"`
	FetchedAt  time.Time `json:"fetchedAt"`
	TrustTier  int       `json:"trustTier"`
	FirstParty bool      `json:"firstParty"`
}

// FactKey is the natural key a fact is upserted on.
type FactKey struct {
	OrgID    string `json:"orgId"`
	VendorID string `json:"vendorId"`
	Metric   Lane   `json:"metric"`
	Subject  string `json:"subject"`
	Key      string `json:"key"`
}

// Fact is a single structured, cited claim about a vendor within a lane.
type Fact struct {
	ID          string          `json:"id"`
	OrgID       string          `json:"orgId"`
	VendorID    string          `json:"vendorId"`
	Metric      Lane            `json:"metric"`
	Subject     string          `json:"subject"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"valueJson"`
	TextSummary string          `json:"textSummary"`
	Citations   []string        `json:"citations"`
	Confidence  float64         `json:"confidence"`
	FirstSeenAt time.Time       `json:"firstSeenAt"`
	LastSeenAt  time.Time       `json:"lastSeenAt"`
}

// NaturalKey returns the upsert key of the fact.
func (f *Fact) NaturalKey() FactKey {
	return FactKey{
		OrgID:    f.OrgID,
		VendorID: f.VendorID,
		Metric:   f.Metric,
		Subject:  f.Subject,
		Key:      f.Key,
	}
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// NormalizeCitations returns a non-nil citation slice.
func NormalizeCitations(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}
