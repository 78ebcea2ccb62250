package collector

import (
	"bytes"
	"encoding/json"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// detectChange compares a fact with its previous version and returns the
// update event to record, or nil. baseline reports whether the lane was
// collected before; without one every fact is new and nothing is emitted.
func detectChange(prev, next *model.Fact, baseline bool) *model.UpdateEvent {
	added := prev == nil && baseline
	changed := prev != nil && !sameValue(prev.Value, next.Value)
	if !added && !changed {
		return nil
	}

	var typ model.UpdateEventType
	var severity int
	switch next.Metric {
	case model.LanePricing:
		typ, severity = model.EventPriceChange, 2
	case model.LaneIntegrations:
		if !added {
			return nil
		}
		typ, severity = model.EventNewIntegration, 1
	case model.LaneTrust:
		typ, severity = model.EventSecurityScope, 2
	case model.LaneChangelog:
		typ, severity = model.EventReleaseNote, 1
		if isIncident(next.Value) {
			typ, severity = model.EventIncident, 3
		}
	default:
		return nil
	}

	e := &model.UpdateEvent{
		OrgID:     next.OrgID,
		VendorID:  next.VendorID,
		Metric:    next.Metric,
		Type:      typ,
		New:       next.TextSummary,
		Severity:  severity,
		SourceIDs: next.Citations,
	}
	if prev != nil {
		e.Old = prev.TextSummary
	}
	return e
}

// sameValue compares two JSON values ignoring formatting and key order.
func sameValue(a, b json.RawMessage) bool {
	ca, errA := canonicalJSON(a)
	cb, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return bytes.Equal(ca, cb)
}

func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func isIncident(raw json.RawMessage) bool {
	var v struct {
		Incident bool `json:"incident"`
	}
	return json.Unmarshal(raw, &v) == nil && v.Incident
}
