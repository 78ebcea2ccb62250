package model

import "time"

// UpdateEventType classifies a detected change in a vendor's facts.
type UpdateEventType string

const (
	EventPriceChange    UpdateEventType = "PRICE_CHANGE"
	EventNewIntegration UpdateEventType = "NEW_INTEGRATION"
	EventSecurityScope  UpdateEventType = "SECURITY_SCOPE"
	EventIncident       UpdateEventType = "INCIDENT"
	EventReleaseNote    UpdateEventType = "RELEASE_NOTE"
)

// UpdateEvent records a materially different fact value observed on
// re-collection. Events are append-only.
type UpdateEvent struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"orgId"`
	VendorID  string          `json:"vendorId"`
	Metric    Lane            `json:"metric"`
	Type      UpdateEventType `json:"type"`
	Old       string          `json:"old"`
	New       string          `json:"new"`
	Severity  int             `json:"severity"`
	SourceIDs []string        `json:"sourceIds"`
	CreatedAt time.Time       `json:"createdAt"`
}
