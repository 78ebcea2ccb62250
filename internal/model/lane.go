package model

import (
	"strings"
	"time"
)

// Lane is a topical category of facts collected about a vendor.
type Lane string

const (
	LanePricing      Lane = "pricing"
	LaneFeatures     Lane = "features"
	LaneIntegrations Lane = "integrations"
	LaneTrust        Lane = "trust"
	LaneChangelog    Lane = "changelog"
	LaneOverview     Lane = "overview"
)

// AllLanes returns every lane in the order comparison rows are rendered.
func AllLanes() []Lane {
	return []Lane{
		LanePricing,
		LaneFeatures,
		LaneIntegrations,
		LaneTrust,
		LaneChangelog,
		LaneOverview,
	}
}

// ParseLane maps a free-form lane name to a known Lane.
func ParseLane(s string) (Lane, bool) {
	l := Lane(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// Valid reports whether l is one of the known lanes.
func (l Lane) Valid() bool {
	for _, known := range AllLanes() {
		if l == known {
			return true
		}
	}
	return false
}

// defaultTTLDays tracks how quickly each lane's content changes in practice.
var defaultTTLDays = map[Lane]int{
	LanePricing:      7,
	LaneFeatures:     14,
	LaneIntegrations: 14,
	LaneTrust:        7,
	LaneChangelog:    3,
	LaneOverview:     14,
}

// DefaultTTL returns the re-collection interval for a lane.
// Unknown lanes fall back to 7 days.
func DefaultTTL(l Lane) time.Duration {
	days, ok := defaultTTLDays[l]
	if !ok {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
