package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// SourceLookup finds the newest source for a vendor lane fetched at or
// after since.
type SourceLookup interface {
	LatestSource(ctx context.Context, vendorID string, lane model.Lane, since time.Time) (*model.Source, error)
}

// Freshness decides whether a lane is due for re-collection.
type Freshness struct {
	sources SourceLookup
	ttls    map[model.Lane]time.Duration
	now     func() time.Time
}

// NewFreshness creates a gate. Lanes missing from ttls use the defaults.
func NewFreshness(sources SourceLookup, ttls map[model.Lane]time.Duration) *Freshness {
	return &Freshness{sources: sources, ttls: ttls, now: time.Now}
}

// TTL returns the re-collection interval for a lane.
func (f *Freshness) TTL(lane model.Lane) time.Duration {
	if d, ok := f.ttls[lane]; ok && d > 0 {
		return d
	}
	return model.DefaultTTL(lane)
}

// IsDue reports whether no source for (vendorID, lane) was fetched within
// the lane TTL. When not due, reason explains why and contains "TTL".
func (f *Freshness) IsDue(ctx context.Context, vendorID string, lane model.Lane) (bool, string, error) {
	ttl := f.TTL(lane)
	now := f.now()

	latest, err := f.sources.LatestSource(ctx, vendorID, lane, now.Add(-ttl))
	if err != nil {
		return false, "", eris.Wrapf(err, "freshness: latest source for %s", lane)
	}
	if latest == nil {
		return true, "", nil
	}

	age := now.Sub(latest.FetchedAt).Truncate(time.Minute)
	return false, fmt.Sprintf("TTL: %s fetched %s ago, ttl %s", lane, age, ttl), nil
}
