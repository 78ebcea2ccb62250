package model

import "time"

// AcceptThreshold is the minimum official-site score for a website to be
// stored on a vendor.
const AcceptThreshold = 70

// Vendor is a company tracked by an organization, either the org itself
// ("you") or a competitor.
type Vendor struct {
	ID                     string    `json:"id"`
	OrgID                  string    `json:"orgId"`
	Name                   string    `json:"name"`
	Website                *string   `json:"website"`
	OfficialSiteConfidence int       `json:"officialSiteConfidence"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// HasWebsite reports whether the vendor has a resolved official site.
func (v *Vendor) HasWebsite() bool {
	return v != nil && v.Website != nil && *v.Website != ""
}

// WebsiteURL returns the website or "" when unresolved.
func (v *Vendor) WebsiteURL() string {
	if !v.HasWebsite() {
		return ""
	}
	return *v.Website
}
