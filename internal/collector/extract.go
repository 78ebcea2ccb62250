package collector

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// ErrInsufficientData marks an extraction below the lane minimum.
var ErrInsufficientData = eris.New("insufficient data")

// Item is one fact candidate produced by an extractor.
type Item struct {
	Subject string         `json:"subject"`
	Key     string         `json:"key"`
	Value   map[string]any `json:"value"`
	Summary string         `json:"summary"`
	// Confidence of zero means unscored.
	Confidence float64 `json:"confidence"`
}

// Extractor turns a fetched page into fact candidates for a lane.
type Extractor interface {
	Extract(ctx context.Context, lane model.Lane, page *model.Page) ([]Item, error)
}

// HeuristicExtractor is the deterministic rule-based extractor.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a HeuristicExtractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract implements Extractor.
func (h *HeuristicExtractor) Extract(_ context.Context, lane model.Lane, page *model.Page) ([]Item, error) {
	if page == nil {
		return nil, eris.New("extract: nil page")
	}
	switch lane {
	case model.LanePricing:
		return extractPricing(page.Markdown), nil
	case model.LaneFeatures:
		return extractFeatures(page.Markdown), nil
	case model.LaneIntegrations:
		return extractIntegrations(page.Markdown), nil
	case model.LaneTrust:
		return extractTrust(page.Markdown), nil
	case model.LaneChangelog:
		return extractChangelog(page.Markdown), nil
	case model.LaneOverview:
		return extractOverview(page), nil
	default:
		return nil, eris.Errorf("extract: unknown lane %q", lane)
	}
}

// --- pricing ---

const maxPlans = 8

var (
	priceRe       = regexp.MustCompile(`(?i)(?:US)?([$€£])\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`)
	periodYearRe  = regexp.MustCompile(`(?i)\b(year|yr|annual|annually|annum)\b`)
	periodMonthRe = regexp.MustCompile(`(?i)(\bmonth\b|\bmo\b|/mo\b|monthly)`)
	perUserRe     = regexp.MustCompile(`(?i)\b(user|seat|member|agent)\b`)
	freeRe        = regexp.MustCompile(`(?i)\bfree\b`)
	customRe      = regexp.MustCompile(`(?i)\b(contact sales|custom pricing|contact us|talk to sales|get a quote)\b`)
	notPlanRe     = regexp.MustCompile(`(?i)\b(pricing|plans|faq|questions|compare|comparison|features|testimonials|customers)\b`)
	linePriceRe   = regexp.MustCompile(`^([A-Za-z][\w +&]{1,30}?)\s*[:|]\s*(.*[$€£]\s?\d.*)$`)
)

func extractPricing(md string) []Item {
	var items []Item
	seen := map[string]bool{}
	add := func(name, text string) {
		name = strings.TrimSpace(name)
		key := slug(name)
		if key == "" || seen[key] || len(items) >= maxPlans {
			return
		}
		if it, ok := planItem(name, key, text); ok {
			seen[key] = true
			items = append(items, it)
		}
	}

	for _, s := range splitSections(md) {
		if s.level < 2 || s.heading == "" || len(s.heading) > 40 || notPlanRe.MatchString(s.heading) {
			continue
		}
		add(s.heading, s.heading+"\n"+strings.Join(firstN(s.lines, 6), "\n"))
	}

	if len(items) == 0 {
		for _, line := range strings.Split(md, "\n") {
			text := strings.TrimSpace(line)
			if b, ok := bullet(text); ok {
				text = b
			}
			if m := linePriceRe.FindStringSubmatch(cleanText(text)); m != nil {
				add(m[1], m[2])
			}
		}
	}
	return items
}

func planItem(name, key, text string) (Item, bool) {
	value := map[string]any{"plan": name}
	var summary string
	confidence := 0.85

	if m := priceRe.FindStringSubmatchIndex(text); m != nil {
		price := text[m[2]:m[3]] + text[m[4]:m[5]]
		tail := text[m[1]:min(len(text), m[1]+40)]
		value["price"] = price
		summary = name + ": " + price
		if perUserRe.MatchString(tail) {
			value["unit"] = "user"
			summary += "/user"
		}
		switch {
		case periodYearRe.MatchString(tail):
			value["period"] = "year"
			summary += "/year"
		case periodMonthRe.MatchString(tail):
			value["period"] = "month"
			summary += "/month"
		}
	} else if freeRe.MatchString(text) {
		value["price"] = "Free"
		summary = name + ": Free"
		confidence = 0.8
	} else if customRe.MatchString(text) {
		value["price"] = "Custom"
		summary = name + ": Custom pricing"
		confidence = 0.7
	} else {
		return Item{}, false
	}

	return Item{Subject: "plan", Key: key, Value: value, Summary: summary, Confidence: confidence}, true
}

// --- features ---

const maxFeatures = 25

var navNoise = []string{
	"sign up", "sign in", "log in", "login", "get started", "book a demo", "request a demo",
	"contact", "learn more", "pricing", "start free", "try for free", "read more", "see all",
}

func extractFeatures(md string) []Item {
	var items []Item
	seen := map[string]bool{}
	add := func(text, source string, confidence float64) {
		if len(items) >= maxFeatures || len(text) < 4 || len(text) > 120 || isNavNoise(text) {
			return
		}
		key := slug(text)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		items = append(items, Item{
			Subject:    "feature",
			Key:        key,
			Value:      map[string]any{"name": text, "source": source},
			Summary:    text,
			Confidence: confidence,
		})
	}

	for _, s := range splitSections(md) {
		if s.level >= 2 {
			add(s.heading, "heading", 0.75)
		}
		for _, line := range s.lines {
			if b, ok := bullet(line); ok {
				add(b, "list", 0.7)
			}
		}
	}
	return items
}

func isNavNoise(text string) bool {
	lower := strings.ToLower(text)
	for _, n := range navNoise {
		if lower == n || strings.HasPrefix(lower, n+" ") {
			return true
		}
	}
	return false
}

// --- integrations ---

type knownIntegration struct {
	name     string
	category string
	pattern  *regexp.Regexp
}

func integration(name, category string, aliases ...string) knownIntegration {
	alts := make([]string, 0, len(aliases)+1)
	for _, a := range append([]string{name}, aliases...) {
		alts = append(alts, regexp.QuoteMeta(a))
	}
	return knownIntegration{
		name:     name,
		category: category,
		pattern:  regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`),
	}
}

// Names match case-sensitively so common words ("slack", "zoom") in prose
// are not taken for products.
var knownIntegrations = []knownIntegration{
	integration("Slack", "communication"),
	integration("Microsoft Teams", "communication", "MS Teams"),
	integration("Zoom", "communication"),
	integration("Salesforce", "crm"),
	integration("HubSpot", "crm", "Hubspot"),
	integration("Pipedrive", "crm"),
	integration("Zendesk", "support"),
	integration("Intercom", "support"),
	integration("Freshdesk", "support"),
	integration("Jira", "project management", "JIRA"),
	integration("Asana", "project management"),
	integration("Trello", "project management"),
	integration("Monday.com", "project management"),
	integration("Confluence", "knowledge"),
	integration("Notion", "knowledge"),
	integration("GitHub", "developer", "Github"),
	integration("GitLab", "developer", "Gitlab"),
	integration("Bitbucket", "developer"),
	integration("Google Workspace", "productivity", "G Suite"),
	integration("Google Drive", "storage"),
	integration("Dropbox", "storage"),
	integration("OneDrive", "storage"),
	integration("Stripe", "payments"),
	integration("Shopify", "commerce"),
	integration("Okta", "identity"),
	integration("Azure AD", "identity", "Entra ID"),
	integration("Snowflake", "data"),
	integration("BigQuery", "data"),
	integration("Segment", "data"),
	integration("Mailchimp", "marketing"),
	integration("Marketo", "marketing"),
	integration("Twilio", "communication"),
	integration("Zapier", "automation"),
	integration("Make", "automation"),
	integration("Datadog", "observability"),
	integration("PagerDuty", "observability"),
	integration("Figma", "design"),
	integration("AWS", "cloud", "Amazon Web Services"),
	integration("Workday", "hr"),
	integration("ServiceNow", "itsm"),
}

// ambiguousIntegrations only count when listed as an item, not in prose.
var ambiguousIntegrations = map[string]bool{"Make": true, "Segment": true, "Zoom": true, "Notion": true}

func extractIntegrations(md string) []Item {
	type hit struct {
		ki  knownIntegration
		pos int
	}

	listed := map[string]bool{}
	for _, s := range splitSections(md) {
		if s.level >= 2 {
			listed[s.heading] = true
		}
		for _, line := range s.lines {
			if b, ok := bullet(line); ok {
				listed[b] = true
			}
		}
	}

	var hits []hit
	for _, ki := range knownIntegrations {
		if ambiguousIntegrations[ki.name] {
			if listed[ki.name] {
				hits = append(hits, hit{ki: ki, pos: strings.Index(md, ki.name)})
			}
			continue
		}
		if loc := ki.pattern.FindStringIndex(md); loc != nil {
			hits = append(hits, hit{ki: ki, pos: loc[0]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, Item{
			Subject:    "integration",
			Key:        slug(h.ki.name),
			Value:      map[string]any{"name": h.ki.name, "category": h.ki.category},
			Summary:    h.ki.name,
			Confidence: 0.9,
		})
	}
	return items
}

// --- trust ---

type trustSignal struct {
	name    string
	subject string
	pattern *regexp.Regexp
}

var trustSignals = []trustSignal{
	{"SOC 2", "certification", regexp.MustCompile(`(?i)\bSOC\s?(?:2|II)\b`)},
	{"ISO 27001", "certification", regexp.MustCompile(`(?i)\bISO(?:/IEC)?\s?27001\b`)},
	{"ISO 27701", "certification", regexp.MustCompile(`(?i)\bISO(?:/IEC)?\s?27701\b`)},
	{"GDPR", "certification", regexp.MustCompile(`\bGDPR\b`)},
	{"CCPA", "certification", regexp.MustCompile(`\bCCPA\b`)},
	{"HIPAA", "certification", regexp.MustCompile(`(?i)\bHIPAA\b`)},
	{"PCI DSS", "certification", regexp.MustCompile(`(?i)\bPCI[\s-]?DSS\b`)},
	{"FedRAMP", "certification", regexp.MustCompile(`(?i)\bFedRAMP\b`)},
	{"SAML SSO", "control", regexp.MustCompile(`(?i)\bSAML\b|\bsingle sign-on\b|\bSSO\b`)},
	{"SCIM provisioning", "control", regexp.MustCompile(`\bSCIM\b`)},
	{"Multi-factor authentication", "control", regexp.MustCompile(`(?i)\b(?:MFA|2FA|multi-factor|two-factor)\b`)},
	{"Encryption at rest", "control", regexp.MustCompile(`(?i)encrypt\w*[^.\n]{0,40}\bat rest\b|\bAES-256\b`)},
	{"Bug bounty", "control", regexp.MustCompile(`(?i)\bbug bounty\b`)},
}

var socTypeIIRe = regexp.MustCompile(`(?i)\bSOC\s?(?:2|II)\s*(?:,\s*)?Type\s?(?:II|2)\b`)

func extractTrust(md string) []Item {
	var items []Item
	for _, sig := range trustSignals {
		if !sig.pattern.MatchString(md) {
			continue
		}
		value := map[string]any{"name": sig.name}
		summary := sig.name
		if sig.name == "SOC 2" && socTypeIIRe.MatchString(md) {
			value["type"] = "Type II"
			summary = "SOC 2 Type II"
		}
		confidence := 0.85
		if sig.subject == "control" {
			confidence = 0.75
		}
		items = append(items, Item{
			Subject:    sig.subject,
			Key:        slug(sig.name),
			Value:      value,
			Summary:    summary,
			Confidence: confidence,
		})
	}
	return items
}

// --- changelog ---

const maxReleases = 10

var (
	dateRe = regexp.MustCompile(`(?i)\b(?:` +
		`(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}` +
		`|\d{4}-\d{2}-\d{2}` +
		`)\b`)
	ordinalRe  = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	septRe     = regexp.MustCompile(`(?i)\bsept\b`)
	incidentRe = regexp.MustCompile(`(?i)\b(incident|outage|degraded|downtime|security (?:fix|patch|vulnerability)|CVE-\d{4}-\d+)\b`)
)

type release struct {
	date   time.Time
	titles []string
}

func extractChangelog(md string) []Item {
	byDate := map[string]*release{}
	note := func(d time.Time, title string) {
		k := d.Format("2006-01-02")
		r, ok := byDate[k]
		if !ok {
			r = &release{date: d}
			byDate[k] = r
		}
		if title != "" && len(r.titles) < 3 {
			r.titles = append(r.titles, truncateText(title, 140))
		}
	}

	for _, s := range splitSections(md) {
		if d, rest, ok := findDate(s.heading); ok {
			title := rest
			if title == "" {
				title = firstText(s.lines)
			}
			note(d, title)
			continue
		}
		for _, line := range s.lines {
			text := line
			if b, ok := bullet(line); ok {
				text = b
			}
			text = cleanText(text)
			// Only lines that lead with a date are entries; dates in prose are not.
			if loc := dateRe.FindStringIndex(text); loc == nil || loc[0] > 2 {
				continue
			}
			if d, rest, ok := findDate(text); ok {
				note(d, rest)
			}
		}
	}

	releases := make([]*release, 0, len(byDate))
	for _, r := range byDate {
		releases = append(releases, r)
	}
	sort.Slice(releases, func(i, j int) bool { return releases[i].date.After(releases[j].date) })
	if len(releases) > maxReleases {
		releases = releases[:maxReleases]
	}

	items := make([]Item, 0, len(releases))
	for _, r := range releases {
		day := r.date.Format("2006-01-02")
		title := strings.Join(r.titles, "; ")
		summary := day
		if title != "" {
			summary += ": " + title
		}
		items = append(items, Item{
			Subject: "release",
			Key:     day,
			Value: map[string]any{
				"date":     day,
				"title":    title,
				"incident": incidentRe.MatchString(title),
			},
			Summary: summary,
		})
	}
	return items
}

// findDate locates the first date in s and returns it with the remaining
// text, trimmed of separators.
func findDate(s string) (time.Time, string, bool) {
	loc := dateRe.FindStringIndex(s)
	if loc == nil {
		return time.Time{}, "", false
	}
	raw := ordinalRe.ReplaceAllString(s[loc[0]:loc[1]], "$1")
	raw = strings.ReplaceAll(raw, ".", "")
	raw = septRe.ReplaceAllString(raw, "Sep")
	d, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, "", false
	}
	rest := strings.TrimSpace(s[:loc[0]] + " " + s[loc[1]:])
	rest = strings.Trim(rest, " -:|()[]")
	return d, strings.TrimSpace(rest), true
}

// --- overview ---

func extractOverview(page *model.Page) []Item {
	var headline, description string
	for _, s := range splitSections(page.Markdown) {
		if headline == "" && s.level >= 1 && s.level <= 2 && len(s.heading) >= 3 {
			headline = s.heading
		}
		if description == "" {
			for _, line := range s.lines {
				if _, ok := bullet(line); ok {
					continue
				}
				if text := cleanText(line); len(text) >= 40 {
					description = truncateText(text, 240)
					break
				}
			}
		}
		if headline != "" && description != "" {
			break
		}
	}

	title := cleanText(page.Title)
	if len(headline) < 10 && len(description) < 10 {
		return nil
	}

	summary := headline
	if summary == "" {
		summary = title
	}
	if description != "" {
		if summary != "" {
			summary += ": "
		}
		summary += truncateText(description, 160)
	}

	return []Item{{
		Subject: "positioning",
		Key:     "tagline",
		Value: map[string]any{
			"title":       title,
			"headline":    headline,
			"description": description,
		},
		Summary:    summary,
		Confidence: 0.7,
	}}
}

func firstN(lines []string, n int) []string {
	if len(lines) > n {
		return lines[:n]
	}
	return lines
}

func firstText(lines []string) string {
	for _, l := range lines {
		if t := cleanText(l); t != "" {
			if b, ok := bullet(l); ok {
				t = b
			}
			return truncateText(t, 140)
		}
	}
	return ""
}
