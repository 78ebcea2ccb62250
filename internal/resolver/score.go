package resolver

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SiteScorer scores how likely a search result is a vendor's official site.
type SiteScorer interface {
	Score(vendorName string, result SearchResult) int
}

// ScorerFunc adapts a function to the SiteScorer interface.
type ScorerFunc func(vendorName string, result SearchResult) int

// Score calls f.
func (f ScorerFunc) Score(vendorName string, result SearchResult) int {
	return f(vendorName, result)
}

// Score weights used by HeuristicScorer.
const (
	nameMatchBonus = 80
	tldBonus       = 10
	denyPenalty    = 40
)

var defaultTLDs = []string{".io", ".com", ".ai", ".co", ".app"}

// defaultDenyHosts are review sites, social networks, video platforms and
// directories that rank well for company names but are never homepages.
var defaultDenyHosts = []string{
	"g2.com",
	"capterra.com",
	"trustradius.com",
	"getapp.com",
	"softwareadvice.com",
	"gartner.com",
	"crunchbase.com",
	"glassdoor.com",
	"indeed.com",
	"wikipedia.org",
	"linkedin.com",
	"facebook.com",
	"twitter.com",
	"x.com",
	"instagram.com",
	"reddit.com",
	"medium.com",
	"youtube.com",
	"vimeo.com",
	"tiktok.com",
	"github.com",
	"producthunt.com",
}

// HeuristicScorer is the rule-based default scorer:
//
//	+80 host contains the normalized vendor name
//	+10 host TLD is in the allow-list
//	-40 host is on the deny-list
type HeuristicScorer struct {
	TLDs      []string
	DenyHosts []string
}

// NewHeuristicScorer returns a scorer with the default TLD and deny lists.
func NewHeuristicScorer() *HeuristicScorer {
	return &HeuristicScorer{TLDs: defaultTLDs, DenyHosts: defaultDenyHosts}
}

// Score implements SiteScorer.
func (h *HeuristicScorer) Score(vendorName string, result SearchResult) int {
	host := hostOf(result.URL)
	if host == "" {
		return 0
	}

	score := 0
	if hostHasName(host, vendorName) {
		score += nameMatchBonus
	}
	for _, tld := range h.TLDs {
		if strings.HasSuffix(host, tld) {
			score += tldBonus
			break
		}
	}
	if matchesHost(host, h.DenyHosts) {
		score -= denyPenalty
	}
	return score
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases a vendor name, folds diacritics and removes
// whitespace ("Zoë Labs" -> "zoelabs", "Monday.com" -> "monday.com").
func NormalizeName(name string) string {
	folded, _, err := transform.String(foldDiacritics, name)
	if err != nil {
		folded = name
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToLower(folded))
}

// hostHasName reports whether host contains the normalized vendor name. A
// second pass compares letters and digits only, so "Acme, Inc." still
// matches acmeinc.com.
func hostHasName(host, vendorName string) bool {
	key := NormalizeName(vendorName)
	if key == "" {
		return false
	}
	if strings.Contains(host, key) {
		return true
	}
	compact := alnum(key)
	return compact != "" && strings.Contains(alnum(host), compact)
}

func alnum(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}

// parseWebURL parses an http(s) URL, assuming https when the scheme is
// missing. Other schemes and URLs carrying credentials yield nil.
func parseWebURL(rawURL string) *url.URL {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil
	}
	if !strings.Contains(raw, "://") {
		if strings.Contains(strings.SplitN(raw, "/", 2)[0], ":") {
			return nil
		}
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || u.User != nil {
		return nil
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return nil
	}
	return u
}

// hostOf returns the lowercased hostname with a leading "www." stripped.
func hostOf(rawURL string) string {
	u := parseWebURL(rawURL)
	if u == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// originOf returns scheme://host for a URL.
func originOf(rawURL string) string {
	u := parseWebURL(rawURL)
	if u == nil {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

func matchesHost(host string, list []string) bool {
	for _, d := range list {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
