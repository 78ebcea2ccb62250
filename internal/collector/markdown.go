package collector

import (
	"regexp"
	"strings"
)

// section is a heading and the lines up to the next heading.
type section struct {
	heading string
	level   int
	lines   []string
}

var (
	mdHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	mdBulletRe  = regexp.MustCompile(`^(?:[-*+•]|\d{1,2}[.)])\s+(.+)$`)
	mdLinkRe    = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	mdEmphRe    = regexp.MustCompile("[*_`]{1,3}")
	slugRe      = regexp.MustCompile(`[^a-z0-9]+`)
)

// splitSections splits markdown into heading-delimited sections. Text before
// the first heading becomes a level-0 section with an empty heading.
func splitSections(md string) []section {
	var out []section
	cur := section{}
	for _, raw := range strings.Split(md, "\n") {
		line := strings.TrimSpace(raw)
		if m := mdHeadingRe.FindStringSubmatch(line); m != nil {
			if cur.heading != "" || len(cur.lines) > 0 {
				out = append(out, cur)
			}
			cur = section{heading: cleanText(m[2]), level: len(m[1])}
			continue
		}
		if line != "" {
			cur.lines = append(cur.lines, line)
		}
	}
	if cur.heading != "" || len(cur.lines) > 0 {
		out = append(out, cur)
	}
	return out
}

// bullet returns the list item text of line, if it is one.
func bullet(line string) (string, bool) {
	m := mdBulletRe.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return cleanText(m[1]), true
}

// cleanText strips link and emphasis markup and collapses whitespace.
func cleanText(s string) string {
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = mdEmphRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// slug turns free text into a stable fact key.
func slug(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	return s
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
