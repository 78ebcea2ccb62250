// Package compare composes comparison cells from a vendor's facts.
package compare

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

// DefaultTopN is the number of facts summarized per cell.
const DefaultTopN = 5

// Cell is one side of a comparison row.
type Cell struct {
	Text        string   `json:"text"`
	Citations   []string `json:"citations"`
	AnswerScore float64  `json:"answerScore"`
}

// Composer builds cells with a fixed selection size and score policy.
type Composer struct {
	topN   int
	policy ScorePolicy
}

// Option configures a Composer.
type Option func(*Composer)

// WithTopN sets how many facts are summarized per cell.
func WithTopN(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.topN = n
		}
	}
}

// WithPolicy sets the answer score policy.
func WithPolicy(p ScorePolicy) Option {
	return func(c *Composer) {
		if p != nil {
			c.policy = p
		}
	}
}

// NewComposer creates a Composer using WeightedTop over the top five facts.
func NewComposer(opts ...Option) *Composer {
	c := &Composer{topN: DefaultTopN, policy: WeightedTop}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose summarizes the facts for metric. Facts are ranked by confidence,
// ties broken by subject then key, so identical input gives identical
// output. No matching facts yields an empty cell with score 0.
func (c *Composer) Compose(facts []model.Fact, metric model.Lane) Cell {
	selected := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Metric == metric && strings.TrimSpace(f.TextSummary) != "" {
			selected = append(selected, f)
		}
	}
	if len(selected) == 0 {
		return Cell{Citations: []string{}}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		a, b := selected[i], selected[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Key < b.Key
	})
	if len(selected) > c.topN {
		selected = selected[:c.topN]
	}

	texts := make([]string, 0, len(selected))
	confidences := make([]float64, 0, len(selected))
	citations := []string{}
	seen := map[string]bool{}
	for _, f := range selected {
		texts = append(texts, strings.TrimSpace(f.TextSummary))
		confidences = append(confidences, model.ClampConfidence(f.Confidence))
		for _, cit := range f.Citations {
			if cit == "" || seen[cit] {
				continue
			}
			seen[cit] = true
			citations = append(citations, cit)
		}
	}

	return Cell{
		Text:        strings.Join(texts, "; "),
		Citations:   citations,
		AnswerScore: model.ClampConfidence(c.policy(confidences)),
	}
}

// Compose uses the default composer.
func Compose(facts []model.Fact, metric model.Lane) Cell {
	return NewComposer().Compose(facts, metric)
}

// Row builds the comparison row for metric from both vendors' facts.
func (c *Composer) Row(metric model.Lane, youFacts, compFacts []model.Fact) model.CompareRow {
	you := c.Compose(youFacts, metric)
	comp := c.Compose(compFacts, metric)
	return model.CompareRow{
		Metric:          metric,
		YouText:         you.Text,
		CompText:        comp.Text,
		YouCitations:    you.Citations,
		CompCitations:   comp.Citations,
		AnswerScoreYou:  you.AnswerScore,
		AnswerScoreComp: comp.AnswerScore,
	}
}

// ScorePolicy turns the confidences of the facts used in a cell, highest
// first, into an answer score.
type ScorePolicy func(confidences []float64) float64

// WeightedTop weights each confidence by 1/rank, so the best-supported
// fact dominates while corroborating facts still count.
func WeightedTop(confidences []float64) float64 {
	var sum, weights float64
	for i, c := range confidences {
		w := 1 / float64(i+1)
		sum += c * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// MaxConfidence scores a cell by its best fact.
func MaxConfidence(confidences []float64) float64 {
	best := 0.0
	for _, c := range confidences {
		if c > best {
			best = c
		}
	}
	return best
}

// MeanConfidence scores a cell by the plain average.
func MeanConfidence(confidences []float64) float64 {
	if len(confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range confidences {
		sum += c
	}
	return sum / float64(len(confidences))
}

// PolicyByName returns a named policy: weighted_top, max or mean.
func PolicyByName(name string) (ScorePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "weighted_top":
		return WeightedTop, nil
	case "max":
		return MaxConfidence, nil
	case "mean":
		return MeanConfidence, nil
	default:
		return nil, eris.Errorf("compare: unknown score policy %q", name)
	}
}
