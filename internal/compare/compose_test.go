package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
)

func fact(metric model.Lane, key, summary string, confidence float64, citations ...string) model.Fact {
	return model.Fact{
		Metric:      metric,
		Subject:     "plan",
		Key:         key,
		TextSummary: summary,
		Confidence:  confidence,
		Citations:   citations,
	}
}

func TestCompose_RanksAndJoins(t *testing.T) {
	facts := []model.Fact{
		fact(model.LanePricing, "starter", "Starter: Free", 0.8, "s1"),
		fact(model.LanePricing, "pro", "Pro: $49/month", 0.85, "s1"),
		fact(model.LaneTrust, "soc-2", "SOC 2", 0.9, "s2"),
		fact(model.LanePricing, "enterprise", "Enterprise: Custom pricing", 0.7, "s3"),
	}

	cell := Compose(facts, model.LanePricing)
	assert.Equal(t, "Pro: $49/month; Starter: Free; Enterprise: Custom pricing", cell.Text)
	assert.Equal(t, []string{"s1", "s3"}, cell.Citations)

	want := (0.85*1 + 0.8*0.5 + 0.7/3) / (1 + 0.5 + 1.0/3)
	assert.InDelta(t, want, cell.AnswerScore, 1e-9)
}

func TestCompose_NoFacts(t *testing.T) {
	cell := Compose([]model.Fact{fact(model.LaneTrust, "x", "SOC 2", 0.9)}, model.LanePricing)
	assert.Equal(t, "", cell.Text)
	assert.Equal(t, []string{}, cell.Citations)
	assert.Equal(t, 0.0, cell.AnswerScore)

	assert.Equal(t, 0.0, Compose(nil, model.LaneChangelog).AnswerScore)
}

func TestCompose_TopN(t *testing.T) {
	var facts []model.Fact
	for i, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		facts = append(facts, fact(model.LaneFeatures, k, k, 0.9-float64(i)*0.05))
	}
	cell := Compose(facts, model.LaneFeatures)
	assert.Equal(t, "a; b; c; d; e", cell.Text)

	cell = NewComposer(WithTopN(2)).Compose(facts, model.LaneFeatures)
	assert.Equal(t, "a; b", cell.Text)
}

func TestCompose_Deterministic(t *testing.T) {
	a := fact(model.LaneFeatures, "sso", "SSO", 0.8, "s1")
	b := fact(model.LaneFeatures, "api", "API", 0.8, "s2")
	c := fact(model.LaneFeatures, "audit", "Audit logs", 0.8, "s3")

	first := Compose([]model.Fact{a, b, c}, model.LaneFeatures)
	second := Compose([]model.Fact{c, a, b}, model.LaneFeatures)
	assert.Equal(t, first, second)
	assert.Equal(t, "API; Audit logs; SSO", first.Text)
}

func TestCompose_ScoreClamped(t *testing.T) {
	cell := NewComposer(WithPolicy(MaxConfidence)).Compose([]model.Fact{
		fact(model.LanePricing, "pro", "Pro", 1.6),
	}, model.LanePricing)
	assert.Equal(t, 1.0, cell.AnswerScore)
}

func TestPolicies(t *testing.T) {
	conf := []float64{0.9, 0.6, 0.3}
	assert.InDelta(t, 0.9, MaxConfidence(conf), 1e-9)
	assert.InDelta(t, 0.6, MeanConfidence(conf), 1e-9)
	assert.InDelta(t, (0.9+0.3+0.1)/(1+0.5+1.0/3), WeightedTop(conf), 1e-9)

	assert.Equal(t, 0.0, WeightedTop(nil))
	assert.Equal(t, 0.0, MeanConfidence(nil))
	assert.Equal(t, 0.0, MaxConfidence(nil))
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", "weighted_top", "MAX", "mean"} {
		p, err := PolicyByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}
	_, err := PolicyByName("median")
	assert.Error(t, err)
}

func TestRow(t *testing.T) {
	you := []model.Fact{fact(model.LaneTrust, "soc-2", "SOC 2 Type II", 0.85, "s1")}
	row := NewComposer().Row(model.LaneTrust, you, nil)

	assert.Equal(t, model.LaneTrust, row.Metric)
	assert.Equal(t, "SOC 2 Type II", row.YouText)
	assert.Equal(t, "", row.CompText)
	assert.Equal(t, []string{"s1"}, row.YouCitations)
	assert.Equal(t, []string{}, row.CompCitations)
	assert.InDelta(t, 0.85, row.AnswerScoreYou, 1e-9)
	assert.Equal(t, 0.0, row.AnswerScoreComp)
}
