package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/internal/model"
	"github.com/bhaveshsathavalli/dealforge-mvp-sub001/pkg/anthropic"
)

// maxPromptChars bounds the page content sent to the model.
const maxPromptChars = 24000

const llmSystemPrompt = `You extract structured competitive-intelligence facts from a vendor web page.
Only report facts stated on the page. Respond with ONLY valid JSON, no other text.`

const llmUserPrompt = `Lane: %s
%s

Page URL: %s
Page title: %s
Page content:
%s

Return a JSON object:
{"items": [{"subject": "<%s>", "key": "<short stable identifier>", "summary": "<one line>", "value": {<structured fields>}, "confidence": <0.0-1.0>}]}
Return {"items": []} when the page has nothing relevant.`

var laneGuidance = map[model.Lane]struct{ task, subject string }{
	model.LanePricing:      {"List each pricing plan with its price, billing period and per-seat unit when stated.", "plan"},
	model.LaneFeatures:     {"List the distinct product capabilities the page describes.", "feature"},
	model.LaneIntegrations: {"List third-party products the vendor integrates with.", "integration"},
	model.LaneTrust:        {"List compliance certifications (SOC 2, ISO 27001, HIPAA...) and security controls (SSO, SCIM, encryption).", "certification|control"},
	model.LaneChangelog:    {"List dated release entries; key is the date as YYYY-MM-DD. Set value.incident true for outages or security fixes.", "release"},
	model.LaneOverview:     {"Describe the vendor's positioning: headline, category and target customer. Use key \"tagline\".", "positioning"},
}

// LLMExtractor extracts facts with an Anthropic model, falling back to
// another extractor when the call fails or returns nothing usable.
type LLMExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	fallback  Extractor
}

// NewLLMExtractor creates an LLMExtractor. fallback may be nil.
func NewLLMExtractor(client anthropic.Client, model string, maxTokens int64, fallback Extractor) *LLMExtractor {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &LLMExtractor{client: client, model: model, maxTokens: maxTokens, fallback: fallback}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, lane model.Lane, page *model.Page) ([]Item, error) {
	if page == nil {
		return nil, eris.New("extract: nil page")
	}
	guide, ok := laneGuidance[lane]
	if !ok {
		return nil, eris.Errorf("extract: unknown lane %q", lane)
	}

	content := page.Markdown
	if len(content) > maxPromptChars {
		content = content[:maxPromptChars]
	}

	temperature := 0.0
	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    llmSystemPrompt,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(llmUserPrompt, lane, guide.task, page.URL, page.Title, content, guide.subject),
		}},
		Temperature: &temperature,
	})
	if err != nil {
		return e.fallbackExtract(ctx, lane, page, err)
	}
	resp.Usage.LogCost(e.model, string(lane))

	items, err := parseLLMItems(resp.Text())
	if err != nil {
		return e.fallbackExtract(ctx, lane, page, err)
	}
	if len(items) == 0 {
		return e.fallbackExtract(ctx, lane, page, eris.New("extract: model returned no items"))
	}
	return items, nil
}

func (e *LLMExtractor) fallbackExtract(ctx context.Context, lane model.Lane, page *model.Page, cause error) ([]Item, error) {
	if e.fallback == nil {
		return nil, eris.Wrap(cause, "extract: llm")
	}
	zap.L().Warn("extract: llm extraction failed, using fallback",
		zap.String("lane", string(lane)),
		zap.String("url", page.URL),
		zap.Error(cause),
	)
	return e.fallback.Extract(ctx, lane, page)
}

type llmItems struct {
	Items []struct {
		Subject    string         `json:"subject"`
		Key        string         `json:"key"`
		Summary    string         `json:"summary"`
		Value      map[string]any `json:"value"`
		Confidence float64        `json:"confidence"`
	} `json:"items"`
}

// parseLLMItems decodes the model response, dropping items without a
// subject, key or summary.
func parseLLMItems(text string) ([]Item, error) {
	var parsed llmItems
	if err := json.Unmarshal([]byte(cleanJSON(text)), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: parse llm response")
	}

	out := make([]Item, 0, len(parsed.Items))
	seen := map[string]bool{}
	for _, it := range parsed.Items {
		subject := slug(it.Subject)
		key := slug(it.Key)
		summary := strings.TrimSpace(it.Summary)
		if subject == "" || key == "" || summary == "" || seen[subject+"/"+key] {
			continue
		}
		seen[subject+"/"+key] = true
		if it.Value == nil {
			it.Value = map[string]any{}
		}
		out = append(out, Item{
			Subject:    subject,
			Key:        key,
			Value:      it.Value,
			Summary:    truncateText(summary, 240),
			Confidence: model.ClampConfidence(it.Confidence),
		})
	}
	return out, nil
}

// cleanJSON strips code fences and any prose around the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
