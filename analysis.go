package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnalysisModel = "claude-sonnet-4-5-20250929"

// AnalysisStatus distinguishes "the collaborator ran and found nothing"
// from "the capability is not configured". Collapsing the two would
// mask configuration problems as analytical non-findings.
type AnalysisStatus int

const (
	AnalysisFound AnalysisStatus = iota
	AnalysisNoneFound
	AnalysisUnavailable
)

type AIPatternFinding struct {
	SuccessfulWords []string `json:"successful_words"`
	FailureWords    []string `json:"failure_words"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
}

type AnalysisOutcome struct {
	Status   AnalysisStatus
	Findings []AIPatternFinding
	Usage    AnalysisUsage
}

type AnalysisUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u *AnalysisUsage) Add(other AnalysisUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

type AnalysisRequest struct {
	CompanyID           int64
	SuccessfulSamples   []string
	UnsuccessfulSamples []string
	SuccessfulCount     int
	UnsuccessfulCount   int
}

// AnalysisClient is the delegated text-analysis collaborator contract.
type AnalysisClient interface {
	AnalyzeResponsePatterns(ctx context.Context, req AnalysisRequest) (AnalysisOutcome, error)
}

// anthropicAnalysisClient calls the Anthropic API. An empty API key
// reports AnalysisUnavailable rather than erroring, so a company
// without a configured key degrades to "zero patterns found".
type anthropicAnalysisClient struct {
	apiKey string
	model  string
}

func NewAnthropicAnalysisClient(apiKey, model string) AnalysisClient {
	if model == "" {
		model = defaultAnalysisModel
	}
	return &anthropicAnalysisClient{apiKey: apiKey, model: model}
}

func (c *anthropicAnalysisClient) AnalyzeResponsePatterns(ctx context.Context, req AnalysisRequest) (AnalysisOutcome, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return AnalysisOutcome{Status: AnalysisUnavailable}, nil
	}

	systemPrompt, userPrompt := buildAnalysisPrompts(req)

	client := anthropic.NewClient(option.WithAPIKey(c.apiKey))
	log.Printf("analysis anthropic model=%s company=%d successful=%d unsuccessful=%d",
		c.model, req.CompanyID, req.SuccessfulCount, req.UnsuccessfulCount)

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := AnalysisUsage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("analysis anthropic response size=%d tokens_in=%d tokens_out=%d",
				len(block.Text), usage.InputTokens, usage.OutputTokens)
			outcome := parseAnalysisResponse(block.Text)
			outcome.Usage = usage
			return outcome, nil
		}
	}
	return AnalysisOutcome{Usage: usage}, fmt.Errorf("no text content in Anthropic response")
}

func buildAnalysisPrompts(req AnalysisRequest) (string, string) {
	systemPrompt := `You analyze sales conversation responses to find which wording correlates with purchases.
Compare the successful and unsuccessful response samples and identify word-level patterns.

Respond with JSON only (no markdown):
[{"successful_words": ["word1", "word2"], "failure_words": ["word3"], "confidence": 0.8, "reasoning": "..."}, ...]

Return an empty array [] if no reliable pattern exists. Max 5 entries. Confidence between 0 and 1.`

	var b strings.Builder
	fmt.Fprintf(&b, "Successful responses (%d total, sampled):\n", req.SuccessfulCount)
	for _, s := range req.SuccessfulSamples {
		b.WriteString("- " + strings.TrimSpace(s) + "\n")
	}
	fmt.Fprintf(&b, "\nUnsuccessful responses (%d total, sampled):\n", req.UnsuccessfulCount)
	for _, s := range req.UnsuccessfulSamples {
		b.WriteString("- " + strings.TrimSpace(s) + "\n")
	}
	return systemPrompt, b.String()
}

// parseAnalysisResponse parses the expected JSON array; when the model
// responds with prose instead, it falls back to lenient line-pattern
// extraction before giving up with NoneFound.
func parseAnalysisResponse(responseText string) AnalysisOutcome {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var findings []AIPatternFinding
	if err := json.Unmarshal([]byte(responseText), &findings); err == nil {
		findings = sanitizeFindings(findings)
		if len(findings) == 0 {
			return AnalysisOutcome{Status: AnalysisNoneFound}
		}
		return AnalysisOutcome{Status: AnalysisFound, Findings: findings}
	}

	// Single-object shape: {"successful_words": [...], ...}
	var single AIPatternFinding
	if err := json.Unmarshal([]byte(responseText), &single); err == nil {
		findings = sanitizeFindings([]AIPatternFinding{single})
		if len(findings) > 0 {
			return AnalysisOutcome{Status: AnalysisFound, Findings: findings}
		}
	}

	if f, ok := extractFindingFromText(responseText); ok {
		log.Printf("analysis fallback text extraction used words=%d", len(f.SuccessfulWords))
		return AnalysisOutcome{Status: AnalysisFound, Findings: []AIPatternFinding{f}}
	}
	log.Printf("analysis response unparsable size=%d", len(responseText))
	return AnalysisOutcome{Status: AnalysisNoneFound}
}

func sanitizeFindings(findings []AIPatternFinding) []AIPatternFinding {
	var out []AIPatternFinding
	for _, f := range findings {
		f.SuccessfulWords = cleanWordList(f.SuccessfulWords)
		f.FailureWords = cleanWordList(f.FailureWords)
		f.Confidence = clamp01(f.Confidence)
		if len(f.SuccessfulWords) == 0 && len(f.FailureWords) == 0 {
			continue
		}
		out = append(out, f)
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func cleanWordList(words []string) []string {
	var out []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// extractFindingFromText scans prose for lines like
// "successful: fast, free, guarantee" and builds a low-confidence finding.
func extractFindingFromText(text string) (AIPatternFinding, bool) {
	var f AIPatternFinding
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "-* ")))
		idx := strings.Index(lower, ":")
		if idx < 0 {
			continue
		}
		label := strings.TrimSpace(lower[:idx])
		rest := lower[idx+1:]
		var target *[]string
		switch {
		case strings.Contains(label, "successful") || strings.Contains(label, "success words"):
			target = &f.SuccessfulWords
		case strings.Contains(label, "failure") || strings.Contains(label, "unsuccessful"):
			target = &f.FailureWords
		default:
			continue
		}
		for _, w := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ';' }) {
			w = strings.Trim(strings.TrimSpace(w), `"'.`)
			if w != "" && !strings.Contains(w, " ") {
				*target = append(*target, w)
			}
		}
	}
	if len(f.SuccessfulWords) == 0 {
		return AIPatternFinding{}, false
	}
	f.Confidence = 0.5
	f.Reasoning = "extracted from unstructured analysis response"
	return f, true
}
