package main

import (
	"context"
	"testing"
)

func TestParseAnalysisResponseJSONArray(t *testing.T) {
	outcome := parseAnalysisResponse(`[{"successful_words": ["Fast", "  free "], "failure_words": ["Slow"], "confidence": 1.4, "reasoning": "speed wording"}]`)
	if outcome.Status != AnalysisFound {
		t.Fatalf("expected AnalysisFound, got %v", outcome.Status)
	}
	if len(outcome.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(outcome.Findings))
	}
	f := outcome.Findings[0]
	if len(f.SuccessfulWords) != 2 || f.SuccessfulWords[0] != "fast" || f.SuccessfulWords[1] != "free" {
		t.Fatalf("expected lowercased trimmed words, got %v", f.SuccessfulWords)
	}
	if f.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %f", f.Confidence)
	}
}

func TestParseAnalysisResponseStripsFences(t *testing.T) {
	outcome := parseAnalysisResponse("```json\n[{\"successful_words\": [\"guarantee\"], \"confidence\": 0.8}]\n```")
	if outcome.Status != AnalysisFound {
		t.Fatalf("expected AnalysisFound from fenced JSON, got %v", outcome.Status)
	}
	if outcome.Findings[0].SuccessfulWords[0] != "guarantee" {
		t.Fatalf("unexpected finding: %+v", outcome.Findings[0])
	}
}

func TestParseAnalysisResponseSingleObject(t *testing.T) {
	outcome := parseAnalysisResponse(`{"successful_words": ["refund"], "confidence": 0.7}`)
	if outcome.Status != AnalysisFound {
		t.Fatalf("expected AnalysisFound from single object, got %v", outcome.Status)
	}
}

func TestParseAnalysisResponseProseFallback(t *testing.T) {
	outcome := parseAnalysisResponse("Looking at the samples:\n- Successful: fast, free, guarantee\n- Failure: maybe, unsure\nThat's my read.")
	if outcome.Status != AnalysisFound {
		t.Fatalf("expected AnalysisFound from prose fallback, got %v", outcome.Status)
	}
	f := outcome.Findings[0]
	if len(f.SuccessfulWords) != 3 || len(f.FailureWords) != 2 {
		t.Fatalf("unexpected extraction: %+v", f)
	}
	if f.Confidence != 0.5 {
		t.Fatalf("fallback findings must carry low confidence, got %f", f.Confidence)
	}
}

func TestParseAnalysisResponseEmptyAndGarbage(t *testing.T) {
	if outcome := parseAnalysisResponse("[]"); outcome.Status != AnalysisNoneFound {
		t.Fatalf("empty array must be NoneFound, got %v", outcome.Status)
	}
	if outcome := parseAnalysisResponse("no structure whatsoever here"); outcome.Status != AnalysisNoneFound {
		t.Fatalf("unparsable prose must be NoneFound, got %v", outcome.Status)
	}
}

func TestSanitizeFindingsCapsAtFive(t *testing.T) {
	var findings []AIPatternFinding
	for i := 0; i < 8; i++ {
		findings = append(findings, AIPatternFinding{SuccessfulWords: []string{"word"}, Confidence: 0.8})
	}
	out := sanitizeFindings(findings)
	if len(out) != 5 {
		t.Fatalf("expected findings capped at 5, got %d", len(out))
	}
}

func TestSanitizeFindingsDropsEmpty(t *testing.T) {
	out := sanitizeFindings([]AIPatternFinding{
		{SuccessfulWords: []string{"  "}, FailureWords: []string{""}},
		{SuccessfulWords: []string{"kept"}},
	})
	if len(out) != 1 || out[0].SuccessfulWords[0] != "kept" {
		t.Fatalf("expected only the non-empty finding, got %+v", out)
	}
}

func TestAnthropicClientWithoutKeyIsUnavailable(t *testing.T) {
	client := NewAnthropicAnalysisClient("", "")
	outcome, err := client.AnalyzeResponsePatterns(context.Background(), AnalysisRequest{})
	if err != nil {
		t.Fatalf("missing key must not error: %v", err)
	}
	if outcome.Status != AnalysisUnavailable {
		t.Fatalf("expected AnalysisUnavailable, got %v", outcome.Status)
	}
}
