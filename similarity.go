package main

import "strings"

// normalizeDescription strips non-linguistic characters and lowercases,
// keeping letters, digits and spaces so tokenization is stable across
// punctuation and emoji noise in pattern descriptions.
func normalizeDescription(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteByte(' ')
		case r > 127: // keep non-ASCII letters (product names etc.)
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(b.String())
}

// TextSimilarity returns |common tokens| / max(|tokens a|, |tokens b|)
// over whitespace-tokenized, normalized strings. Identical normalized
// strings score 1.0; an empty side scores 0.0.
func TextSimilarity(a, b string) float64 {
	na := normalizeDescription(a)
	nb := normalizeDescription(b)
	if na == "" || nb == "" {
		return 0.0
	}
	if na == nb {
		return 1.0
	}

	setA := tokenSet(na)
	setB := tokenSet(nb)

	common := 0
	for t := range setB {
		if setA[t] {
			common++
		}
	}

	max := len(setA)
	if len(setB) > max {
		max = len(setB)
	}
	return float64(common) / float64(max)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}

// IsDuplicatePattern decides whether two patterns describe the same
// behavior: near-identical descriptions always match; moderately
// similar descriptions match only when type and success rate agree.
func IsDuplicatePattern(a, b Pattern) bool {
	sim := TextSimilarity(a.Description, b.Description)
	if sim >= 0.85 {
		return true
	}
	if sim >= 0.70 && a.PatternType == b.PatternType {
		delta := a.SuccessRate - b.SuccessRate
		if delta < 0 {
			delta = -delta
		}
		return delta <= 0.05
	}
	return false
}

// ConfidenceFromSampleCount maps a sample total onto a confidence step.
// This is a coarse proxy for statistical significance, not a p-value;
// the buckets are intentional simplification.
func ConfidenceFromSampleCount(n int) float64 {
	switch {
	case n < 10:
		return 0.5
	case n < 20:
		return 0.6
	case n < 50:
		return 0.7
	case n < 100:
		return 0.8
	default:
		return 0.9
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
