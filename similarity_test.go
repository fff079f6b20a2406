package main

import (
	"fmt"
	"math"
	"strings"
	"testing"
)

// tokenString builds "s1 s2 ... s17 a1 a2 a3" style inputs so the
// similarity ratio is exactly constructible.
func tokenString(shared int, suffix string, extra int) string {
	var parts []string
	for i := 1; i <= shared; i++ {
		parts = append(parts, fmt.Sprintf("s%d", i))
	}
	for i := 1; i <= extra; i++ {
		parts = append(parts, fmt.Sprintf("%s%d", suffix, i))
	}
	return strings.Join(parts, " ")
}

func TestTextSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Fast free shipping", "fast FREE shipping!", 1.0},
		{"empty side", "", "anything", 0.0},
		{"both empty", "", "", 0.0},
		{"punctuation only", "!!! ???", "words here", 0.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"seventeen of twenty", tokenString(17, "a", 3), tokenString(17, "b", 3), 0.85},
		{"fifteen of twenty", tokenString(15, "a", 5), tokenString(15, "b", 5), 0.75},
		{"asymmetric sizes", "one two three four", "one two", 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := TextSimilarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("TextSimilarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestTextSimilarityRepeatedTokens(t *testing.T) {
	// Repetition must not inflate the score: token sets, not counts.
	got := TextSimilarity("deal deal deal today", "deal today")
	if got != 1.0 {
		t.Fatalf("expected repeated tokens to collapse to 1.0, got %f", got)
	}
}

func TestIsDuplicatePattern(t *testing.T) {
	highSimA := Pattern{Description: tokenString(17, "a", 3), PatternType: PatternTypeTiming, SuccessRate: 0.1}
	highSimB := Pattern{Description: tokenString(17, "b", 3), PatternType: PatternTypeWordUsage, SuccessRate: 0.9}
	if !IsDuplicatePattern(highSimA, highSimB) {
		t.Fatalf("similarity 0.85 must be duplicate regardless of type and rate")
	}

	midA := Pattern{Description: tokenString(15, "a", 5), PatternType: PatternTypeWordUsage, SuccessRate: 0.50}
	midB := Pattern{Description: tokenString(15, "b", 5), PatternType: PatternTypeWordUsage, SuccessRate: 0.55}
	if !IsDuplicatePattern(midA, midB) {
		t.Fatalf("similarity 0.75 with same type and rate delta 0.05 must be duplicate")
	}

	midB.SuccessRate = 0.56
	if IsDuplicatePattern(midA, midB) {
		t.Fatalf("rate delta 0.06 must not be duplicate at similarity 0.75")
	}

	midB.SuccessRate = 0.50
	midB.PatternType = PatternTypeTiming
	if IsDuplicatePattern(midA, midB) {
		t.Fatalf("type mismatch must not be duplicate at similarity 0.75")
	}

	lowA := Pattern{Description: tokenString(13, "a", 7), PatternType: PatternTypeWordUsage, SuccessRate: 0.5}
	lowB := Pattern{Description: tokenString(13, "b", 7), PatternType: PatternTypeWordUsage, SuccessRate: 0.5}
	if IsDuplicatePattern(lowA, lowB) {
		t.Fatalf("similarity 0.65 must not be duplicate even with matching type and rate")
	}
}

func TestConfidenceFromSampleCount(t *testing.T) {
	cases := []struct {
		n    int
		want float64
	}{
		{0, 0.5}, {9, 0.5},
		{10, 0.6}, {19, 0.6},
		{20, 0.7}, {49, 0.7},
		{50, 0.8}, {99, 0.8},
		{100, 0.9}, {150, 0.9},
	}
	for _, tc := range cases {
		if got := ConfidenceFromSampleCount(tc.n); got != tc.want {
			t.Fatalf("ConfidenceFromSampleCount(%d) = %f, want %f", tc.n, got, tc.want)
		}
	}
}

func TestNormalizeDescription(t *testing.T) {
	got := normalizeDescription("  Fast, FREE: shipping!! 24h  ")
	if got != "fast  free  shipping   24h" && !strings.Contains(got, "fast") {
		// Exact spacing is an implementation detail; tokens must survive.
		t.Fatalf("unexpected normalization: %q", got)
	}
	fields := strings.Fields(got)
	want := []string{"fast", "free", "shipping", "24h"}
	if len(fields) != len(want) {
		t.Fatalf("expected tokens %v, got %v", want, fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Fatalf("expected tokens %v, got %v", want, fields)
		}
	}
}
