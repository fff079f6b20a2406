package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"
)

// PatternDetector mines a company's recent interaction data for
// response behaviors that correlate with purchases.
type PatternDetector struct {
	db        *sql.DB
	analysis  AnalysisClient
	stopWords map[string]bool

	minSampleSize     int
	minStrength       float64
	significanceRatio float64
	analysisTimeout   time.Duration
	maxPromptSamples  int

	// loadActive is swappable so the scheduler can route reads through
	// its per-cycle cache.
	loadActive func(db *sql.DB, companyID int64) ([]Pattern, error)
}

func NewPatternDetector(db *sql.DB, cfg Config, analysis AnalysisClient, stopWords map[string]bool) *PatternDetector {
	return &PatternDetector{
		db:                db,
		analysis:          analysis,
		stopWords:         stopWords,
		minSampleSize:     cfg.MinSampleSize,
		minStrength:       cfg.MinStrength,
		significanceRatio: cfg.SignificanceRatio,
		analysisTimeout:   time.Duration(cfg.AnalysisTimeoutSeconds) * time.Second,
		maxPromptSamples:  cfg.AnalysisMaxSamples,
		loadActive:        GetActivePatterns,
	}
}

// CandidatePattern is a detected-but-not-yet-persisted pattern.
type CandidatePattern struct {
	PatternType      string
	Payload          string // serialized JSON
	Description      string
	SuccessRate      float64
	SampleSize       int
	Strength         float64
	Reasoning        string
	SignificantWords []string
}

// DetectionResult reports one detection pass. Soft conditions (not
// enough data, no AI capability, rejected candidates, single failed
// inserts) land here as counters and a message, never as an error.
type DetectionResult struct {
	Success           bool
	Message           string
	SampleCount       int
	CandidateCount    int
	NewPatterns       []Pattern
	MergedPatterns    int
	SkippedDuplicates int
	FailedPersists    int
	Usage             AnalysisUsage
}

// DetectNewPatterns runs every detection strategy over the lookback
// window and persists the surviving candidates. Storage being
// unreachable before any data is fetched is the only hard error.
func (d *PatternDetector) DetectNewPatterns(ctx context.Context, companyID int64, lookbackDays int) (DetectionResult, error) {
	if lookbackDays < 1 {
		lookbackDays = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -lookbackDays)

	outcomes, err := GetOutcomesSince(d.db, companyID, since)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("fetch outcomes: %w", err)
	}
	responses, err := GetResponsesSince(d.db, companyID, since)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("fetch responses: %w", err)
	}

	// Adaptive floor: when auxiliary response-effectiveness data exists
	// the outcome minimum drops, since the text strategies can still run.
	minimum := d.minSampleSize
	if len(responses) > 0 && minimum > 1 {
		minimum = minimum / 2
	}
	total := len(outcomes) + len(responses)
	if total < minimum {
		log.Printf("detect company=%d samples=%d minimum=%d: insufficient data", companyID, total, minimum)
		return DetectionResult{
			Success:     false,
			Message:     fmt.Sprintf("insufficient data: %d samples in last %d days (minimum %d)", total, lookbackDays, minimum),
			SampleCount: total,
		}, nil
	}

	result := DetectionResult{Success: true, SampleCount: total}

	successResponses, failureResponses := splitResponseCohorts(responses)

	var candidates []CandidatePattern
	if c := analyzeWordUsagePatterns(successResponses, failureResponses, d.stopWords, d.significanceRatio); c != nil {
		// Freshly-surfaced vocabulary from a short window is labeled
		// emerging; the analyzer keeps word_usage for the same statistic.
		c.PatternType = PatternTypeEmergingWords
		candidates = append(candidates, *c)
	}
	if c := analyzeTimingPatterns(outcomes); c != nil {
		candidates = append(candidates, *c)
	}
	if c := analyzeStylePatterns(successResponses, failureResponses); c != nil {
		candidates = append(candidates, *c)
	}
	if c := analyzeTonePatterns(successResponses, failureResponses); c != nil {
		candidates = append(candidates, *c)
	}

	aiCandidates, usage := d.runDelegatedAnalysis(ctx, companyID, successResponses, failureResponses)
	result.Usage = usage
	candidates = append(candidates, aiCandidates...)

	// Strength filter.
	var strong []CandidatePattern
	for _, c := range candidates {
		if c.Strength < d.minStrength {
			log.Printf("detect company=%d rejected type=%s strength=%.2f", companyID, c.PatternType, c.Strength)
			continue
		}
		strong = append(strong, c)
	}
	result.CandidateCount = len(strong)
	if len(strong) == 0 {
		result.Message = "no patterns cleared the strength threshold"
		return result, nil
	}

	stored, err := d.loadActive(d.db, companyID)
	if err != nil {
		// We already have data; degrade to reporting candidates unpersisted.
		log.Printf("detect company=%d load stored patterns failed: %v", companyID, err)
		result.Message = "candidates found but stored patterns could not be loaded"
		result.FailedPersists = len(strong)
		return result, nil
	}

	d.persistCandidates(companyID, strong, stored, &result)
	result.Message = fmt.Sprintf("%d new, %d merged, %d duplicate, %d failed",
		len(result.NewPatterns), result.MergedPatterns, result.SkippedDuplicates, result.FailedPersists)
	return result, nil
}

// persistCandidates deduplicates candidates against stored patterns and
// against each other, then creates or merges each survivor. Per-item
// failures are counted, never propagated.
func (d *PatternDetector) persistCandidates(companyID int64, candidates []CandidatePattern, stored []Pattern, result *DetectionResult) {
	var accepted []Pattern
	for _, c := range candidates {
		asPattern := Pattern{
			CompanyID:       companyID,
			PatternType:     c.PatternType,
			Pattern:         c.Payload,
			Description:     c.Description,
			SuccessRate:     clamp01(c.SuccessRate),
			SampleSize:      c.SampleSize,
			ConfidenceLevel: clamp01(c.Strength),
			IsActive:        true,
		}

		// In-batch duplicate check against already-accepted candidates.
		inBatchDup := false
		for _, a := range accepted {
			if IsDuplicatePattern(asPattern, a) {
				inBatchDup = true
				break
			}
		}
		if inBatchDup {
			result.SkippedDuplicates++
			continue
		}

		// Against-store check: merge into the first near-duplicate.
		var existing *Pattern
		for i := range stored {
			if IsDuplicatePattern(asPattern, stored[i]) {
				existing = &stored[i]
				break
			}
		}

		if existing != nil {
			if err := d.mergeCandidateIntoExisting(companyID, existing, asPattern); err != nil {
				log.Printf("detect company=%d merge into pattern=%d failed: %v", companyID, existing.ID, err)
				result.FailedPersists++
				continue
			}
			result.MergedPatterns++
			accepted = append(accepted, *existing)
			continue
		}

		// Referential-integrity guard: the owning company must still exist.
		exists, err := CompanyExists(d.db, companyID)
		if err != nil || !exists {
			log.Printf("detect company=%d skipped insert: company missing (err=%v)", companyID, err)
			result.FailedPersists++
			continue
		}

		asPattern.Metadata = marshalMetadata(map[string]any{
			"source":     "detector",
			"reasoning":  c.Reasoning,
			"detectedAt": time.Now().UTC().Format(time.RFC3339),
		})
		id, err := InsertPattern(d.db, asPattern)
		if err != nil {
			log.Printf("detect company=%d insert failed type=%s: %v", companyID, c.PatternType, err)
			result.FailedPersists++
			continue
		}
		asPattern.ID = id
		result.NewPatterns = append(result.NewPatterns, asPattern)
		accepted = append(accepted, asPattern)
	}
}

// mergeCandidateIntoExisting folds a fresh candidate into a stored
// near-duplicate using a plain average of old and new success rates.
// Note: cleanup's group merge uses a sample-size-weighted average for
// the same conceptual operation; the divergence is inherited behavior
// and kept deliberately distinct.
func (d *PatternDetector) mergeCandidateIntoExisting(companyID int64, existing *Pattern, candidate Pattern) error {
	newRate := clamp01((existing.SuccessRate + candidate.SuccessRate) / 2)
	newSize := existing.SampleSize + candidate.SampleSize
	metadata := appendMergeProvenance(existing.Metadata, map[string]any{
		"mergedBy":      "detector",
		"mergedAt":      time.Now().UTC().Format(time.RFC3339),
		"previousRate":  existing.SuccessRate,
		"candidateRate": candidate.SuccessRate,
		"candidateType": candidate.PatternType,
	})
	if err := UpdatePatternMerge(d.db, companyID, existing.ID, newRate, newSize, metadata); err != nil {
		return err
	}
	existing.SuccessRate = newRate
	existing.SampleSize = newSize
	existing.Metadata = metadata
	return nil
}

func (d *PatternDetector) runDelegatedAnalysis(ctx context.Context, companyID int64, success, failure []ResponseEffectiveness) ([]CandidatePattern, AnalysisUsage) {
	if d.analysis == nil || len(success) == 0 {
		return nil, AnalysisUsage{}
	}

	maxSamples := d.maxPromptSamples
	if maxSamples < 1 {
		maxSamples = 10
	}
	req := AnalysisRequest{
		CompanyID:           companyID,
		SuccessfulSamples:   curateSamples(success, maxSamples),
		UnsuccessfulSamples: curateSamples(failure, maxSamples),
		SuccessfulCount:     len(success),
		UnsuccessfulCount:   len(failure),
	}

	if d.analysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.analysisTimeout)
		defer cancel()
	}

	outcome, err := d.analysis.AnalyzeResponsePatterns(ctx, req)
	if err != nil {
		log.Printf("detect company=%d delegated analysis failed: %v", companyID, err)
		return nil, outcome.Usage
	}
	switch outcome.Status {
	case AnalysisUnavailable:
		log.Printf("detect company=%d delegated analysis unavailable", companyID)
		return nil, outcome.Usage
	case AnalysisNoneFound:
		return nil, outcome.Usage
	}

	successRate := cohortSuccessRate(len(success), len(failure))
	var candidates []CandidatePattern
	for _, f := range outcome.Findings {
		if len(f.SuccessfulWords) == 0 {
			continue
		}
		payload := marshalMetadata(map[string]any{
			"successfulWords": f.SuccessfulWords,
			"failureWords":    f.FailureWords,
		})
		candidates = append(candidates, CandidatePattern{
			PatternType:      PatternTypeAIAnalysis,
			Payload:          payload,
			Description:      fmt.Sprintf("Successful responses favor wording: %s", strings.Join(f.SuccessfulWords, ", ")),
			SuccessRate:      successRate,
			SampleSize:       len(success) + len(failure),
			Strength:         clamp01(f.Confidence),
			Reasoning:        f.Reasoning,
			SignificantWords: f.SuccessfulWords,
		})
	}
	return candidates, outcome.Usage
}

// curateSamples picks the highest-scoring responses for the prompt,
// preferring variety over raw order by skipping near-identical texts.
func curateSamples(responses []ResponseEffectiveness, max int) []string {
	var out []string
	for _, r := range responses {
		text := strings.TrimSpace(r.ResponseText)
		if text == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if TextSimilarity(existing, text) >= 0.85 {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if len(text) > 300 {
			text = text[:300] + "..."
		}
		out = append(out, text)
		if len(out) >= max {
			break
		}
	}
	return out
}

// --- Detection strategies ---
//
// The same statistics back both the detector (short lookback window)
// and the success analyzer (full labeled dataset); only the input
// window and pattern-type labels differ.

func splitResponseCohorts(responses []ResponseEffectiveness) (success, failure []ResponseEffectiveness) {
	for _, r := range responses {
		switch {
		case r.LeadToPurchase || r.EffectivenessScore >= effectiveScoreFloor:
			success = append(success, r)
		case !r.LeadToPurchase && r.EffectivenessScore <= ineffectiveScoreCeil:
			failure = append(failure, r)
		}
	}
	return success, failure
}

func cohortSuccessRate(successCount, failureCount int) float64 {
	total := successCount + failureCount
	if total == 0 {
		return 0
	}
	return float64(successCount) / float64(total)
}

// analyzeWordUsagePatterns finds tokens that occur at least 3 times
// in the successful cohort and beat the failure cohort by the
// significance ratio.
func analyzeWordUsagePatterns(success, failure []ResponseEffectiveness, stopWords map[string]bool, ratio float64) *CandidatePattern {
	if len(success) == 0 {
		return nil
	}
	if ratio <= 0 {
		ratio = defaultSignificanceRatio
	}

	successFreq := wordFrequencies(responseTexts(success), stopWords)
	failureFreq := wordFrequencies(responseTexts(failure), stopWords)

	var emerging []string
	for token, count := range successFreq {
		if count < emergingWordMinOccurrences {
			continue
		}
		if float64(count) > ratio*float64(failureFreq[token]) {
			emerging = append(emerging, token)
		}
	}
	if len(emerging) == 0 {
		return nil
	}
	sort.Strings(emerging)

	// Bounded combination of emerging-token count vs cohort size.
	strength := clamp01(0.4 + float64(len(emerging))/float64(2*len(success)))
	if strength > 0.95 {
		strength = 0.95
	}

	payload := marshalMetadata(map[string]any{
		"words":             emerging,
		"successCohortSize": len(success),
		"failureCohortSize": len(failure),
	})
	return &CandidatePattern{
		PatternType:      PatternTypeWordUsage,
		Payload:          payload,
		Description:      fmt.Sprintf("Emerging words in successful responses: %s", strings.Join(emerging, ", ")),
		SuccessRate:      cohortSuccessRate(len(success), len(failure)),
		SampleSize:       len(success) + len(failure),
		Strength:         strength,
		SignificantWords: emerging,
	}
}

// analyzeTimingPatterns compares mean conversion time of purchased vs
// abandoned outcomes. Requires 3 samples per side and a 5-minute gap.
func analyzeTimingPatterns(outcomes []ConversationOutcome) *CandidatePattern {
	var purchased, abandoned []float64
	for _, o := range outcomes {
		switch o.Outcome {
		case outcomePurchase:
			purchased = append(purchased, o.ConversionTimeSeconds)
		case outcomeAbandoned:
			abandoned = append(abandoned, o.ConversionTimeSeconds)
		}
	}
	if len(purchased) < timingMinSamplesPerSide || len(abandoned) < timingMinSamplesPerSide {
		return nil
	}

	meanP := mean(purchased)
	meanA := mean(abandoned)
	delta := math.Abs(meanP - meanA)
	if delta < timingMinDeltaSeconds {
		return nil
	}

	direction := "faster"
	if meanP > meanA {
		direction = "slower"
	}
	strength := clamp01(0.4 + delta/3600)
	if strength > 0.9 {
		strength = 0.9
	}

	payload := marshalMetadata(map[string]any{
		"purchasedMeanSeconds": meanP,
		"abandonedMeanSeconds": meanA,
		"deltaSeconds":         delta,
	})
	return &CandidatePattern{
		PatternType: PatternTypeTiming,
		Payload:     payload,
		Description: fmt.Sprintf("Purchased conversations convert %.0f minutes %s than abandoned ones", delta/60, direction),
		SuccessRate: cohortSuccessRate(len(purchased), len(abandoned)),
		SampleSize:  len(purchased) + len(abandoned),
		Strength:    strength,
	}
}

// analyzeStylePatterns compares mean word count between effective and
// ineffective responses. Requires 5 samples per side and a 5-word gap.
func analyzeStylePatterns(success, failure []ResponseEffectiveness) *CandidatePattern {
	if len(success) < styleMinSamplesPerSide || len(failure) < styleMinSamplesPerSide {
		return nil
	}

	meanS := meanBy(success, func(r ResponseEffectiveness) float64 { return float64(r.WordCount) })
	meanF := meanBy(failure, func(r ResponseEffectiveness) float64 { return float64(r.WordCount) })
	delta := math.Abs(meanS - meanF)
	if delta < styleMinWordDelta {
		return nil
	}

	label := "concise"
	if meanS > meanF {
		label = "detailed"
	}
	strength := clamp01(0.4 + delta/100)
	if strength > 0.9 {
		strength = 0.9
	}

	payload := marshalMetadata(map[string]any{
		"style":                label,
		"effectiveMeanWords":   meanS,
		"ineffectiveMeanWords": meanF,
	})
	return &CandidatePattern{
		PatternType: PatternTypeResponseStyle,
		Payload:     payload,
		Description: fmt.Sprintf("Effective responses are %s (avg %.0f vs %.0f words)", label, meanS, meanF),
		SuccessRate: cohortSuccessRate(len(success), len(failure)),
		SampleSize:  len(success) + len(failure),
		Strength:    strength,
	}
}

// analyzeTonePatterns compares mean sentiment between cohorts.
// Requires 5 samples per side and a 0.2 sentiment gap.
func analyzeTonePatterns(success, failure []ResponseEffectiveness) *CandidatePattern {
	if len(success) < toneMinSamplesPerSide || len(failure) < toneMinSamplesPerSide {
		return nil
	}

	meanS := meanBy(success, func(r ResponseEffectiveness) float64 { return r.SentimentScore })
	meanF := meanBy(failure, func(r ResponseEffectiveness) float64 { return r.SentimentScore })
	delta := math.Abs(meanS - meanF)
	if delta < toneMinDelta {
		return nil
	}

	tone := "neutral"
	switch {
	case meanS >= 0.2:
		tone = "positive"
	case meanS <= -0.2:
		tone = "negative"
	}
	strength := clamp01(0.4 + delta)
	if strength > 0.9 {
		strength = 0.9
	}

	payload := marshalMetadata(map[string]any{
		"tone":                     tone,
		"effectiveMeanSentiment":   meanS,
		"ineffectiveMeanSentiment": meanF,
	})
	return &CandidatePattern{
		PatternType: PatternTypeEmotionalTone,
		Payload:     payload,
		Description: fmt.Sprintf("Effective responses carry a %s tone (sentiment %.2f vs %.2f)", tone, meanS, meanF),
		SuccessRate: cohortSuccessRate(len(success), len(failure)),
		SampleSize:  len(success) + len(failure),
		Strength:    strength,
	}
}

// --- helpers ---

func responseTexts(responses []ResponseEffectiveness) []string {
	texts := make([]string, 0, len(responses))
	for _, r := range responses {
		texts = append(texts, r.ResponseText)
	}
	return texts
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanBy(responses []ResponseEffectiveness, pick func(ResponseEffectiveness) float64) float64 {
	if len(responses) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range responses {
		sum += pick(r)
	}
	return sum / float64(len(responses))
}

func marshalMetadata(m map[string]any) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// appendMergeProvenance appends an entry to the metadata blob's
// mergeHistory list, preserving unrelated keys.
func appendMergeProvenance(metadata string, entry map[string]any) string {
	parsed := map[string]any{}
	if strings.TrimSpace(metadata) != "" {
		_ = json.Unmarshal([]byte(metadata), &parsed)
	}
	history, _ := parsed["mergeHistory"].([]any)
	history = append(history, entry)
	parsed["mergeHistory"] = history
	return marshalMetadata(parsed)
}
