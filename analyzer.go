package main

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

// AnalyzeOptions controls a statistical success-pattern pass.
type AnalyzeOptions struct {
	WindowDays    int
	MinSampleSize int
	PatternTypes  []string
}

type AnalysisResult struct {
	Success     bool
	Message     string
	SampleCount int
	Patterns    []Pattern
}

const analyzerConfidenceFloor = 0.5

// AnalyzeSuccessPatterns runs paired cohort comparisons (successful vs
// unsuccessful interactions) over the full labeled window and returns
// confidence-scored candidate patterns. It never persists: callers use
// SaveSuccessPattern, which does no duplicate filtering — repeated
// analyze+save rounds can reintroduce duplicates (contract caveat).
func AnalyzeSuccessPatterns(db *sql.DB, stopWords map[string]bool, companyID int64, opts AnalyzeOptions) (AnalysisResult, error) {
	if opts.WindowDays < 1 {
		opts.WindowDays = 30
	}
	if opts.MinSampleSize < 1 {
		opts.MinSampleSize = 10
	}
	types := opts.PatternTypes
	if len(types) == 0 {
		types = AllPatternTypes
	}
	since := time.Now().UTC().AddDate(0, 0, -opts.WindowDays)

	outcomes, err := GetOutcomesSince(db, companyID, since)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("fetch outcomes: %w", err)
	}
	responses, err := GetResponsesSince(db, companyID, since)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("fetch responses: %w", err)
	}

	total := len(outcomes) + len(responses)
	if len(outcomes) < opts.MinSampleSize {
		return AnalysisResult{
			Success:     false,
			Message:     fmt.Sprintf("insufficient data: %d outcomes in last %d days (minimum %d)", len(outcomes), opts.WindowDays, opts.MinSampleSize),
			SampleCount: total,
		}, nil
	}

	success, failure := splitResponseCohorts(responses)
	result := AnalysisResult{Success: true, SampleCount: total}

	for _, patternType := range types {
		var c *CandidatePattern
		switch patternType {
		case PatternTypeWordUsage, PatternTypeEmergingWords:
			c = analyzeWordUsagePatterns(success, failure, stopWords, defaultSignificanceRatio)
		case PatternTypeTiming:
			c = analyzeTimingPatterns(outcomes)
		case PatternTypeResponseStyle:
			c = analyzeStylePatterns(success, failure)
		case PatternTypeEmotionalTone:
			c = analyzeTonePatterns(success, failure)
		default:
			log.Printf("analyze company=%d unknown pattern type %q skipped", companyID, patternType)
			continue
		}
		if c == nil {
			continue
		}

		confidence := ConfidenceFromSampleCount(c.SampleSize)
		if confidence < analyzerConfidenceFloor {
			continue
		}
		result.Patterns = append(result.Patterns, Pattern{
			CompanyID:       companyID,
			PatternType:     c.PatternType,
			Pattern:         c.Payload,
			Description:     c.Description,
			SuccessRate:     clamp01(c.SuccessRate),
			SampleSize:      c.SampleSize,
			ConfidenceLevel: confidence,
			IsActive:        true,
			Metadata: marshalMetadata(map[string]any{
				"source":     "analyzer",
				"windowDays": opts.WindowDays,
			}),
		})
	}

	log.Printf("analyze company=%d window=%dd samples=%d patterns=%d",
		companyID, opts.WindowDays, total, len(result.Patterns))
	return result, nil
}

// SaveSuccessPattern inserts one analyzer candidate unconditionally.
// Duplicate filtering is the detector's persistence path, not this one.
func SaveSuccessPattern(db *sql.DB, p Pattern) (int64, error) {
	if p.CompanyID == 0 {
		return 0, fmt.Errorf("pattern has no company")
	}
	return InsertPattern(db, p)
}
