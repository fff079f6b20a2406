package main

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"
)

// CleanupResult aggregates one full duplicate-cleanup pass. A second
// pass with no intervening writes must report PatternsMerged = 0.
type CleanupResult struct {
	DuplicateGroupsFound int
	PatternsProcessed    int
	PatternsDeleted      int
	PatternsMerged       int
	TimeTakenMs          int64
}

// FindDuplicatePatterns pairwise-compares a company's active patterns
// and groups near-duplicates. Grouping is greedy single-link: once a
// pattern lands in a group it is excluded from later comparisons, so
// two patterns that are each similar to a shared third but not to each
// other can stay ungrouped. Known under-merging, kept as-is.
func FindDuplicatePatterns(db *sql.DB, companyID int64) ([][]Pattern, error) {
	patterns, err := GetActivePatterns(db, companyID)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	grouped := make(map[int64]bool, len(patterns))
	var groups [][]Pattern
	for i := range patterns {
		if grouped[patterns[i].ID] {
			continue
		}
		group := []Pattern{patterns[i]}
		for j := i + 1; j < len(patterns); j++ {
			if grouped[patterns[j].ID] {
				continue
			}
			if IsDuplicatePattern(patterns[i], patterns[j]) {
				group = append(group, patterns[j])
				grouped[patterns[j].ID] = true
			}
		}
		if len(group) > 1 {
			grouped[patterns[i].ID] = true
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// MergeSimilarPatterns collapses a duplicate group into its best
// member: highest success rate wins, ties go to the most recent
// created_at. The survivor gets a sample-size-weighted success rate
// (unlike the detector's in-batch merge, which averages unweighted)
// and the sum of sample sizes; the rest are deleted within the
// survivor's company only.
func MergeSimilarPatterns(db *sql.DB, group []Pattern) (Pattern, int, error) {
	if len(group) == 0 {
		return Pattern{}, 0, fmt.Errorf("empty group")
	}
	if len(group) == 1 {
		return group[0], 0, nil
	}

	companyID := group[0].CompanyID
	for _, p := range group {
		if p.CompanyID != companyID {
			return Pattern{}, 0, fmt.Errorf("group spans companies %d and %d", companyID, p.CompanyID)
		}
	}

	representative := group[0]
	for _, p := range group[1:] {
		if p.SuccessRate > representative.SuccessRate ||
			(p.SuccessRate == representative.SuccessRate && p.CreatedAt.After(representative.CreatedAt)) {
			representative = p
		}
	}

	newRate := weightedSuccessRate(group)
	totalSize := 0
	var mergedIDs []int64
	for _, p := range group {
		totalSize += effectiveSampleSize(p)
		if p.ID != representative.ID {
			mergedIDs = append(mergedIDs, p.ID)
		}
	}

	metadata := appendMergeProvenance(representative.Metadata, map[string]any{
		"mergedBy":   "cleanup",
		"mergedAt":   time.Now().UTC().Format(time.RFC3339),
		"mergedIDs":  mergedIDs,
		"priorRate":  representative.SuccessRate,
		"mergedRate": newRate,
	})
	if err := UpdatePatternMerge(db, companyID, representative.ID, newRate, totalSize, metadata); err != nil {
		return Pattern{}, 0, fmt.Errorf("update representative %d: %w", representative.ID, err)
	}

	deleted := 0
	for _, id := range mergedIDs {
		if err := DeletePattern(db, companyID, id); err != nil {
			log.Printf("cleanup company=%d delete pattern=%d failed: %v", companyID, id, err)
			continue
		}
		deleted++
	}

	representative.SuccessRate = newRate
	representative.SampleSize = totalSize
	representative.Metadata = metadata
	return representative, deleted, nil
}

// weightedSuccessRate computes sum(rate*n)/sum(n), with n defaulting to
// 10 for patterns that never recorded a sample size.
func weightedSuccessRate(group []Pattern) float64 {
	var weightedSum, totalWeight float64
	for _, p := range group {
		n := float64(effectiveSampleSize(p))
		weightedSum += p.SuccessRate * n
		totalWeight += n
	}
	if totalWeight == 0 {
		return 0
	}
	return clamp01(weightedSum / totalWeight)
}

func effectiveSampleSize(p Pattern) int {
	if p.SampleSize <= 0 {
		return 10
	}
	return p.SampleSize
}

// CleanupDuplicatePatterns finds and merges every duplicate group for
// one company. Idempotent: a second run with no intervening writes
// finds nothing left to merge.
func CleanupDuplicatePatterns(db *sql.DB, companyID int64) (CleanupResult, error) {
	start := time.Now()

	groups, err := FindDuplicatePatterns(db, companyID)
	if err != nil {
		return CleanupResult{}, err
	}

	result := CleanupResult{DuplicateGroupsFound: len(groups)}
	for _, group := range groups {
		result.PatternsProcessed += len(group)
		_, deleted, err := MergeSimilarPatterns(db, group)
		if err != nil {
			log.Printf("cleanup company=%d merge group of %d failed: %v", companyID, len(group), err)
			continue
		}
		result.PatternsDeleted += deleted
		result.PatternsMerged++
	}

	result.TimeTakenMs = time.Since(start).Milliseconds()
	log.Printf("cleanup company=%d groups=%d processed=%d merged=%d deleted=%d ms=%d",
		companyID, result.DuplicateGroupsFound, result.PatternsProcessed,
		result.PatternsMerged, result.PatternsDeleted, result.TimeTakenMs)
	return result, nil
}

// CleanupStats is the cheap pre-check: buckets that share a type and a
// rounded success rate are flagged as potential duplicates without
// running the full pairwise scan.
type CleanupStats struct {
	TotalPatterns       int
	PotentialDuplicates int
	Buckets             map[string]int
}

func GetCleanupStats(db *sql.DB, companyID int64) (CleanupStats, error) {
	patterns, err := GetActivePatterns(db, companyID)
	if err != nil {
		return CleanupStats{}, fmt.Errorf("load patterns: %w", err)
	}

	stats := CleanupStats{
		TotalPatterns: len(patterns),
		Buckets:       make(map[string]int),
	}
	for _, p := range patterns {
		key := fmt.Sprintf("%s:%.1f", p.PatternType, math.Round(p.SuccessRate*10)/10)
		stats.Buckets[key]++
	}
	for _, count := range stats.Buckets {
		if count > 1 {
			stats.PotentialDuplicates += count
		}
	}
	return stats, nil
}
