package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	defaultDetectionInterval = 6 * time.Hour
	minDetectionInterval     = 5 * time.Minute
	maxDetectionInterval     = 24 * time.Hour
	detectionWarmupDelay     = 30 * time.Second
	minLookbackDays          = 3
	maxLookbackDays          = 30
)

// CompanyCycleResult is one company's slot in a cycle summary.
type CompanyCycleResult struct {
	CompanyID    int64
	Skipped      bool
	Reason       string
	LookbackDays int
	SampleCount  int
	NewPatterns  int
	Merged       int
	Err          string
}

// CycleSummary records one full pass across the monitored roster.
type CycleSummary struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	TotalNewPatterns int
	Companies        []CompanyCycleResult
}

// AutoDetectionScheduler drives periodic pattern detection across all
// monitored companies. Timers are in-process; running two instances of
// the service would duplicate detection work.
type AutoDetectionScheduler struct {
	db       *sql.DB
	detector *PatternDetector
	notifier Notifier

	mu        sync.Mutex
	isRunning bool
	interval  time.Duration
	companies []int64
	lastCycle *CycleSummary
	stop      chan struct{}

	// Injected for deterministic tests.
	now    func() time.Time
	detect func(ctx context.Context, companyID int64, lookbackDays int) (DetectionResult, error)
	sleep  func(d time.Duration, cancel <-chan struct{}) bool

	cache *patternCache
}

func NewAutoDetectionScheduler(db *sql.DB, detector *PatternDetector, notifier Notifier, intervalMinutes int) *AutoDetectionScheduler {
	s := &AutoDetectionScheduler{
		db:       db,
		detector: detector,
		notifier: notifier,
		interval: clampInterval(time.Duration(intervalMinutes) * time.Minute),
		now:      time.Now,
		cache:    newPatternCache(),
	}
	if intervalMinutes <= 0 {
		s.interval = defaultDetectionInterval
	}
	if detector != nil {
		detector.loadActive = s.cache.Get
	}
	s.detect = func(ctx context.Context, companyID int64, lookbackDays int) (DetectionResult, error) {
		return detector.DetectNewPatterns(ctx, companyID, lookbackDays)
	}
	s.sleep = sleepOrCancel
	return s
}

func clampInterval(d time.Duration) time.Duration {
	if d < minDetectionInterval {
		return minDetectionInterval
	}
	if d > maxDetectionInterval {
		return maxDetectionInterval
	}
	return d
}

func sleepOrCancel(d time.Duration, cancel <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-cancel:
		return false
	}
}

// Start loads the roster and schedules the first cycle after a warm-up
// delay. Idempotent: calling Start on a running scheduler is a no-op.
// Stopping only prevents future ticks; an in-flight cycle finishes.
func (s *AutoDetectionScheduler) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		log.Println("auto-detect already running")
		return nil
	}

	ids, err := ListActiveCompanyIDs(s.db)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load company roster: %w", err)
	}
	s.companies = ids
	s.isRunning = true
	s.stop = make(chan struct{})
	stop := s.stop
	interval := s.interval
	s.mu.Unlock()

	log.Printf("auto-detect started companies=%d interval=%s warmup=%s", len(ids), interval, detectionWarmupDelay)
	go s.loop(stop, interval)
	return nil
}

func (s *AutoDetectionScheduler) loop(stop chan struct{}, interval time.Duration) {
	if !s.sleep(detectionWarmupDelay, stop) {
		return
	}
	for {
		s.RunDetectionCycle()
		if !s.sleep(interval, stop) {
			return
		}
	}
}

func (s *AutoDetectionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	close(s.stop)
	s.isRunning = false
	log.Println("auto-detect stopped")
}

// SetDetectionInterval updates the interval, clamped to 5min-24h. A
// running scheduler restarts so the change takes effect immediately
// instead of at the next natural tick.
func (s *AutoDetectionScheduler) SetDetectionInterval(minutes int) {
	newInterval := clampInterval(time.Duration(minutes) * time.Minute)

	s.mu.Lock()
	running := s.isRunning
	s.interval = newInterval
	s.mu.Unlock()

	log.Printf("auto-detect interval set to %s", newInterval)
	if running {
		s.Stop()
		if err := s.Start(); err != nil {
			log.Printf("auto-detect restart failed: %v", err)
		}
	}
}

func (s *AutoDetectionScheduler) AddCompany(companyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.companies {
		if id == companyID {
			return
		}
	}
	s.companies = append(s.companies, companyID)
}

func (s *AutoDetectionScheduler) RemoveCompany(companyID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range s.companies {
		if id == companyID {
			s.companies = append(s.companies[:i], s.companies[i+1:]...)
			return
		}
	}
}

// SchedulerStatus is the external status view.
type SchedulerStatus struct {
	IsRunning       bool
	IntervalMinutes int
	Companies       []int64
	LastCycle       *CycleSummary
}

func (s *AutoDetectionScheduler) GetStatus() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	companies := make([]int64, len(s.companies))
	copy(companies, s.companies)
	return SchedulerStatus{
		IsRunning:       s.isRunning,
		IntervalMinutes: int(s.interval / time.Minute),
		Companies:       companies,
		LastCycle:       s.lastCycle,
	}
}

// RunImmediateDetection runs one cycle outside the timer.
func (s *AutoDetectionScheduler) RunImmediateDetection() CycleSummary {
	return s.RunDetectionCycle()
}

// RunDetectionCycle walks the roster strictly sequentially. One
// company's failure is recorded in its slot and never aborts siblings.
func (s *AutoDetectionScheduler) RunDetectionCycle() CycleSummary {
	s.mu.Lock()
	roster := make([]int64, len(s.companies))
	copy(roster, s.companies)
	s.mu.Unlock()

	summary := CycleSummary{StartedAt: s.now().UTC()}
	for _, companyID := range roster {
		summary.Companies = append(summary.Companies, s.detectPatternsForCompany(companyID))
	}

	for _, c := range summary.Companies {
		summary.TotalNewPatterns += c.NewPatterns
	}
	summary.FinishedAt = s.now().UTC()

	s.mu.Lock()
	s.lastCycle = &summary
	s.mu.Unlock()

	log.Printf("auto-detect cycle companies=%d new=%d took=%s",
		len(roster), summary.TotalNewPatterns, summary.FinishedAt.Sub(summary.StartedAt))

	if summary.TotalNewPatterns > 0 && s.notifier != nil {
		if err := s.notifier.NotifyCycle(summary); err != nil {
			log.Printf("auto-detect notify failed: %v", err)
		}
	}
	s.cache.Clear()
	return summary
}

// detectPatternsForCompany applies the per-company feature flag and the
// adaptive lookback window, then delegates to the detector.
func (s *AutoDetectionScheduler) detectPatternsForCompany(companyID int64) CompanyCycleResult {
	result := CompanyCycleResult{CompanyID: companyID}

	enabled, err := IsPatternSystemEnabled(s.db, companyID)
	if err != nil {
		result.Err = fmt.Sprintf("read settings: %v", err)
		return result
	}
	if !enabled {
		result.Skipped = true
		result.Reason = "pattern system disabled"
		return result
	}

	result.LookbackDays = s.adaptiveLookbackDays(companyID)

	detection, err := s.detect(context.Background(), companyID, result.LookbackDays)
	if err != nil {
		result.Err = err.Error()
		log.Printf("auto-detect company=%d failed: %v", companyID, err)
		return result
	}
	result.SampleCount = detection.SampleCount
	result.NewPatterns = len(detection.NewPatterns)
	result.Merged = detection.MergedPatterns
	if !detection.Success {
		result.Skipped = true
		result.Reason = detection.Message
	}
	return result
}

// adaptiveLookbackDays widens the detection window the longer it has
// been since the company last produced a pattern, between 3 and 30 days.
func (s *AutoDetectionScheduler) adaptiveLookbackDays(companyID int64) int {
	latest, err := GetLatestPatternTime(s.db, companyID)
	if err != nil || latest.IsZero() {
		return maxLookbackDays
	}
	days := int(s.now().UTC().Sub(latest).Hours() / 24)
	if days < minLookbackDays {
		return minLookbackDays
	}
	if days > maxLookbackDays {
		return maxLookbackDays
	}
	return days
}

// --- Per-company feature flag (settings blob) ---

// IsPatternSystemEnabled reads patternSystemEnabled from the company's
// settings blob. Absent or unparseable settings default to enabled.
func IsPatternSystemEnabled(db *sql.DB, companyID int64) (bool, error) {
	blob, err := GetCompanySettings(db, companyID)
	if err != nil {
		return false, err
	}
	var settings map[string]any
	if err := json.Unmarshal([]byte(blob), &settings); err != nil {
		return true, nil
	}
	if v, ok := settings["patternSystemEnabled"].(bool); ok {
		return v, nil
	}
	return true, nil
}

// EnablePatternSystemForCompany flips the feature flag on, merging into
// the existing blob without clobbering unrelated keys.
func EnablePatternSystemForCompany(db *sql.DB, companyID int64, changedBy string) error {
	return setPatternSystemFlag(db, companyID, true, changedBy)
}

func DisablePatternSystemForCompany(db *sql.DB, companyID int64, changedBy string) error {
	return setPatternSystemFlag(db, companyID, false, changedBy)
}

func setPatternSystemFlag(db *sql.DB, companyID int64, enabled bool, changedBy string) error {
	blob, err := GetCompanySettings(db, companyID)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	settings := map[string]any{}
	if err := json.Unmarshal([]byte(blob), &settings); err != nil {
		// Unparseable blob: start fresh rather than fail the toggle.
		log.Printf("settings company=%d unparseable blob replaced", companyID)
		settings = map[string]any{}
	}
	settings["patternSystemEnabled"] = enabled
	settings["patternSystemUpdatedBy"] = changedBy
	settings["patternSystemUpdatedAt"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := UpdateCompanySettings(db, companyID, string(data)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	log.Printf("settings company=%d patternSystemEnabled=%t by=%s", companyID, enabled, changedBy)
	return nil
}

// --- Active-pattern cache ---

// patternCache is a small read cache for active patterns, cleared at
// the end of every detection cycle.
type patternCache struct {
	mu      sync.RWMutex
	entries map[int64][]Pattern
}

func newPatternCache() *patternCache {
	return &patternCache{entries: make(map[int64][]Pattern)}
}

func (c *patternCache) Get(db *sql.DB, companyID int64) ([]Pattern, error) {
	c.mu.RLock()
	cached, ok := c.entries[companyID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	patterns, err := GetActivePatterns(db, companyID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[companyID] = patterns
	c.mu.Unlock()
	return patterns, nil
}

func (c *patternCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[int64][]Pattern)
	c.mu.Unlock()
}
