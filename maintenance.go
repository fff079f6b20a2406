package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	recentUsageBlendDays = 7
	blendExistingWeight  = 0.70
	blendRecentWeight    = 0.30
)

// MaintenanceStats tracks per-schedule outcomes across the process
// lifetime.
type MaintenanceStats struct {
	LastWeeklyRun  time.Time
	LastDailyRun   time.Time
	LastMonthlyRun time.Time

	PatternsMerged      int
	PatternsDeactivated int
	RatesRefreshed      int
	UsageRowsPurged     int64
	PatternsArchived    int
	PatternsDeleted     int
	Errors              int
}

// MaintenanceScheduler runs the weekly cleanup, daily stat refresh and
// monthly archiving on cron schedules. The three schedules share one
// isRunning flag: a long weekly run blocks a daily trigger that would
// otherwise fire mid-run.
type MaintenanceScheduler struct {
	db *sql.DB

	mu        sync.Mutex
	isRunning bool
	stats     MaintenanceStats
	stop      chan struct{}
	started   bool

	weeklySpec  string
	dailySpec   string
	monthlySpec string

	now func() time.Time
}

func NewMaintenanceScheduler(db *sql.DB, cfg Config) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		db:          db,
		weeklySpec:  cfg.WeeklyMaintenanceCron,
		dailySpec:   cfg.DailyMaintenanceCron,
		monthlySpec: cfg.MonthlyMaintenanceCron,
		now:         time.Now,
	}
}

// Start launches one goroutine per schedule. Invalid cron expressions
// disable that schedule with a logged reason rather than failing boot.
func (m *MaintenanceScheduler) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedules := []struct {
		name string
		spec string
		run  func() error
	}{
		{"weekly", m.weeklySpec, m.runWeekly},
		{"daily", m.dailySpec, m.runDaily},
		{"monthly", m.monthlySpec, m.runMonthly},
	}

	for _, s := range schedules {
		sched, err := parser.Parse(s.spec)
		if err != nil {
			log.Printf("maintenance %s disabled: invalid cron '%s': %v", s.name, s.spec, err)
			continue
		}
		log.Printf("maintenance %s scheduled (cron: %s)", s.name, s.spec)
		go m.scheduleLoop(s.name, sched, s.run, stop)
	}
}

func (m *MaintenanceScheduler) scheduleLoop(name string, sched cron.Schedule, run func() error, stop chan struct{}) {
	for {
		now := m.now()
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("maintenance %s next at %s (in %s)", name, next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}

		if err := m.runExclusive(name, run); err != nil {
			// A busy flag here is expected overlap, not a failure.
			log.Printf("maintenance %s skipped: %v", name, err)
		}
	}
}

func (m *MaintenanceScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stop)
	m.started = false
	log.Println("maintenance stopped")
}

var errMaintenanceBusy = fmt.Errorf("maintenance already in progress")

// runExclusive takes the shared exclusivity flag for the duration of
// one job.
func (m *MaintenanceScheduler) runExclusive(name string, run func() error) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return errMaintenanceBusy
	}
	m.isRunning = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isRunning = false
		m.mu.Unlock()
	}()

	start := m.now()
	err := run()
	log.Printf("maintenance %s finished in %s err=%v", name, time.Since(start).Round(time.Millisecond), err)
	return err
}

// RunImmediateMaintenance triggers one job on demand. Unlike the
// scheduled path, an in-progress run is a hard error here: the caller
// asked for synchronous work and must know it did not happen.
func (m *MaintenanceScheduler) RunImmediateMaintenance(kind string) error {
	var run func() error
	switch kind {
	case "weekly":
		run = m.runWeekly
	case "daily":
		run = m.runDaily
	case "monthly":
		run = m.runMonthly
	default:
		return fmt.Errorf("unknown maintenance type %q", kind)
	}
	return m.runExclusive(kind, run)
}

func (m *MaintenanceScheduler) GetStats() MaintenanceStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MaintenanceScheduler) updateStats(update func(*MaintenanceStats)) {
	m.mu.Lock()
	update(&m.stats)
	m.mu.Unlock()
}

// --- Weekly: duplicate cleanup + unused-pattern deactivation ---

func (m *MaintenanceScheduler) runWeekly() error {
	companies, err := ListActiveCompanyIDs(m.db)
	if err != nil {
		return fmt.Errorf("list companies: %w", err)
	}

	for _, companyID := range companies {
		result, err := CleanupDuplicatePatterns(m.db, companyID)
		if err != nil {
			log.Printf("maintenance weekly company=%d cleanup failed: %v", companyID, err)
			m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
		} else {
			m.updateStats(func(s *MaintenanceStats) { s.PatternsMerged += result.PatternsMerged })
		}

		deactivated, err := m.deactivateUnusedPatterns(companyID)
		if err != nil {
			log.Printf("maintenance weekly company=%d deactivate failed: %v", companyID, err)
			m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
			continue
		}
		m.updateStats(func(s *MaintenanceStats) { s.PatternsDeactivated += deactivated })
	}

	m.updateStats(func(s *MaintenanceStats) { s.LastWeeklyRun = m.now().UTC() })
	return nil
}

// deactivateUnusedPatterns deactivates (never deletes) active patterns
// older than the cutoff with no usage inside the window, preserving
// auditability.
func (m *MaintenanceScheduler) deactivateUnusedPatterns(companyID int64) (int, error) {
	patterns, err := GetActivePatterns(m.db, companyID)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().UTC().AddDate(0, 0, -unusedPatternCutoffDays)
	deactivated := 0
	for _, p := range patterns {
		if !p.CreatedAt.Before(cutoff) {
			continue
		}
		usage, err := CountUsageSince(m.db, companyID, p.ID, cutoff)
		if err != nil {
			log.Printf("maintenance company=%d usage count pattern=%d failed: %v", companyID, p.ID, err)
			continue
		}
		if usage > 0 {
			continue
		}
		if err := DeactivatePattern(m.db, companyID, p.ID); err != nil {
			log.Printf("maintenance company=%d deactivate pattern=%d failed: %v", companyID, p.ID, err)
			continue
		}
		deactivated++
	}
	return deactivated, nil
}

// --- Daily: success-rate refresh + usage purge ---

func (m *MaintenanceScheduler) runDaily() error {
	companies, err := ListActiveCompanyIDs(m.db)
	if err != nil {
		return fmt.Errorf("list companies: %w", err)
	}

	since := m.now().UTC().AddDate(0, 0, -recentUsageBlendDays)
	for _, companyID := range companies {
		patterns, err := GetActivePatterns(m.db, companyID)
		if err != nil {
			log.Printf("maintenance daily company=%d load failed: %v", companyID, err)
			m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
			continue
		}
		for _, p := range patterns {
			recentRate, total, err := UsageSuccessRateSince(m.db, companyID, p.ID, since)
			if err != nil {
				log.Printf("maintenance daily company=%d pattern=%d usage failed: %v", companyID, p.ID, err)
				continue
			}
			if total == 0 {
				continue // no recent evidence, keep the stored rate
			}
			blended := blendExistingWeight*p.SuccessRate + blendRecentWeight*recentRate
			if err := UpdatePatternSuccessRate(m.db, companyID, p.ID, blended); err != nil {
				log.Printf("maintenance daily company=%d pattern=%d update failed: %v", companyID, p.ID, err)
				continue
			}
			m.updateStats(func(s *MaintenanceStats) { s.RatesRefreshed++ })
		}
	}

	purgeCutoff := m.now().UTC().AddDate(0, 0, -usagePurgeDays)
	purged, err := PurgeUsageOlderThan(m.db, purgeCutoff)
	if err != nil {
		log.Printf("maintenance daily usage purge failed: %v", err)
		m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
	} else {
		m.updateStats(func(s *MaintenanceStats) { s.UsageRowsPurged += purged })
	}

	m.updateStats(func(s *MaintenanceStats) { s.LastDailyRun = m.now().UTC() })
	return nil
}

// --- Monthly: archive + hard-delete old inactive patterns ---

func (m *MaintenanceScheduler) runMonthly() error {
	companies, err := ListActiveCompanyIDs(m.db)
	if err != nil {
		return fmt.Errorf("list companies: %w", err)
	}

	cutoff := m.now().UTC().AddDate(0, -archiveAfterMonths, 0)
	for _, companyID := range companies {
		patterns, err := GetInactivePatternsOlderThan(m.db, companyID, cutoff)
		if err != nil {
			log.Printf("maintenance monthly company=%d load failed: %v", companyID, err)
			m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
			continue
		}
		for _, p := range patterns {
			// Archive best-effort: a failed archive write does not block
			// the delete, it only loses the snapshot.
			payload, err := json.Marshal(p)
			if err == nil {
				if err := InsertArchivedPattern(m.db, companyID, p.ID, string(payload)); err != nil {
					log.Printf("maintenance monthly company=%d archive pattern=%d failed: %v", companyID, p.ID, err)
				} else {
					m.updateStats(func(s *MaintenanceStats) { s.PatternsArchived++ })
				}
			}
			if err := DeleteUsageForPattern(m.db, companyID, p.ID); err != nil {
				log.Printf("maintenance monthly company=%d usage delete pattern=%d failed: %v", companyID, p.ID, err)
			}
			if err := DeletePattern(m.db, companyID, p.ID); err != nil {
				log.Printf("maintenance monthly company=%d delete pattern=%d failed: %v", companyID, p.ID, err)
				m.updateStats(func(s *MaintenanceStats) { s.Errors++ })
				continue
			}
			m.updateStats(func(s *MaintenanceStats) { s.PatternsDeleted++ })
		}
	}

	m.updateStats(func(s *MaintenanceStats) { s.LastMonthlyRun = m.now().UTC() })
	return nil
}
