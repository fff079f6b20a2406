package main

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "patternminer-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCompany(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	id, err := InsertCompany(db, Company{Name: name, IsActive: true})
	if err != nil {
		t.Fatalf("InsertCompany failed: %v", err)
	}
	return id
}

// backdatePattern rewrites created_at for maintenance-window tests.
func backdatePattern(t *testing.T, db *sql.DB, patternID int64, createdAt time.Time) {
	t.Helper()
	if _, err := db.Exec(`UPDATE patterns SET created_at = ? WHERE id = ?`, createdAt, patternID); err != nil {
		t.Fatalf("backdate pattern failed: %v", err)
	}
}

func TestCompanyRoster(t *testing.T) {
	db := newTestDB(t)

	active := newTestCompany(t, db, "Acme")
	if _, err := InsertCompany(db, Company{Name: "Dormant", IsActive: false}); err != nil {
		t.Fatalf("InsertCompany failed: %v", err)
	}

	ids, err := ListActiveCompanyIDs(db)
	if err != nil {
		t.Fatalf("ListActiveCompanyIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != active {
		t.Fatalf("expected active roster [%d], got %v", active, ids)
	}

	exists, err := CompanyExists(db, active)
	if err != nil || !exists {
		t.Fatalf("expected company %d to exist, exists=%t err=%v", active, exists, err)
	}
	exists, err = CompanyExists(db, 9999)
	if err != nil || exists {
		t.Fatalf("expected company 9999 to be absent, exists=%t err=%v", exists, err)
	}
}

func TestCompanySettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")

	settings, err := GetCompanySettings(db, companyID)
	if err != nil {
		t.Fatalf("GetCompanySettings failed: %v", err)
	}
	if settings != "{}" {
		t.Fatalf("expected default settings {}, got %q", settings)
	}

	if err := UpdateCompanySettings(db, companyID, `{"plan":"pro"}`); err != nil {
		t.Fatalf("UpdateCompanySettings failed: %v", err)
	}
	settings, err = GetCompanySettings(db, companyID)
	if err != nil {
		t.Fatalf("GetCompanySettings failed: %v", err)
	}
	if settings != `{"plan":"pro"}` {
		t.Fatalf("expected updated settings, got %q", settings)
	}
}

func TestPatternCRUD(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")

	id, err := InsertPattern(db, Pattern{
		CompanyID:       companyID,
		PatternType:     PatternTypeWordUsage,
		Pattern:         `{"words":["guarantee"]}`,
		Description:     "Emerging words in successful responses: guarantee",
		SuccessRate:     1.3, // clamped on write
		SampleSize:      12,
		ConfidenceLevel: 0.6,
		IsActive:        true,
	})
	if err != nil {
		t.Fatalf("InsertPattern failed: %v", err)
	}

	p, err := GetPatternByID(db, id)
	if err != nil {
		t.Fatalf("GetPatternByID failed: %v", err)
	}
	if p.SuccessRate != 1.0 {
		t.Fatalf("expected success rate clamped to 1.0, got %f", p.SuccessRate)
	}
	if p.Metadata != "{}" {
		t.Fatalf("expected default metadata {}, got %q", p.Metadata)
	}

	active, err := GetActivePatterns(db, companyID)
	if err != nil {
		t.Fatalf("GetActivePatterns failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("expected one active pattern %d, got %+v", id, active)
	}

	if err := DeactivatePattern(db, companyID, id); err != nil {
		t.Fatalf("DeactivatePattern failed: %v", err)
	}
	active, err = GetActivePatterns(db, companyID)
	if err != nil {
		t.Fatalf("GetActivePatterns failed: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active patterns after deactivation, got %d", len(active))
	}
}

func TestPatternMutationsAreTenantScoped(t *testing.T) {
	db := newTestDB(t)
	owner := newTestCompany(t, db, "Owner")
	intruder := newTestCompany(t, db, "Intruder")

	id, err := InsertPattern(db, Pattern{
		CompanyID:   owner,
		PatternType: PatternTypeTiming,
		Description: "Purchased conversations convert 12 minutes faster than abandoned ones",
		SuccessRate: 0.7,
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("InsertPattern failed: %v", err)
	}

	// Every mutation keyed by the wrong company must be a silent no-op.
	if err := UpdatePatternSuccessRate(db, intruder, id, 0.1); err != nil {
		t.Fatalf("UpdatePatternSuccessRate failed: %v", err)
	}
	if err := UpdatePatternMerge(db, intruder, id, 0.1, 99, "{}"); err != nil {
		t.Fatalf("UpdatePatternMerge failed: %v", err)
	}
	if err := DeactivatePattern(db, intruder, id); err != nil {
		t.Fatalf("DeactivatePattern failed: %v", err)
	}
	if err := DeletePattern(db, intruder, id); err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}

	p, err := GetPatternByID(db, id)
	if err != nil {
		t.Fatalf("GetPatternByID failed: %v", err)
	}
	if p.SuccessRate != 0.7 || !p.IsActive {
		t.Fatalf("cross-tenant mutation leaked: rate=%f active=%t", p.SuccessRate, p.IsActive)
	}
}

func TestGetLatestPatternTime(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")

	ts, err := GetLatestPatternTime(db, companyID)
	if err != nil {
		t.Fatalf("GetLatestPatternTime failed: %v", err)
	}
	if !ts.IsZero() {
		t.Fatalf("expected zero time for empty company, got %v", ts)
	}

	if _, err := InsertPattern(db, Pattern{
		CompanyID:   companyID,
		PatternType: PatternTypeWordUsage,
		Description: "Emerging words in successful responses: demo",
		IsActive:    true,
	}); err != nil {
		t.Fatalf("InsertPattern failed: %v", err)
	}
	ts, err = GetLatestPatternTime(db, companyID)
	if err != nil {
		t.Fatalf("GetLatestPatternTime failed: %v", err)
	}
	if ts.IsZero() {
		t.Fatalf("expected a timestamp after insert")
	}
}

func TestUsageCountsAndPurge(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")
	now := time.Now().UTC()

	usage := []PatternUsage{
		{PatternID: 1, CompanyID: companyID, Applied: true, CreatedAt: now.AddDate(0, 0, -1)},
		{PatternID: 1, CompanyID: companyID, Applied: false, CreatedAt: now.AddDate(0, 0, -2)},
		{PatternID: 1, CompanyID: companyID, Applied: true, CreatedAt: now.AddDate(0, 0, -120)},
	}
	for _, u := range usage {
		if err := InsertPatternUsage(db, u); err != nil {
			t.Fatalf("InsertPatternUsage failed: %v", err)
		}
	}

	count, err := CountUsageSince(db, companyID, 1, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("CountUsageSince failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 recent usage rows, got %d", count)
	}

	rate, total, err := UsageSuccessRateSince(db, companyID, 1, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("UsageSuccessRateSince failed: %v", err)
	}
	if total != 2 || rate != 0.5 {
		t.Fatalf("expected rate 0.5 over 2 rows, got rate=%f total=%d", rate, total)
	}

	purged, err := PurgeUsageOlderThan(db, now.AddDate(0, 0, -usagePurgeDays))
	if err != nil {
		t.Fatalf("PurgeUsageOlderThan failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged row, got %d", purged)
	}
}

func TestOutcomeAndResponseWindows(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")
	other := newTestCompany(t, db, "Other")
	now := time.Now().UTC()

	outcomes := []ConversationOutcome{
		{CompanyID: companyID, ConversationID: "c1", Outcome: outcomePurchase, ConversionTimeSeconds: 120, CreatedAt: now.AddDate(0, 0, -1)},
		{CompanyID: companyID, ConversationID: "c2", Outcome: outcomeAbandoned, ConversionTimeSeconds: 900, CreatedAt: now.AddDate(0, 0, -40)},
		{CompanyID: other, ConversationID: "c3", Outcome: outcomePurchase, ConversionTimeSeconds: 60, CreatedAt: now.AddDate(0, 0, -1)},
	}
	for _, o := range outcomes {
		if err := InsertConversationOutcome(db, o); err != nil {
			t.Fatalf("InsertConversationOutcome failed: %v", err)
		}
	}

	got, err := GetOutcomesSince(db, companyID, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("GetOutcomesSince failed: %v", err)
	}
	if len(got) != 1 || got[0].ConversationID != "c1" {
		t.Fatalf("expected only c1 in window, got %+v", got)
	}

	if err := InsertResponseEffectiveness(db, ResponseEffectiveness{
		CompanyID: companyID, ResponseText: "we guarantee free shipping",
		EffectivenessScore: 0.9, LeadToPurchase: true, WordCount: 4,
		CreatedAt: now.AddDate(0, 0, -1),
	}); err != nil {
		t.Fatalf("InsertResponseEffectiveness failed: %v", err)
	}
	responses, err := GetResponsesSince(db, other, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("GetResponsesSince failed: %v", err)
	}
	if len(responses) != 0 {
		t.Fatalf("expected no responses for other company, got %d", len(responses))
	}
}

func TestArchivedPatterns(t *testing.T) {
	db := newTestDB(t)
	companyID := newTestCompany(t, db, "Acme")

	if err := InsertArchivedPattern(db, companyID, 42, `{"id":42}`); err != nil {
		t.Fatalf("InsertArchivedPattern failed: %v", err)
	}
	count, err := CountArchivedPatterns(db, companyID)
	if err != nil {
		t.Fatalf("CountArchivedPatterns failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 archived pattern, got %d", count)
	}
}
