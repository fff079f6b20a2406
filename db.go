package main

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		is_active  INTEGER NOT NULL DEFAULT 1,
		settings   TEXT DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS patterns (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id       INTEGER NOT NULL,
		pattern_type     TEXT NOT NULL,
		pattern          TEXT DEFAULT '',
		description      TEXT NOT NULL,
		success_rate     REAL NOT NULL DEFAULT 0,
		sample_size      INTEGER NOT NULL DEFAULT 0,
		confidence_level REAL NOT NULL DEFAULT 0,
		is_active        INTEGER NOT NULL DEFAULT 1,
		is_approved      INTEGER NOT NULL DEFAULT 0,
		metadata         TEXT DEFAULT '{}',
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_company ON patterns(company_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_patterns_type ON patterns(company_id, pattern_type);

	CREATE TABLE IF NOT EXISTS pattern_usage (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_id INTEGER NOT NULL,
		company_id INTEGER NOT NULL,
		applied    INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_usage_pattern ON pattern_usage(pattern_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_company ON pattern_usage(company_id, created_at);

	CREATE TABLE IF NOT EXISTS conversation_outcomes (
		id                      INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id              INTEGER NOT NULL,
		conversation_id         TEXT NOT NULL DEFAULT '',
		outcome                 TEXT NOT NULL,
		conversion_time_seconds REAL NOT NULL DEFAULT 0,
		created_at              DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_company ON conversation_outcomes(company_id, created_at);

	CREATE TABLE IF NOT EXISTS response_effectiveness (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		company_id          INTEGER NOT NULL,
		response_text       TEXT NOT NULL,
		effectiveness_score REAL NOT NULL DEFAULT 0,
		lead_to_purchase    INTEGER NOT NULL DEFAULT 0,
		sentiment_score     REAL NOT NULL DEFAULT 0,
		word_count          INTEGER NOT NULL DEFAULT 0,
		created_at          DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_responses_company ON response_effectiveness(company_id, created_at);

	CREATE TABLE IF NOT EXISTS archived_patterns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern_id  INTEGER NOT NULL,
		company_id  INTEGER NOT NULL,
		payload     TEXT NOT NULL,
		archived_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_archived_company ON archived_patterns(company_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// --- Companies ---

func InsertCompany(db *sql.DB, c Company) (int64, error) {
	settings := c.Settings
	if settings == "" {
		settings = "{}"
	}
	res, err := db.Exec(
		`INSERT INTO companies (name, is_active, settings) VALUES (?, ?, ?)`,
		c.Name, c.IsActive, settings,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func CompanyExists(db *sql.DB, companyID int64) (bool, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM companies WHERE id = ?`, companyID).Scan(&count)
	return count > 0, err
}

func ListActiveCompanyIDs(db *sql.DB) ([]int64, error) {
	rows, err := db.Query(`SELECT id FROM companies WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func GetCompanySettings(db *sql.DB, companyID int64) (string, error) {
	var settings string
	err := db.QueryRow(`SELECT COALESCE(settings, '{}') FROM companies WHERE id = ?`, companyID).Scan(&settings)
	return settings, err
}

func UpdateCompanySettings(db *sql.DB, companyID int64, settings string) error {
	_, err := db.Exec(`UPDATE companies SET settings = ? WHERE id = ?`, settings, companyID)
	return err
}

// --- Patterns ---

const patternColumns = `id, company_id, pattern_type, pattern, description, success_rate,
	sample_size, confidence_level, is_active, is_approved, metadata, created_at, updated_at`

func scanPattern(row interface{ Scan(...any) error }) (Pattern, error) {
	var p Pattern
	err := row.Scan(
		&p.ID, &p.CompanyID, &p.PatternType, &p.Pattern, &p.Description, &p.SuccessRate,
		&p.SampleSize, &p.ConfidenceLevel, &p.IsActive, &p.IsApproved, &p.Metadata,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func InsertPattern(db *sql.DB, p Pattern) (int64, error) {
	metadata := p.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	res, err := db.Exec(
		`INSERT INTO patterns (company_id, pattern_type, pattern, description, success_rate,
		 sample_size, confidence_level, is_active, is_approved, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.CompanyID, p.PatternType, p.Pattern, p.Description, clamp01(p.SuccessRate),
		p.SampleSize, clamp01(p.ConfidenceLevel), p.IsActive, p.IsApproved, metadata,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetPatternByID(db *sql.DB, id int64) (Pattern, error) {
	return scanPattern(db.QueryRow(
		`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id,
	))
}

func GetActivePatterns(db *sql.DB, companyID int64) ([]Pattern, error) {
	rows, err := db.Query(
		`SELECT `+patternColumns+` FROM patterns
		 WHERE company_id = ? AND is_active = 1
		 ORDER BY id`,
		companyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// UpdatePatternMerge rewrites the merge-mutable columns of a pattern.
// The company_id predicate is deliberate: a merge may never cross tenants.
func UpdatePatternMerge(db *sql.DB, companyID, id int64, successRate float64, sampleSize int, metadata string) error {
	_, err := db.Exec(
		`UPDATE patterns
		 SET success_rate = ?, sample_size = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		clamp01(successRate), sampleSize, metadata, id, companyID,
	)
	return err
}

func UpdatePatternSuccessRate(db *sql.DB, companyID, id int64, successRate float64) error {
	_, err := db.Exec(
		`UPDATE patterns SET success_rate = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		clamp01(successRate), id, companyID,
	)
	return err
}

func DeactivatePattern(db *sql.DB, companyID, id int64) error {
	_, err := db.Exec(
		`UPDATE patterns SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND company_id = ?`,
		id, companyID,
	)
	return err
}

func DeletePattern(db *sql.DB, companyID, id int64) error {
	_, err := db.Exec(`DELETE FROM patterns WHERE id = ? AND company_id = ?`, id, companyID)
	return err
}

// GetLatestPatternTime returns the newest pattern created_at for a
// company, or the zero time when the company has no patterns yet.
func GetLatestPatternTime(db *sql.DB, companyID int64) (time.Time, error) {
	var ts sql.NullTime
	err := db.QueryRow(
		`SELECT MAX(created_at) FROM patterns WHERE company_id = ?`, companyID,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

// GetInactivePatternsOlderThan returns inactive patterns created before
// the cutoff, candidates for monthly archiving.
func GetInactivePatternsOlderThan(db *sql.DB, companyID int64, cutoff time.Time) ([]Pattern, error) {
	rows, err := db.Query(
		`SELECT `+patternColumns+` FROM patterns
		 WHERE company_id = ? AND is_active = 0 AND created_at < ?
		 ORDER BY id`,
		companyID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// --- Pattern usage ---

func InsertPatternUsage(db *sql.DB, u PatternUsage) error {
	if u.CreatedAt.IsZero() {
		_, err := db.Exec(
			`INSERT INTO pattern_usage (pattern_id, company_id, applied) VALUES (?, ?, ?)`,
			u.PatternID, u.CompanyID, u.Applied,
		)
		return err
	}
	_, err := db.Exec(
		`INSERT INTO pattern_usage (pattern_id, company_id, applied, created_at) VALUES (?, ?, ?, ?)`,
		u.PatternID, u.CompanyID, u.Applied, u.CreatedAt,
	)
	return err
}

func CountUsageSince(db *sql.DB, companyID, patternID int64, since time.Time) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM pattern_usage
		 WHERE pattern_id = ? AND company_id = ? AND created_at >= ?`,
		patternID, companyID, since,
	).Scan(&count)
	return count, err
}

// UsageSuccessRateSince returns applied/total over recent usage rows
// along with the total, so callers can skip patterns with no evidence.
func UsageSuccessRateSince(db *sql.DB, companyID, patternID int64, since time.Time) (float64, int, error) {
	var total, applied int
	err := db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN applied = 1 THEN 1 ELSE 0 END), 0)
		 FROM pattern_usage
		 WHERE pattern_id = ? AND company_id = ? AND created_at >= ?`,
		patternID, companyID, since,
	).Scan(&total, &applied)
	if err != nil || total == 0 {
		return 0, total, err
	}
	return float64(applied) / float64(total), total, nil
}

func PurgeUsageOlderThan(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM pattern_usage WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func DeleteUsageForPattern(db *sql.DB, companyID, patternID int64) error {
	_, err := db.Exec(
		`DELETE FROM pattern_usage WHERE pattern_id = ? AND company_id = ?`,
		patternID, companyID,
	)
	return err
}

// --- Interaction inputs ---

func InsertConversationOutcome(db *sql.DB, o ConversationOutcome) error {
	if o.CreatedAt.IsZero() {
		_, err := db.Exec(
			`INSERT INTO conversation_outcomes (company_id, conversation_id, outcome, conversion_time_seconds)
			 VALUES (?, ?, ?, ?)`,
			o.CompanyID, o.ConversationID, o.Outcome, o.ConversionTimeSeconds,
		)
		return err
	}
	_, err := db.Exec(
		`INSERT INTO conversation_outcomes (company_id, conversation_id, outcome, conversion_time_seconds, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		o.CompanyID, o.ConversationID, o.Outcome, o.ConversionTimeSeconds, o.CreatedAt,
	)
	return err
}

func GetOutcomesSince(db *sql.DB, companyID int64, since time.Time) ([]ConversationOutcome, error) {
	rows, err := db.Query(
		`SELECT id, company_id, conversation_id, outcome, conversion_time_seconds, created_at
		 FROM conversation_outcomes
		 WHERE company_id = ? AND created_at >= ?
		 ORDER BY created_at, id`,
		companyID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []ConversationOutcome
	for rows.Next() {
		var o ConversationOutcome
		if err := rows.Scan(&o.ID, &o.CompanyID, &o.ConversationID, &o.Outcome,
			&o.ConversionTimeSeconds, &o.CreatedAt); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func InsertResponseEffectiveness(db *sql.DB, r ResponseEffectiveness) error {
	if r.CreatedAt.IsZero() {
		_, err := db.Exec(
			`INSERT INTO response_effectiveness
			 (company_id, response_text, effectiveness_score, lead_to_purchase, sentiment_score, word_count)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.CompanyID, r.ResponseText, r.EffectivenessScore, r.LeadToPurchase, r.SentimentScore, r.WordCount,
		)
		return err
	}
	_, err := db.Exec(
		`INSERT INTO response_effectiveness
		 (company_id, response_text, effectiveness_score, lead_to_purchase, sentiment_score, word_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.CompanyID, r.ResponseText, r.EffectivenessScore, r.LeadToPurchase, r.SentimentScore, r.WordCount, r.CreatedAt,
	)
	return err
}

func GetResponsesSince(db *sql.DB, companyID int64, since time.Time) ([]ResponseEffectiveness, error) {
	rows, err := db.Query(
		`SELECT id, company_id, response_text, effectiveness_score, lead_to_purchase, sentiment_score, word_count, created_at
		 FROM response_effectiveness
		 WHERE company_id = ? AND created_at >= ?
		 ORDER BY created_at, id`,
		companyID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []ResponseEffectiveness
	for rows.Next() {
		var r ResponseEffectiveness
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.ResponseText, &r.EffectivenessScore,
			&r.LeadToPurchase, &r.SentimentScore, &r.WordCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// --- Archive ---

func InsertArchivedPattern(db *sql.DB, companyID, patternID int64, payload string) error {
	_, err := db.Exec(
		`INSERT INTO archived_patterns (pattern_id, company_id, payload) VALUES (?, ?, ?)`,
		patternID, companyID, payload,
	)
	return err
}

func CountArchivedPatterns(db *sql.DB, companyID int64) (int, error) {
	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM archived_patterns WHERE company_id = ?`, companyID,
	).Scan(&count)
	return count, err
}
