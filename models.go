package main

import "time"

// Pattern type identifiers stored in patterns.pattern_type.
const (
	PatternTypeWordUsage     = "word_usage"
	PatternTypeTiming        = "timing"
	PatternTypeResponseStyle = "response_style"
	PatternTypeEmotionalTone = "emotional_tone"
	PatternTypeEmergingWords = "emerging_words"
	PatternTypeAIAnalysis    = "ai_analysis"
)

// AllPatternTypes lists every type the analyzer can be asked for.
var AllPatternTypes = []string{
	PatternTypeWordUsage,
	PatternTypeTiming,
	PatternTypeResponseStyle,
	PatternTypeEmotionalTone,
}

type Pattern struct {
	ID              int64
	CompanyID       int64
	PatternType     string
	Pattern         string // serialized payload, opaque to storage
	Description     string
	SuccessRate     float64 // clamped to [0,1] at every write site
	SampleSize      int
	ConfidenceLevel float64 // clamped to [0,1] at every write site
	IsActive        bool
	IsApproved      bool
	Metadata        string // JSON: provenance, merge history, reasoning
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PatternUsage is evidence of a pattern being applied to a live
// interaction. Rows older than 90 days are purged by daily maintenance.
type PatternUsage struct {
	ID        int64
	PatternID int64
	CompanyID int64
	Applied   bool
	CreatedAt time.Time
}

// ConversationOutcome is a read-only input row: one conversation's result.
type ConversationOutcome struct {
	ID                    int64
	CompanyID             int64
	ConversationID        string
	Outcome               string // "purchase", "abandoned", ...
	ConversionTimeSeconds float64
	CreatedAt             time.Time
}

// ResponseEffectiveness is a read-only input row: one response's scoring.
type ResponseEffectiveness struct {
	ID                 int64
	CompanyID          int64
	ResponseText       string
	EffectivenessScore float64
	LeadToPurchase     bool
	SentimentScore     float64
	WordCount          int
	CreatedAt          time.Time
}

type Company struct {
	ID        int64
	Name      string
	IsActive  bool
	Settings  string // opaque JSON blob, read-modify-write only
	CreatedAt time.Time
}

// Detection rule constants. Only the significance ratio and the
// strength floor are configurable; the rest are fixed product rules.
const (
	emergingWordMinOccurrences = 3
	defaultSignificanceRatio   = 1.5
	timingMinDeltaSeconds      = 300 // 5 minutes
	timingMinSamplesPerSide    = 3
	styleMinWordDelta          = 5
	styleMinSamplesPerSide     = 5
	toneMinDelta               = 0.2
	toneMinSamplesPerSide      = 5
	defaultMinStrength         = 0.4
)

const (
	outcomePurchase  = "purchase"
	outcomeAbandoned = "abandoned"
)

// Cohort membership cut lines and maintenance horizons.
const (
	effectiveScoreFloor     = 0.7
	ineffectiveScoreCeil    = 0.4
	unusedPatternCutoffDays = 30
	usagePurgeDays          = 90
	archiveAfterMonths      = 6
)
