// Package store persists per-track analysis records in sqlite. All mutation
// goes through field-level merge so concurrent algorithm results never
// clobber each other.
package store

import "time"

// Selected names which field set is authoritative for tempo or key.
type Selected string

// Valid Selected values.
const (
	SelectedEssentia Selected = "essentia"
	SelectedAubio    Selected = "aubio"
	SelectedManual   Selected = "manual"
)

// ValidSelected reports whether s is an allowed selection value.
func ValidSelected(s Selected) bool {
	switch s {
	case SelectedEssentia, SelectedAubio, SelectedManual:
		return true
	default:
		return false
	}
}

// ReviewStatus is the human review decision on a flagged identity mismatch.
// Empty means no human has ruled yet.
type ReviewStatus string

// Review decisions.
const (
	ReviewNone     ReviewStatus = ""
	ReviewMatch    ReviewStatus = "match"
	ReviewMismatch ReviewStatus = "mismatch"
)

// Candidate is one recorded preview source attempt, persisted as JSON in the
// candidates column.
type Candidate struct {
	URL            string `json:"url,omitempty"`
	Source         string `json:"source"`
	Success        bool   `json:"success"`
	DetectedISRC   string `json:"detected_isrc,omitempty"`
	DetectedTitle  string `json:"detected_title,omitempty"`
	DetectedArtist string `json:"detected_artist,omitempty"`
	Err            string `json:"error,omitempty"`
}

// CacheRecord is one track's full analysis state. Nullable columns map to
// pointer fields.
type CacheRecord struct {
	TrackID string
	ISRC    *string
	Artist  string
	Title   string

	EssentiaTempoRaw  *float64
	EssentiaTempo     *float64
	EssentiaTempoConf *float64
	AubioTempoRaw     *float64
	AubioTempo        *float64
	AubioTempoConf    *float64

	EssentiaKey     *string
	EssentiaScale   *string
	EssentiaKeyConf *float64
	AubioKey        *string
	AubioScale      *string
	AubioKeyConf    *float64

	ManualTempo *float64
	ManualKey   *string
	ManualScale *string

	TempoSelected Selected
	KeySelected   Selected

	Candidates []Candidate
	Source     string
	Error      *string

	ISRCMismatch bool
	ReviewStatus ReviewStatus
	ReviewedBy   *string
	ReviewedAt   *time.Time

	UpdatedAt time.Time
}

// AlgorithmResult is one algorithm's merged contribution. Nil fields are
// left untouched in the stored record.
type AlgorithmResult struct {
	Algorithm string
	TempoRaw  *float64
	Tempo     *float64
	TempoConf *float64
	Key       *string
	Scale     *string
	KeyConf   *float64
}

// Update is a partial record mutation. Only non-nil fields are written;
// review fields are deliberately absent (SetReview owns them). Candidates,
// when non-nil, replaces the stored list wholesale: each resolution run
// records its complete attempt set, it never accumulates across runs.
type Update struct {
	ISRC   *string
	Artist *string
	Title  *string

	Results []AlgorithmResult

	ManualTempo *float64
	ManualKey   *string
	ManualScale *string

	TempoSelected *Selected
	KeySelected   *Selected

	Candidates []Candidate
	Source     *string
	// Error set to the empty string clears the stored error.
	Error *string

	Mismatch *bool
}

// MismatchReads reports the mismatch flag as consumers must see it: a human
// confirmed-match suppresses the automatic flag permanently.
func (r *CacheRecord) MismatchReads() bool {
	return r.ISRCMismatch && r.ReviewStatus != ReviewMatch
}

// PendingReview reports whether the record is flagged and no human has ruled.
func (r *CacheRecord) PendingReview() bool {
	return r.ISRCMismatch && r.ReviewStatus == ReviewNone
}

// HasSelectedTempo reports whether the selection precedence resolves to a
// present tempo value.
func (r *CacheRecord) HasSelectedTempo() bool {
	if r.TempoSelected == SelectedManual && r.ManualTempo != nil {
		return true
	}
	if r.TempoSelected == SelectedAubio && r.AubioTempo != nil {
		return true
	}
	return r.EssentiaTempo != nil || r.AubioTempo != nil
}

// Fresh reports whether the record is servable from cache without
// recomputation. Evaluated at read time so TTL policy changes apply
// retroactively. A record carrying an error is a cached failure and stays
// servable-as-failure only within the short failure TTL; a flagged record
// awaiting review is never fresh, so re-resolution keeps running while the
// flag stands.
func Fresh(r *CacheRecord, now time.Time, ttl, failureTTL time.Duration) bool {
	if r == nil {
		return false
	}
	age := now.Sub(r.UpdatedAt)
	if r.Error != nil && *r.Error != "" {
		return age < failureTTL
	}
	if !r.HasSelectedTempo() {
		return false
	}
	if r.PendingReview() {
		return false
	}
	return age < ttl
}
