package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxBatchISRCs bounds a single batch lookup by ISRC.
const MaxBatchISRCs = 200

// ErrNotFound is returned by operations that require an existing record.
var ErrNotFound = errors.New("record not found")

const recordColumns = `track_id, isrc, artist, title,
	essentia_tempo_raw, essentia_tempo, essentia_tempo_conf,
	aubio_tempo_raw, aubio_tempo, aubio_tempo_conf,
	essentia_key, essentia_scale, essentia_key_conf,
	aubio_key, aubio_scale, aubio_key_conf,
	manual_tempo, manual_key, manual_scale,
	tempo_selected, key_selected,
	candidates, source, error,
	isrc_mismatch, review_status, reviewed_by, reviewed_at,
	updated_at`

// Service provides cache record data operations.
type Service struct {
	db *sql.DB
}

// NewService creates a cache store service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Get retrieves a record by track ID. Returns nil, nil when absent.
func (s *Service) Get(ctx context.Context, trackID string) (*CacheRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE track_id = ?`, trackID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record by track id: %w", err)
	}
	return rec, nil
}

// GetBatchByISRC retrieves at most one record per ISRC in a single query,
// most-recently-updated winning when several tracks share an ISRC. ISRCs
// with no record are simply absent from the result map.
func (s *Service) GetBatchByISRC(ctx context.Context, isrcs []string) (map[string]*CacheRecord, error) {
	if len(isrcs) == 0 {
		return map[string]*CacheRecord{}, nil
	}
	if len(isrcs) > MaxBatchISRCs {
		return nil, fmt.Errorf("batch lookup limited to %d isrcs, got %d", MaxBatchISRCs, len(isrcs))
	}

	placeholders := strings.Repeat("?, ", len(isrcs)-1) + "?"
	args := make([]any, len(isrcs))
	for i, isrc := range isrcs {
		args[i] = strings.ToUpper(strings.TrimSpace(isrc))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE isrc IN (`+placeholders+`)
		 ORDER BY updated_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("batch lookup by isrc: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]*CacheRecord, len(isrcs))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if rec.ISRC == nil {
			continue
		}
		// Rows arrive newest first, so the first record per ISRC wins.
		if _, seen := out[*rec.ISRC]; !seen {
			out[*rec.ISRC] = rec
		}
	}
	return out, rows.Err()
}

// Merge applies a partial update, creating the record on first touch. Only
// fields present in the update are written; other algorithm fields, manual
// overrides, and review fields stay untouched. This is the mechanism by
// which re-running one algorithm never erases another's stored result.
func (s *Service) Merge(ctx context.Context, trackID string, u Update) error {
	if trackID == "" {
		return fmt.Errorf("track id is required")
	}

	now := time.Now().UTC()
	set := []string{"updated_at = ?"}
	args := []any{now.Format(time.RFC3339)}
	add := func(col string, v any) {
		set = append(set, col+" = ?")
		args = append(args, v)
	}

	if u.ISRC != nil {
		add("isrc", nullableString(strings.ToUpper(strings.TrimSpace(*u.ISRC))))
	}
	if u.Artist != nil {
		add("artist", *u.Artist)
	}
	if u.Title != nil {
		add("title", *u.Title)
	}

	for _, res := range u.Results {
		prefix, err := algorithmPrefix(res.Algorithm)
		if err != nil {
			return err
		}
		if res.TempoRaw != nil {
			add(prefix+"_tempo_raw", *res.TempoRaw)
		}
		if res.Tempo != nil {
			add(prefix+"_tempo", *res.Tempo)
		}
		if res.TempoConf != nil {
			add(prefix+"_tempo_conf", *res.TempoConf)
		}
		if res.Key != nil {
			add(prefix+"_key", *res.Key)
		}
		if res.Scale != nil {
			add(prefix+"_scale", *res.Scale)
		}
		if res.KeyConf != nil {
			add(prefix+"_key_conf", *res.KeyConf)
		}
	}

	if u.ManualTempo != nil {
		add("manual_tempo", *u.ManualTempo)
	}
	if u.ManualKey != nil {
		add("manual_key", *u.ManualKey)
	}
	if u.ManualScale != nil {
		add("manual_scale", *u.ManualScale)
	}

	if u.TempoSelected != nil {
		if !ValidSelected(*u.TempoSelected) {
			return fmt.Errorf("invalid tempo selection %q", *u.TempoSelected)
		}
		add("tempo_selected", string(*u.TempoSelected))
	}
	if u.KeySelected != nil {
		if !ValidSelected(*u.KeySelected) {
			return fmt.Errorf("invalid key selection %q", *u.KeySelected)
		}
		add("key_selected", string(*u.KeySelected))
	}

	if u.Candidates != nil {
		js, err := json.Marshal(u.Candidates)
		if err != nil {
			return fmt.Errorf("encoding candidates: %w", err)
		}
		add("candidates", string(js))
	}
	if u.Source != nil {
		add("source", *u.Source)
	}
	if u.Error != nil {
		add("error", nullableString(*u.Error))
	}
	if u.Mismatch != nil {
		add("isrc_mismatch", boolToInt(*u.Mismatch))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (track_id, updated_at) VALUES (?, ?)
		ON CONFLICT(track_id) DO NOTHING
	`, trackID, now.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("ensuring record exists: %w", err)
	}

	query := "UPDATE records SET " + strings.Join(set, ", ") + " WHERE track_id = ?"
	if _, err := tx.ExecContext(ctx, query, append(args, trackID)...); err != nil {
		return fmt.Errorf("merging record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}
	return nil
}

// SetReview writes the human review decision. Review mutations deliberately
// do not bump updated_at: a decision must not extend the record's TTL.
// Status ReviewNone clears the review fields entirely (re-opening review).
func (s *Service) SetReview(ctx context.Context, trackID string, status ReviewStatus, reviewedBy string) error {
	var result sql.Result
	var err error

	if status == ReviewNone {
		result, err = s.db.ExecContext(ctx, `
			UPDATE records SET review_status = NULL, reviewed_by = NULL, reviewed_at = NULL
			WHERE track_id = ?
		`, trackID)
	} else {
		if status != ReviewMatch && status != ReviewMismatch {
			return fmt.Errorf("invalid review status %q", status)
		}
		result, err = s.db.ExecContext(ctx, `
			UPDATE records SET review_status = ?, reviewed_by = ?, reviewed_at = ?
			WHERE track_id = ?
		`, string(status), reviewedBy, time.Now().UTC().Format(time.RFC3339), trackID)
	}
	if err != nil {
		return fmt.Errorf("setting review: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, trackID)
	}
	return nil
}

// Invalidate deletes records for the given track IDs, forcing recomputation
// on next read. Returns the number of records removed.
func (s *Service) Invalidate(ctx context.Context, trackIDs []string) (int64, error) {
	if len(trackIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?, ", len(trackIDs)-1) + "?"
	args := make([]any, len(trackIDs))
	for i, id := range trackIDs {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE track_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidating records: %w", err)
	}
	return result.RowsAffected()
}

// CacheStats is a point-in-time summary of the cache, logged periodically
// and useful when sizing TTLs.
type CacheStats struct {
	Records       int64 `json:"records"`
	Failures      int64 `json:"failures"`
	PendingReview int64 `json:"pending_review"`
}

// Stats counts records, cached failures and unreviewed mismatch flags in one
// query.
func (s *Service) Stats(ctx context.Context) (CacheStats, error) {
	var st CacheStats
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(error),
		SUM(CASE WHEN isrc_mismatch = 1 AND (review_status IS NULL OR review_status = '') THEN 1 ELSE 0 END)
		FROM records`)
	var pending sql.NullInt64
	if err := row.Scan(&st.Records, &st.Failures, &pending); err != nil {
		return CacheStats{}, fmt.Errorf("collecting cache stats: %w", err)
	}
	st.PendingReview = pending.Int64
	return st, nil
}

// algorithmPrefix maps an algorithm tag to its column prefix.
func algorithmPrefix(tag string) (string, error) {
	switch tag {
	case "essentia", "aubio":
		return tag, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", tag)
	}
}

// scanRecord scans a database row into a CacheRecord.
func scanRecord(row interface{ Scan(...any) error }) (*CacheRecord, error) {
	var rec CacheRecord
	var isrc, essKey, essScale, aubKey, aubScale sql.NullString
	var manKey, manScale, errMsg, reviewStatus, reviewedBy, reviewedAt sql.NullString
	var essRaw, essTempo, essTempoConf, essKeyConf sql.NullFloat64
	var aubRaw, aubTempo, aubTempoConf, aubKeyConf sql.NullFloat64
	var manTempo sql.NullFloat64
	var tempoSel, keySel, candidates, updatedAt string
	var mismatch int

	err := row.Scan(
		&rec.TrackID, &isrc, &rec.Artist, &rec.Title,
		&essRaw, &essTempo, &essTempoConf,
		&aubRaw, &aubTempo, &aubTempoConf,
		&essKey, &essScale, &essKeyConf,
		&aubKey, &aubScale, &aubKeyConf,
		&manTempo, &manKey, &manScale,
		&tempoSel, &keySel,
		&candidates, &rec.Source, &errMsg,
		&mismatch, &reviewStatus, &reviewedBy, &reviewedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ISRC = stringPtr(isrc)
	rec.EssentiaTempoRaw = floatPtr(essRaw)
	rec.EssentiaTempo = floatPtr(essTempo)
	rec.EssentiaTempoConf = floatPtr(essTempoConf)
	rec.AubioTempoRaw = floatPtr(aubRaw)
	rec.AubioTempo = floatPtr(aubTempo)
	rec.AubioTempoConf = floatPtr(aubTempoConf)
	rec.EssentiaKey = stringPtr(essKey)
	rec.EssentiaScale = stringPtr(essScale)
	rec.EssentiaKeyConf = floatPtr(essKeyConf)
	rec.AubioKey = stringPtr(aubKey)
	rec.AubioScale = stringPtr(aubScale)
	rec.AubioKeyConf = floatPtr(aubKeyConf)
	rec.ManualTempo = floatPtr(manTempo)
	rec.ManualKey = stringPtr(manKey)
	rec.ManualScale = stringPtr(manScale)
	rec.TempoSelected = Selected(tempoSel)
	rec.KeySelected = Selected(keySel)
	rec.Error = stringPtr(errMsg)
	rec.ISRCMismatch = mismatch != 0
	if reviewStatus.Valid {
		rec.ReviewStatus = ReviewStatus(reviewStatus.String)
	}
	rec.ReviewedBy = stringPtr(reviewedBy)
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		rec.ReviewedAt = &t
	}
	rec.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(candidates), &rec.Candidates); err != nil {
		return nil, fmt.Errorf("decoding candidates: %w", err)
	}

	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
