// Package resolve runs the analysis pipeline: preview resolution, remote
// detection, normalization, cache merge, and selection of the authoritative
// values, with per-track deduplication of concurrent work.
package resolve

import (
	"fmt"

	"github.com/sydlexius/cadence/internal/store"
)

// ErrIdentityMismatch describes a record whose resolved audio disagrees with
// the requested track's identity. A data-quality condition, not a
// computation failure: tempo is withheld until a human rules.
type ErrIdentityMismatch struct {
	TrackID string
}

func (e *ErrIdentityMismatch) Error() string {
	return fmt.Sprintf("identity mismatch for track %s: tempo withheld pending review", e.TrackID)
}

// Selection is the authoritative view of a record after applying selection
// precedence and mismatch suppression.
type Selection struct {
	Tempo           *float64
	TempoRaw        *float64
	TempoConfidence *float64
	Key             *string
	Scale           *string
	KeyConfidence   *float64
	Source          string
	Err             string
}

// Select applies the fixed precedence to a record: the explicitly selected
// field set when its value is present, else essentia, else aubio, else
// nothing. Tempo and key are selected independently, so an operator may pin
// tempo to manual while key stays algorithmic. An unresolved mismatch
// suppresses tempo entirely but leaves key and scale visible.
func Select(rec *store.CacheRecord) Selection {
	sel := Selection{Source: rec.Source}

	selectTempo(rec, &sel)
	selectKey(rec, &sel)

	if rec.Error != nil && *rec.Error != "" {
		sel.Err = *rec.Error
	}
	if rec.MismatchReads() {
		sel.Tempo = nil
		sel.TempoRaw = nil
		sel.TempoConfidence = nil
		sel.Err = (&ErrIdentityMismatch{TrackID: rec.TrackID}).Error()
	}

	return sel
}

func selectTempo(rec *store.CacheRecord, sel *Selection) {
	if rec.TempoSelected == store.SelectedManual && rec.ManualTempo != nil {
		sel.Tempo = rec.ManualTempo
		return
	}
	if rec.TempoSelected == store.SelectedAubio && rec.AubioTempo != nil {
		sel.Tempo = rec.AubioTempo
		sel.TempoRaw = rec.AubioTempoRaw
		sel.TempoConfidence = rec.AubioTempoConf
		return
	}
	if rec.EssentiaTempo != nil {
		sel.Tempo = rec.EssentiaTempo
		sel.TempoRaw = rec.EssentiaTempoRaw
		sel.TempoConfidence = rec.EssentiaTempoConf
		return
	}
	if rec.AubioTempo != nil {
		sel.Tempo = rec.AubioTempo
		sel.TempoRaw = rec.AubioTempoRaw
		sel.TempoConfidence = rec.AubioTempoConf
	}
}

func selectKey(rec *store.CacheRecord, sel *Selection) {
	if rec.KeySelected == store.SelectedManual && rec.ManualKey != nil {
		sel.Key = rec.ManualKey
		sel.Scale = rec.ManualScale
		return
	}
	if rec.KeySelected == store.SelectedAubio && rec.AubioKey != nil {
		sel.Key = rec.AubioKey
		sel.Scale = rec.AubioScale
		sel.KeyConfidence = rec.AubioKeyConf
		return
	}
	if rec.EssentiaKey != nil {
		sel.Key = rec.EssentiaKey
		sel.Scale = rec.EssentiaScale
		sel.KeyConfidence = rec.EssentiaKeyConf
		return
	}
	if rec.AubioKey != nil {
		sel.Key = rec.AubioKey
		sel.Scale = rec.AubioScale
		sel.KeyConfidence = rec.AubioKeyConf
	}
}
