// Package pricing resolves the PricingRecord effective at a given time for
// a model and computes cost in nano-USD (§4.F).
package pricing

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Record mirrors §3's PricingRecord. EffectiveUntil is the zero time when
// the record is open-ended (at most one such record may exist per model —
// enforced by AddRecord).
type Record struct {
	ModelID             string
	InputNanoUSDPerTok  int64
	OutputNanoUSDPerTok int64
	ContextLength       int
	EffectiveFrom       time.Time
	EffectiveUntil      time.Time // zero value means "open-ended"
}

func (r Record) contains(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveUntil.IsZero() {
		return true
	}
	return t.Before(r.EffectiveUntil)
}

// Table holds the per-model sorted interval lists and enforces the
// non-overlap invariant on insert (§3, §8 "pricing monotonicity").
type Table struct {
	mu      sync.RWMutex
	records map[string][]Record // sorted by EffectiveFrom ascending
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{records: make(map[string][]Record)}
}

// AddRecord inserts r, rejecting it if it would violate the non-overlap
// invariant for r.ModelID: intervals [effective_from, effective_until) for
// a given model are non-overlapping, and at most one record may be
// open-ended.
func (t *Table) AddRecord(r Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.records[r.ModelID] {
		if overlaps(existing, r) {
			return fmt.Errorf("pricing record for %q [%s, %s) overlaps existing interval [%s, %s)",
				r.ModelID, r.EffectiveFrom, formatUntil(r.EffectiveUntil),
				existing.EffectiveFrom, formatUntil(existing.EffectiveUntil))
		}
	}

	t.records[r.ModelID] = append(t.records[r.ModelID], r)
	sort.Slice(t.records[r.ModelID], func(i, j int) bool {
		return t.records[r.ModelID][i].EffectiveFrom.Before(t.records[r.ModelID][j].EffectiveFrom)
	})
	return nil
}

func formatUntil(t time.Time) string {
	if t.IsZero() {
		return "∞"
	}
	return t.String()
}

func overlaps(a, b Record) bool {
	aUntil := a.EffectiveUntil
	bUntil := b.EffectiveUntil

	aOpen := aUntil.IsZero()
	bOpen := bUntil.IsZero()

	if aOpen && bOpen {
		return true
	}
	if aOpen {
		return bUntil.After(a.EffectiveFrom)
	}
	if bOpen {
		return aUntil.After(b.EffectiveFrom)
	}
	return a.EffectiveFrom.Before(bUntil) && b.EffectiveFrom.Before(aUntil)
}

// GetPricingAt returns the record whose interval contains t, or
// ok=false if none does.
func (t *Table) GetPricingAt(modelID string, at time.Time) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := t.records[modelID]
	// Binary search for the last record with EffectiveFrom <= at, then
	// check containment — records are sorted ascending and non-overlapping,
	// so at most one can contain `at`.
	i := sort.Search(len(records), func(i int) bool {
		return records[i].EffectiveFrom.After(at)
	})
	if i == 0 {
		return Record{}, false
	}
	candidate := records[i-1]
	if candidate.contains(at) {
		return candidate, true
	}
	return Record{}, false
}

// CostNanoUSD computes input_tokens × in_rate + output_tokens × out_rate.
func CostNanoUSD(r Record, inputTokens, outputTokens int) int64 {
	return int64(inputTokens)*r.InputNanoUSDPerTok + int64(outputTokens)*r.OutputNanoUSDPerTok
}
