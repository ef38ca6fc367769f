// Package dedup matches incoming provider transactions against manually
// entered expenses so the same real-world spend is never counted twice.
//
// The heuristic is deliberately simple and explainable: an index keyed by
// (rounded absolute amount, ISO date) probed with small tolerance bands.
// False negatives (a duplicate slipping through) are tolerated in favor of
// zero false positives, since there is no correction path once both records
// persist.
package dedup

import (
	"time"

	"github.com/shopspring/decimal"
	"gitlab.com/yelinaung/finsync/internal/models"
)

// Default tolerance bands. Heuristic constants, tunable via Options.
const (
	DefaultAmountTolerance = 1
	DefaultDateTolerance   = 1
)

// Options tunes the tolerance bands.
type Options struct {
	// AmountTolerance is the slack in whole currency units applied at the
	// same date, covering rounding and fee differences.
	AmountTolerance int
	// DateToleranceDays is the slack in days applied at the exact amount,
	// covering timezone and settlement-date skew. Only probed when
	// AllowDateTolerance is set on the matcher call path.
	DateToleranceDays int
}

// DefaultOptions returns the standard tolerance bands.
func DefaultOptions() Options {
	return Options{
		AmountTolerance:   DefaultAmountTolerance,
		DateToleranceDays: DefaultDateTolerance,
	}
}

// MatchConfidence grades how a duplicate was found.
type MatchConfidence string

// Match confidences, strongest first.
const (
	MatchExact           MatchConfidence = "exact"
	MatchAmountTolerance MatchConfidence = "amount_tolerance"
	MatchDateTolerance   MatchConfidence = "date_tolerance"
)

// Match is a positive duplicate verdict.
type Match struct {
	Expense    *models.Expense
	Confidence MatchConfidence
}

// Matcher indexes a user's manual expenses for duplicate probing.
type Matcher struct {
	opts  Options
	index map[string][]*models.Expense
}

// NewMatcher builds the index over manual expenses. Records from other
// sources are ignored so open-finance expenses never suppress each other
// (the external-id upsert already covers those).
func NewMatcher(manual []models.Expense, opts Options) *Matcher {
	m := &Matcher{
		opts:  opts,
		index: make(map[string][]*models.Expense),
	}
	for i := range manual {
		if manual[i].Source != models.ExpenseSourceManual {
			continue
		}
		k := key(manual[i].Amount, manual[i].Date)
		m.index[k] = append(m.index[k], &manual[i])
	}
	return m
}

// Find probes for a manual expense describing the same spend as the
// transaction. withDateTolerance additionally probes ±DateToleranceDays at
// the exact amount; the webhook and cron paths enable it for settlement-date
// skew.
func (m *Matcher) Find(amount decimal.Decimal, date time.Time, withDateTolerance bool) (Match, bool) {
	rounded := amount.Abs().Round(0)

	// Exact key first: highest confidence.
	if exp, ok := m.probe(rounded, date); ok {
		return Match{Expense: exp, Confidence: MatchExact}, true
	}

	// Amount tolerance at the same date.
	for delta := 1; delta <= m.opts.AmountTolerance; delta++ {
		d := decimal.NewFromInt(int64(delta))
		if exp, ok := m.probe(rounded.Sub(d), date); ok {
			return Match{Expense: exp, Confidence: MatchAmountTolerance}, true
		}
		if exp, ok := m.probe(rounded.Add(d), date); ok {
			return Match{Expense: exp, Confidence: MatchAmountTolerance}, true
		}
	}

	// Date tolerance at the exact amount.
	if withDateTolerance {
		for delta := 1; delta <= m.opts.DateToleranceDays; delta++ {
			if exp, ok := m.probe(rounded, date.AddDate(0, 0, -delta)); ok {
				return Match{Expense: exp, Confidence: MatchDateTolerance}, true
			}
			if exp, ok := m.probe(rounded, date.AddDate(0, 0, delta)); ok {
				return Match{Expense: exp, Confidence: MatchDateTolerance}, true
			}
		}
	}

	return Match{}, false
}

// IsDuplicate is a convenience wrapper over Find for callers that only need
// the verdict.
func (m *Matcher) IsDuplicate(tx *models.RawTransaction, withDateTolerance bool) bool {
	_, ok := m.Find(tx.Amount, tx.Date, withDateTolerance)
	return ok
}

func (m *Matcher) probe(roundedAmount decimal.Decimal, date time.Time) (*models.Expense, bool) {
	if roundedAmount.IsNegative() {
		return nil, false
	}
	candidates := m.index[roundedAmount.String()+"|"+date.Format("2006-01-02")]
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[0], true
}

func key(amount decimal.Decimal, date time.Time) string {
	return amount.Abs().Round(0).String() + "|" + date.Format("2006-01-02")
}
