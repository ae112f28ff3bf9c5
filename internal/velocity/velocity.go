// Package velocity provides the sliding-window primitives used by windowed detectors.
//
// Windows are half-open: a record at exactly Start is inside, a record at
// exactly End is not. A window is anchored at a record's timestamp and spans
// the configured width; the span is every record whose timestamp falls in it.
package velocity

import (
	"iter"
	"slices"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Span is the run of records that fall inside one window.
type Span struct {
	Window  domain.Window
	Records []*domain.TransactionRecord
}

// Count returns the number of records in the span.
func (s Span) Count() int {
	return len(s.Records)
}

// Sum returns the total value of the span.
func (s Span) Sum() float64 {
	var total float64
	for _, r := range s.Records {
		total += r.Value
	}
	return total
}

// Receivers returns the number of distinct receivers in the span.
func (s Span) Receivers() int {
	seen := make(map[string]struct{}, len(s.Records))
	for _, r := range s.Records {
		if r.HasReceiver() {
			seen[r.To] = struct{}{}
		}
	}
	return len(seen)
}

// Collect drains seq into a slice ordered by timestamp. Records with equal
// timestamps keep their append order.
func Collect(seq iter.Seq[*domain.TransactionRecord]) []*domain.TransactionRecord {
	recs := slices.Collect(seq)
	slices.SortStableFunc(recs, func(a, b *domain.TransactionRecord) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return recs
}

// Filter returns the records for which keep returns true, preserving order.
func Filter(recs []*domain.TransactionRecord, keep func(*domain.TransactionRecord) bool) []*domain.TransactionRecord {
	out := make([]*domain.TransactionRecord, 0, len(recs))
	for _, r := range recs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// At returns the span of the window of the given width anchored at recs[i].
// recs must be ordered by timestamp.
func At(recs []*domain.TransactionRecord, i int, width time.Duration) Span {
	w := domain.NewWindow(recs[i].Timestamp, width)
	j := i
	for j < len(recs) && w.Contains(recs[j].Timestamp) {
		j++
	}
	return Span{Window: w, Records: recs[i:j]}
}

// Scan slides a window of the given width across recs, which must be ordered
// by timestamp, and yields every span that match accepts.
//
// Each record anchors a candidate window in turn. When a span matches, it is
// yielded and scanning resumes after its last record, so yielded spans never
// share a record. A non-matching span advances the anchor by one record.
func Scan(recs []*domain.TransactionRecord, width time.Duration, match func(Span) bool) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if width <= 0 {
			return
		}
		for i := 0; i < len(recs); {
			span := At(recs, i, width)
			if !match(span) {
				i++
				continue
			}
			if !yield(span) {
				return
			}
			i += span.Count()
		}
	}
}

// CountIn returns how many records of recs fall inside w.
func CountIn(recs []*domain.TransactionRecord, w domain.Window) int {
	n := 0
	for _, r := range recs {
		if w.Contains(r.Timestamp) {
			n++
		}
	}
	return n
}
