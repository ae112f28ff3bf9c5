package anomaly

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

func (s *Suite) largeTransactions(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	band := s.cfg.LargeValue
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.Anomaly, bool) {
		sev, ok := rules.Classify(band, rec.Value)
		if !ok {
			return nil, false
		}
		return domain.LargeTransaction{
			Evidence: domain.Evidence{
				Address:  rec.From,
				Severity: sev,
				Records:  []*domain.TransactionRecord{rec},
				Reasons:  []string{fmt.Sprintf("value %g exceeds %g", rec.Value, band.Soft)},
			},
			Value: rec.Value,
		}, true
	})
}

// highFees grades the fee both in ether and relative to the value moved and
// keeps the stronger grade. Zero-value records are graded on the absolute fee only.
func (s *Suite) highFees(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.Fee
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.Anomaly, bool) {
		var (
			sev     domain.Severity
			ratio   float64
			reasons []string
		)

		if abs, ok := rules.Classify(cfg.Absolute, rec.Fee); ok {
			sev = sev.Max(abs)
			reasons = append(reasons, fmt.Sprintf("fee %g exceeds %g", rec.Fee, cfg.Absolute.Soft))
		}
		if rec.Value > 0 {
			ratio = rec.Fee / rec.Value
			if rel, ok := rules.Classify(cfg.Relative, ratio); ok {
				sev = sev.Max(rel)
				reasons = append(reasons, fmt.Sprintf("fee is %.2f%% of value", ratio*100))
			}
		}
		if sev == 0 {
			return nil, false
		}

		return domain.HighFee{
			Evidence: domain.Evidence{
				Address:  rec.From,
				Severity: sev,
				Records:  []*domain.TransactionRecord{rec},
				Reasons:  reasons,
			},
			Fee:   rec.Fee,
			Ratio: ratio,
		}, true
	})
}

func (s *Suite) unusualTimes(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.UnusualTime
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.Anomaly, bool) {
		local := rec.Timestamp.In(s.location)

		var (
			name string
			sev  domain.Severity
		)
		if s.timePredicate != nil {
			ok, err := s.timePredicate.Match(rec, s.location)
			if err != nil {
				slog.Debug("unusual time expression failed", "hash", rec.Hash, "error", err)
				return nil, false
			}
			if !ok {
				return nil, false
			}
			name, sev = s.timePredicate.String(), cfg.Severity
		} else {
			tr, ok := matchRange(cfg.Ranges, local)
			if !ok {
				return nil, false
			}
			name, sev = tr.Name, tr.Severity
		}
		if sev == 0 {
			sev = domain.SeverityWeak
		}

		return domain.UnusualTime{
			Evidence: domain.Evidence{
				Address:  rec.From,
				Severity: sev,
				Records:  []*domain.TransactionRecord{rec},
				Reasons:  []string{fmt.Sprintf("sent at %s", local.Format("Mon 15:04 MST"))},
			},
			Range: name,
			Local: local,
		}, true
	})
}

// matchRange returns the first range covering local. Wrapping ranges match
// on the weekday of the local timestamp itself.
func matchRange(ranges []domain.TimeRange, local time.Time) (domain.TimeRange, bool) {
	h := local.Hour()
	for _, tr := range ranges {
		if len(tr.Days) > 0 && !slices.Contains(tr.Days, local.Weekday()) {
			continue
		}
		var in bool
		if tr.StartHour < tr.EndHour {
			in = h >= tr.StartHour && h < tr.EndHour
		} else {
			in = h >= tr.StartHour || h < tr.EndHour
		}
		if in {
			return tr, true
		}
	}
	return domain.TimeRange{}, false
}

// blacklisted takes one snapshot of the sanctions set per pass.
func (s *Suite) blacklisted(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	return func(yield func(domain.Anomaly) bool) {
		set := s.blacklist.Blacklist(ctx)
		if len(set) == 0 {
			return
		}
		seq := perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.Anomaly, bool) {
			var matched []string
			if set.Contains(rec.From) {
				matched = append(matched, rec.From)
			}
			if rec.HasReceiver() && set.Contains(rec.To) && rec.To != rec.From {
				matched = append(matched, rec.To)
			}
			if len(matched) == 0 {
				return nil, false
			}
			return domain.BlacklistedAddress{
				Evidence: domain.Evidence{
					Address:  matched[0],
					Severity: domain.SeverityStrong,
					Records:  []*domain.TransactionRecord{rec},
					Reasons:  []string{fmt.Sprintf("touches sanctioned %v", matched)},
				},
				Matched: matched,
			}, true
		})
		for a := range seq {
			if !yield(a) {
				return
			}
		}
	}
}
