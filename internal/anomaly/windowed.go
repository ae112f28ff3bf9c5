package anomaly

import (
	"context"
	"fmt"
	"iter"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/velocity"
)

func (s *Suite) highFrequency(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.Frequency
	band := domain.Band{Soft: float64(cfg.Count), Hard: float64(cfg.StrongCount)}

	return perSender(ctx, r, func(addr string, recs []*domain.TransactionRecord) []domain.Anomaly {
		var out []domain.Anomaly
		spans := velocity.Scan(recs, cfg.Window, func(sp velocity.Span) bool {
			return sp.Count() > cfg.Count
		})
		for sp := range spans {
			sev, _ := rules.Classify(band, float64(sp.Count()))
			out = append(out, domain.HighFrequency{
				Evidence: domain.Evidence{
					Address:  addr,
					Severity: sev,
					Records:  sp.Records,
					Reasons:  []string{fmt.Sprintf("%d transactions within %s", sp.Count(), cfg.Window)},
				},
				Window: sp.Window,
				Count:  sp.Count(),
			})
		}
		return out
	})
}

// structuring looks at the sender's sub-threshold transfers only. A span
// qualifies when its sum crosses the large-value hard bound; crossing the
// structuring sum threshold makes it strong.
func (s *Suite) structuring(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.Structuring
	limit := s.cfg.LargeValue.Hard
	band := domain.Band{Soft: limit, Hard: cfg.SumThreshold}

	return perSender(ctx, r, func(addr string, recs []*domain.TransactionRecord) []domain.Anomaly {
		small := velocity.Filter(recs, func(rec *domain.TransactionRecord) bool {
			return rec.Value > 0 && rec.Value < limit
		})

		var out []domain.Anomaly
		spans := velocity.Scan(small, cfg.Window, func(sp velocity.Span) bool {
			return sp.Sum() > limit
		})
		for sp := range spans {
			sum := sp.Sum()
			sev, ok := rules.Classify(band, sum)
			if !ok {
				continue
			}
			out = append(out, domain.Structuring{
				Evidence: domain.Evidence{
					Address:  addr,
					Severity: sev,
					Records:  sp.Records,
					Reasons: []string{
						fmt.Sprintf("%d transfers below %g summing to %g within %s", sp.Count(), limit, sum, cfg.Window),
					},
				},
				Window: sp.Window,
				Sum:    sum,
			})
		}
		return out
	})
}

func (s *Suite) burstActivity(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.Burst
	band := domain.Band{Soft: float64(cfg.Count), Hard: float64(cfg.StrongCount)}

	return perSender(ctx, r, func(addr string, recs []*domain.TransactionRecord) []domain.Anomaly {
		var out []domain.Anomaly
		spans := velocity.Scan(recs, cfg.Interval, func(sp velocity.Span) bool {
			return sp.Count() >= cfg.Count
		})
		for sp := range spans {
			sev, _ := rules.ClassifyAtLeast(band, float64(sp.Count()))
			out = append(out, domain.BurstActivity{
				Evidence: domain.Evidence{
					Address:  addr,
					Severity: sev,
					Records:  sp.Records,
					Reasons:  []string{fmt.Sprintf("%d transactions within %s", sp.Count(), cfg.Interval)},
				},
				Window: sp.Window,
				Count:  sp.Count(),
			})
		}
		return out
	})
}

// unusualOperations walks each sender's history in time order. Every call to a
// method outside the allow-list is flagged, as is the first call to any method
// by a sender with at least MinHistory earlier transactions.
func (s *Suite) unusualOperations(ctx context.Context, r domain.RecordReader) iter.Seq[domain.Anomaly] {
	cfg := s.cfg.Operation

	return perSender(ctx, r, func(addr string, recs []*domain.TransactionRecord) []domain.Anomaly {
		var out []domain.Anomaly
		seen := make(map[string]struct{})
		for n, rec := range recs {
			method := rec.Method
			if method == "" {
				continue
			}
			_, known := seen[method]
			seen[method] = struct{}{}

			notAllowed := len(cfg.Allowed) > 0 && !cfg.Allowed.Contains(method)
			firstSeen := !known && n >= cfg.MinHistory && n > 0
			if !notAllowed && !firstSeen {
				continue
			}

			sev := domain.SeverityWeak
			var reasons []string
			if notAllowed {
				reasons = append(reasons, fmt.Sprintf("method %s is not in the allow-list", method))
			}
			if firstSeen {
				reasons = append(reasons, fmt.Sprintf("first use of %s after %d prior transactions", method, n))
			}
			if notAllowed && firstSeen {
				sev = domain.SeverityStrong
			}

			out = append(out, domain.UnusualOperation{
				Evidence: domain.Evidence{
					Address:  addr,
					Severity: sev,
					Records:  []*domain.TransactionRecord{rec},
					Reasons:  reasons,
				},
				Method:     method,
				FirstSeen:  firstSeen,
				NotAllowed: notAllowed,
			})
		}
		return out
	})
}
