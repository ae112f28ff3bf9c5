package pattern

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/detect"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/velocity"
)

// regularPayments groups each sender's transfers by receiver. A group is
// regular when every value and every interval between consecutive records
// stays within the tolerance band around its mean.
func (s *Suite) regularPayments(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	cfg := s.cfg.RegularPayment
	tol := cfg.Tolerance / 100

	return perAddress(ctx, r, domain.RoleSender, func(addr string, recs []*domain.TransactionRecord) []domain.BusinessPattern {
		groups := make(map[string][]*domain.TransactionRecord)
		var receivers []string
		for _, rec := range recs {
			if !rec.HasReceiver() || rec.Value <= 0 {
				continue
			}
			if _, ok := groups[rec.To]; !ok {
				receivers = append(receivers, rec.To)
			}
			groups[rec.To] = append(groups[rec.To], rec)
		}

		var out []domain.BusinessPattern
		for _, to := range receivers {
			group := groups[to]
			if len(group) < cfg.MinOccurrences {
				continue
			}

			values := make([]float64, len(group))
			for i, rec := range group {
				values[i] = rec.Value
			}
			intervals := make([]float64, len(group)-1)
			for i := 1; i < len(group); i++ {
				intervals[i-1] = float64(group[i].Timestamp.Sub(group[i-1].Timestamp))
			}

			meanValue, devValue := spread(values)
			meanInterval, devInterval := spread(intervals)
			if meanInterval <= 0 || devValue > tol || devInterval > tol {
				continue
			}

			every := time.Duration(meanInterval).Round(time.Second)
			out = append(out, domain.RegularPayment{
				Support: domain.Support{
					Address:    addr,
					Confidence: 1 - math.Max(devValue, devInterval),
					Records:    group,
					Message:    fmt.Sprintf("regular payments of %g from %s to %s every %s", meanValue, addr, to, every),
				},
				Receiver:     to,
				MeanValue:    meanValue,
				MeanInterval: time.Duration(meanInterval),
			})
		}
		return out
	})
}

// spread returns the mean of xs and the largest deviation from it relative
// to the mean. A zero mean yields zero deviation.
func spread(xs []float64) (mean, dev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return 0, 0
	}
	for _, x := range xs {
		dev = math.Max(dev, math.Abs(x-mean)/mean)
	}
	return mean, dev
}

func (s *Suite) batchPayments(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	cfg := s.cfg.BatchPayment

	return perAddress(ctx, r, domain.RoleSender, func(addr string, recs []*domain.TransactionRecord) []domain.BusinessPattern {
		transfers := velocity.Filter(recs, (*domain.TransactionRecord).HasReceiver)

		var out []domain.BusinessPattern
		spans := velocity.Scan(transfers, cfg.Window, func(sp velocity.Span) bool {
			return sp.Receivers() >= cfg.MinReceivers
		})
		for sp := range spans {
			n := sp.Receivers()
			out = append(out, domain.BatchPayment{
				Support: domain.Support{
					Address:    addr,
					Confidence: float64(n) / float64(sp.Count()),
					Records:    sp.Records,
					Message:    fmt.Sprintf("batch payments from %s: %d payments to %d receivers", addr, sp.Count(), n),
				},
				Window:    sp.Window,
				Receivers: n,
			})
		}
		return out
	})
}

// whales checks every address once, in order of first appearance as sender
// and then as receiver. Each role is judged against the thresholds on its own
// and the finding records which roles crossed them. A role over the
// single-record threshold is supported by those records alone; one that only
// crosses the cumulative threshold is supported by its whole history.
func (s *Suite) whales(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	return func(yield func(domain.BusinessPattern) bool) {
		var found []domain.BusinessPattern
		visited := make(map[string]struct{})
		for _, role := range []domain.Role{domain.RoleSender, domain.RoleReceiver} {
			for _, addr := range r.Addresses(role) {
				if ctx.Err() != nil {
					return
				}
				if _, ok := visited[addr]; ok {
					continue
				}
				visited[addr] = struct{}{}
				if w, ok := s.whale(r, addr); ok {
					found = append(found, w)
				}
			}
		}

		for p := range detect.Each(ctx, detect.Ordered(found, findingKey)) {
			if !yield(p) {
				return
			}
		}
	}
}

func (s *Suite) whale(r domain.RecordReader, addr string) (domain.Whale, bool) {
	cfg := s.cfg.Whale

	var (
		w       domain.Whale
		all     []*domain.TransactionRecord
		support []*domain.TransactionRecord
		reasons []string
	)
	for _, role := range []domain.Role{domain.RoleSender, domain.RoleReceiver} {
		recs := velocity.Collect(r.RecordsFor(addr, role))
		all = append(all, recs...)

		var largest, total float64
		for _, rec := range recs {
			largest = math.Max(largest, rec.Value)
			total += rec.Value
		}
		w.Largest = math.Max(w.Largest, largest)

		switch {
		case largest > cfg.SingleValue:
			support = append(support, velocity.Filter(recs, func(rec *domain.TransactionRecord) bool {
				return rec.Value > cfg.SingleValue
			})...)
			w.Confidence = 1
			reasons = append(reasons, fmt.Sprintf("%s single transfer of %g", role, largest))
		case total > cfg.CumulativeValue:
			support = append(support, recs...)
			w.Confidence = math.Max(w.Confidence, 0.8)
			reasons = append(reasons, fmt.Sprintf("%s cumulative value %g", role, total))
		default:
			continue
		}
		w.Roles = append(w.Roles, role)
	}
	if len(w.Roles) == 0 {
		return domain.Whale{}, false
	}

	// A self-transfer is listed under both roles.
	for _, rec := range uniqueRecords(all) {
		w.Total += rec.Value
	}
	w.Address = addr
	w.Records = uniqueRecords(support)
	w.Message = fmt.Sprintf("whale %s: %s", addr, strings.Join(reasons, "; "))
	return w, true
}

// uniqueRecords orders recs by timestamp and drops repeated records.
func uniqueRecords(recs []*domain.TransactionRecord) []*domain.TransactionRecord {
	slices.SortFunc(recs, func(a, b *domain.TransactionRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return slices.CompactFunc(recs, func(a, b *domain.TransactionRecord) bool {
		return a.Seq == b.Seq
	})
}
