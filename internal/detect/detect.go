// Package detect runs a set of independent detectors over the transaction store.
package detect

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/velocity"
	"golang.org/x/sync/errgroup"
)

// Detector is one rule evaluator. Detect must not write to the store and must
// tolerate appends happening while it iterates.
type Detector[F any] interface {
	Name() string
	Detect(ctx context.Context, r domain.RecordReader) iter.Seq[F]
}

// Func adapts a function to the Detector interface.
type Func[F any] struct {
	name string
	fn   func(ctx context.Context, r domain.RecordReader) iter.Seq[F]
}

// NewFunc wraps fn as a named detector.
func NewFunc[F any](name string, fn func(ctx context.Context, r domain.RecordReader) iter.Seq[F]) Func[F] {
	return Func[F]{name: name, fn: fn}
}

func (f Func[F]) Name() string { return f.name }

func (f Func[F]) Detect(ctx context.Context, r domain.RecordReader) iter.Seq[F] {
	return f.fn(ctx, r)
}

// Run drains every detector concurrently, at most workers at a time, and
// concatenates their findings in detector order.
//
// A cancelled context discards everything collected so far: Run returns
// either the complete finding sequence or an error, never a partial result.
func Run[F any](ctx context.Context, r domain.RecordReader, detectors []Detector[F], workers int) ([]F, error) {
	if workers <= 0 {
		workers = len(detectors)
	}

	results := make([][]F, len(detectors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, d := range detectors {
		g.Go(func() error {
			var out []F
			for f := range d.Detect(gctx, r) {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("detector %s: %w", d.Name(), err)
				}
				out = append(out, f)
			}
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("detector %s: %w", d.Name(), err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var total int
	for _, res := range results {
		total += len(res)
	}
	all := make([]F, 0, total)
	for _, res := range results {
		all = append(all, res...)
	}
	return all, nil
}

// Ordered returns findings sorted by the sequence number of their first
// supporting record, then by address. The sort is stable so findings that
// share both keys keep their discovery order.
func Ordered[F any](findings []F, key func(F) (uint64, string)) []F {
	slices.SortStableFunc(findings, func(a, b F) int {
		sa, aa := key(a)
		sb, ab := key(b)
		if c := cmp.Compare(sa, sb); c != 0 {
			return c
		}
		return cmp.Compare(aa, ab)
	})
	return findings
}

// Each yields the elements of findings, stopping early when ctx is done.
func Each[F any](ctx context.Context, findings []F) iter.Seq[F] {
	return func(yield func(F) bool) {
		for _, f := range findings {
			if ctx.Err() != nil || !yield(f) {
				return
			}
		}
	}
}

// PerAddress applies fn to every address seen in role, passing that address's
// records ordered by timestamp, and yields the combined findings sorted with
// Ordered. Addresses first seen after the pass started are not visited.
func PerAddress[F any](ctx context.Context, r domain.RecordReader, role domain.Role, key func(F) (uint64, string), fn func(addr string, recs []*domain.TransactionRecord) []F) iter.Seq[F] {
	return func(yield func(F) bool) {
		var found []F
		for _, addr := range r.Addresses(role) {
			if ctx.Err() != nil {
				return
			}
			recs := velocity.Collect(r.RecordsFor(addr, role))
			found = append(found, fn(addr, recs)...)
		}
		for f := range Each(ctx, Ordered(found, key)) {
			if !yield(f) {
				return
			}
		}
	}
}

// PerRecord applies fn to every record in append order.
func PerRecord[F any](ctx context.Context, r domain.RecordReader, fn func(rec *domain.TransactionRecord) (F, bool)) iter.Seq[F] {
	return func(yield func(F) bool) {
		for rec := range r.AllRecords() {
			if ctx.Err() != nil {
				return
			}
			if f, ok := fn(rec); ok && !yield(f) {
				return
			}
		}
	}
}
