package detect

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/store"
)

func constant(name string, values ...int) Detector[int] {
	return NewFunc(name, func(ctx context.Context, r domain.RecordReader) iter.Seq[int] {
		return slices.Values(values)
	})
}

func TestRun(t *testing.T) {
	s := store.New()
	ctx := context.Background()

	t.Run("DetectorOrder", func(t *testing.T) {
		detectors := []Detector[int]{
			constant("a", 1, 2),
			constant("b"),
			constant("c", 3),
			constant("d", 4, 5, 6),
		}
		for _, workers := range []int{0, 1, 2, 8} {
			got, err := Run(ctx, s, detectors, workers)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !slices.Equal(got, []int{1, 2, 3, 4, 5, 6}) {
				t.Errorf("workers=%d: unexpected order %v", workers, got)
			}
		}
	})

	t.Run("CancelledPassIsDiscarded", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		blocking := NewFunc("blocking", func(ctx context.Context, r domain.RecordReader) iter.Seq[int] {
			return func(yield func(int) bool) {
				if !yield(1) {
					return
				}
				cancel()
				<-ctx.Done()
				yield(2)
			}
		})

		got, err := Run(cctx, s, []Detector[int]{constant("a", 7), blocking}, 2)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if got != nil {
			t.Errorf("expected no findings, got %v", got)
		}
	})
}

func TestOrdered(t *testing.T) {
	type finding struct {
		seq  uint64
		addr string
		tag  string
	}
	in := []finding{
		{3, "0xb", "x"},
		{1, "0xz", "y"},
		{3, "0xa", "z"},
		{1, "0xz", "w"},
	}
	got := Ordered(in, func(f finding) (uint64, string) { return f.seq, f.addr })

	tags := make([]string, len(got))
	for i, f := range got {
		tags[i] = f.tag
	}
	if !slices.Equal(tags, []string{"y", "w", "z", "x"}) {
		t.Errorf("unexpected order %v", tags)
	}
}
