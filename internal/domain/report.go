package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Exporter receives every completed pass report. Aborted passes are never exported.
type Exporter interface {
	Name() string
	Export(ctx context.Context, report *PassReport) error
}

// PassReport is the output of one detection pass over the store.
type PassReport struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	StoreSize  int       `json:"storeSize"`

	Anomalies []Anomaly         `json:"-"`
	Patterns  []BusinessPattern `json:"-"`

	// Errors holds per-suite configuration failures. A suite listed here did not run.
	Errors map[string]string `json:"errors,omitempty"`
}

// PassSummary is the aggregate view of a pass used by the API and repository.
type PassSummary struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	DurationMs  int64             `json:"durationMs"`
	StoreSize   int               `json:"storeSize"`
	Anomalies   int               `json:"anomalies"`
	Patterns    int               `json:"patterns"`
	ByKind      map[string]int    `json:"byKind"`
	BySeverity  map[string]int    `json:"bySeverity"`
	SuiteErrors map[string]string `json:"suiteErrors,omitempty"`
}

// Summary aggregates finding counts per kind and per severity.
func (r *PassReport) Summary() PassSummary {
	s := PassSummary{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		DurationMs:  r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		StoreSize:   r.StoreSize,
		Anomalies:   len(r.Anomalies),
		Patterns:    len(r.Patterns),
		ByKind:      make(map[string]int),
		BySeverity:  make(map[string]int),
		SuiteErrors: r.Errors,
	}
	for _, a := range r.Anomalies {
		s.ByKind[string(a.Kind())]++
		s.BySeverity[a.Details().Severity.String()]++
	}
	for _, p := range r.Patterns {
		s.ByKind[string(p.Kind())]++
	}
	return s
}

// MarshalJSON includes findings tagged with their kind.
func (r *PassReport) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Kind    string `json:"kind"`
		Payload any    `json:"payload"`
	}
	anomalies := make([]tagged, len(r.Anomalies))
	for i, a := range r.Anomalies {
		anomalies[i] = tagged{string(a.Kind()), a}
	}
	patterns := make([]tagged, len(r.Patterns))
	for i, p := range r.Patterns {
		patterns[i] = tagged{string(p.Kind()), p}
	}
	return json.Marshal(struct {
		PassSummary
		Anomalies []tagged `json:"anomalies"`
		Patterns  []tagged `json:"patterns"`
	}{r.Summary(), anomalies, patterns})
}

// StoredFindings flattens the report into persisted rows, anomalies first,
// each family in report order.
func (r *PassReport) StoredFindings() ([]*StoredFinding, error) {
	out := make([]*StoredFinding, 0, len(r.Anomalies)+len(r.Patterns))
	for _, a := range r.Anomalies {
		payload, err := MarshalAnomaly(a)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.Kind(), err)
		}
		ev := a.Details()
		out = append(out, &StoredFinding{
			PassID:   r.ID,
			Position: len(out),
			Family:   FamilyAnomaly,
			Kind:     string(a.Kind()),
			Address:  ev.Address,
			Severity: ev.Severity.String(),
			TxHashes: hashes(ev.Records),
			Payload:  payload,
		})
	}
	for _, p := range r.Patterns {
		payload, err := MarshalPattern(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", p.Kind(), err)
		}
		sup := p.Details()
		out = append(out, &StoredFinding{
			PassID:     r.ID,
			Position:   len(out),
			Family:     FamilyPattern,
			Kind:       string(p.Kind()),
			Address:    sup.Address,
			Confidence: sup.Confidence,
			TxHashes:   hashes(sup.Records),
			Payload:    payload,
		})
	}
	for _, f := range out {
		f.CreatedAt = r.FinishedAt
	}
	return out, nil
}

func hashes(recs []*TransactionRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Hash
	}
	return out
}
