package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/opensource-finance/heron/internal/domain"
)

const (
	anomaliesFile = "anomalies.csv"
	patternsFile  = "patterns.csv"
)

// AnomalyRow is the flat CSV form of an anomaly.
type AnomalyRow struct {
	TypeName  string  `csv:"type_name"`
	TxHash    string  `csv:"tx_hash"`
	Sender    string  `csv:"sender"`
	Address   string  `csv:"address"`
	Count     int     `csv:"count"`
	FeeEth    float64 `csv:"fee_eth,omitempty"`
	Severity  string  `csv:"severity"`
	Reasons   string  `csv:"reasons"`
	Timestamp string  `csv:"timestamp"`
}

// PatternRow is the flat CSV form of a business pattern.
type PatternRow struct {
	TypeName   string  `csv:"type_name"`
	Sender     string  `csv:"sender"`
	TxHash     string  `csv:"tx_hash"`
	Count      int     `csv:"count"`
	Confidence float64 `csv:"confidence"`
	Message    string  `csv:"message"`
}

// CSVExporter writes anomalies.csv and patterns.csv into a directory,
// replacing the files of the previous pass.
type CSVExporter struct {
	dir string
}

// NewCSVExporter creates a CSV exporter for dir.
func NewCSVExporter(dir string) *CSVExporter {
	return &CSVExporter{dir: dir}
}

func (e *CSVExporter) Name() string { return "csv" }

func (e *CSVExporter) Export(ctx context.Context, report *domain.PassReport) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	anomalies := make([]*AnomalyRow, len(report.Anomalies))
	for i, a := range report.Anomalies {
		anomalies[i] = anomalyRow(a)
	}
	if err := writeCSV(filepath.Join(e.dir, anomaliesFile), &anomalies); err != nil {
		return err
	}

	patterns := make([]*PatternRow, len(report.Patterns))
	for i, p := range report.Patterns {
		patterns[i] = patternRow(p)
	}
	return writeCSV(filepath.Join(e.dir, patternsFile), &patterns)
}

// writeCSV writes rows to a temporary file and renames it into place.
func writeCSV(path string, rows any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := gocsv.MarshalFile(rows, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func anomalyRow(a domain.Anomaly) *AnomalyRow {
	ev := a.Details()
	row := &AnomalyRow{
		TypeName: string(a.Kind()),
		Address:  ev.Address,
		Count:    len(ev.Records),
		Severity: ev.Severity.String(),
		Reasons:  strings.Join(ev.Reasons, "; "),
	}
	if first := ev.First(); first != nil {
		row.TxHash = first.Hash
		row.Sender = first.From
		row.Timestamp = first.Timestamp.UTC().Format(time.RFC3339)
	}

	switch v := a.(type) {
	case domain.HighFrequency:
		row.Count = v.Count
	case domain.BurstActivity:
		row.Count = v.Count
	case domain.HighFee:
		row.FeeEth = v.Fee
	}
	return row
}

func patternRow(p domain.BusinessPattern) *PatternRow {
	sup := p.Details()
	row := &PatternRow{
		TypeName:   string(p.Kind()),
		Sender:     sup.Address,
		Count:      len(sup.Records),
		Confidence: sup.Confidence,
		Message:    sup.Message,
	}
	if first := sup.First(); first != nil {
		row.TxHash = first.Hash
	}
	return row
}
