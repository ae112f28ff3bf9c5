package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func TestClassify(t *testing.T) {
	band := domain.Band{Soft: 100, Hard: 1000}

	tests := []struct {
		name     string
		value    float64
		severity domain.Severity
		matched  bool
	}{
		{"BelowSoft", 50, 0, false},
		{"AtSoft", 100, 0, false},
		{"AboveSoft", 100.01, domain.SeverityWeak, true},
		{"AtHard", 1000, domain.SeverityWeak, true},
		{"AboveHard", 1000.5, domain.SeverityStrong, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, ok := Classify(band, tt.value)
			if ok != tt.matched || sev != tt.severity {
				t.Errorf("Classify(%v) = %v, %v; want %v, %v", tt.value, sev, ok, tt.severity, tt.matched)
			}
		})
	}
}

func TestClassifyAtLeast(t *testing.T) {
	band := domain.Band{Soft: 5, Hard: 10}

	if _, ok := ClassifyAtLeast(band, 4); ok {
		t.Error("expected no match below soft bound")
	}
	if sev, ok := ClassifyAtLeast(band, 5); !ok || sev != domain.SeverityWeak {
		t.Errorf("expected weak at soft bound, got %v %v", sev, ok)
	}
	if sev, ok := ClassifyAtLeast(band, 10); !ok || sev != domain.SeverityStrong {
		t.Errorf("expected strong at hard bound, got %v %v", sev, ok)
	}
}

func TestValidateBand(t *testing.T) {
	if err := ValidateBand("anomaly.large_value", domain.Band{Soft: 1, Hard: 2}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateBand("anomaly.large_value", domain.Band{Soft: 5, Hard: 2})
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Param != "anomaly.large_value.hard" {
		t.Errorf("unexpected param %s", cfgErr.Param)
	}

	err = ValidateBand("anomaly.fee.absolute", domain.Band{Soft: -1, Hard: 2})
	if !errors.As(err, &cfgErr) || cfgErr.Param != "anomaly.fee.absolute.soft" {
		t.Errorf("expected soft bound error, got %v", err)
	}
}

func TestPredicate(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	rec := &domain.TransactionRecord{
		Hash:      "0x1",
		From:      "0xa",
		To:        "0xb",
		Value:     2.5,
		Fee:       0.01,
		Method:    "0xa9059cbb",
		Tag:       domain.TagDEX,
		Timestamp: time.Date(2025, 3, 2, 3, 30, 0, 0, time.UTC), // Sunday
	}

	t.Run("TimeVariables", func(t *testing.T) {
		p, err := engine.Compile("hour >= 2 && hour < 4 && weekday == 0")
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		ok, err := p.Match(rec, time.UTC)
		if err != nil || !ok {
			t.Errorf("expected match, got %v %v", ok, err)
		}
	})

	t.Run("Location", func(t *testing.T) {
		p, _ := engine.Compile("hour == 12")
		loc := time.FixedZone("UTC+9", 9*3600)
		ok, err := p.Match(rec, loc)
		if err != nil || !ok {
			t.Errorf("expected match in UTC+9, got %v %v", ok, err)
		}
	})

	t.Run("RecordVariables", func(t *testing.T) {
		p, _ := engine.Compile(`tag == "dex" && value > 2.0 && method.startsWith("0xa9")`)
		ok, err := p.Match(rec, nil)
		if err != nil || !ok {
			t.Errorf("expected match, got %v %v", ok, err)
		}
	})

	t.Run("RejectsNonBool", func(t *testing.T) {
		if _, err := engine.Compile("value * 2.0"); err == nil {
			t.Error("expected error for non-bool expression")
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		if _, err := engine.Compile("this is not valid CEL !!!"); err == nil {
			t.Error("expected compile error")
		}
	})
}
