package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the two-level grade assigned to an anomaly.
type Severity int

const (
	SeverityWeak Severity = iota + 1
	SeverityStrong
)

func (s Severity) String() string {
	switch s {
	case SeverityWeak:
		return "weak"
	case SeverityStrong:
		return "strong"
	default:
		return "none"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes "weak" or "strong".
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "weak", "Weak":
		*s = SeverityWeak
	case "strong", "Strong":
		*s = SeverityStrong
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// UnmarshalYAML decodes a severity name.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(name))
}

// Max returns the stronger of two severities.
func (s Severity) Max(o Severity) Severity {
	if o > s {
		return o
	}
	return s
}

// AnomalyKind names an anomaly variant.
type AnomalyKind string

const (
	KindLargeTransaction   AnomalyKind = "LargeTransaction"
	KindHighFrequency      AnomalyKind = "HighFrequency"
	KindStructuring        AnomalyKind = "Structuring"
	KindBurstActivity      AnomalyKind = "BurstActivity"
	KindHighFee            AnomalyKind = "HighFee"
	KindUnusualOperation   AnomalyKind = "UnusualOperation"
	KindUnusualTime        AnomalyKind = "UnusualTime"
	KindBlacklistedAddress AnomalyKind = "BlacklistedAddress"
)

// AnomalyKinds lists every anomaly variant in suite order.
var AnomalyKinds = []AnomalyKind{
	KindLargeTransaction, KindHighFrequency, KindStructuring, KindBurstActivity,
	KindHighFee, KindUnusualOperation, KindUnusualTime, KindBlacklistedAddress,
}

// Evidence is carried by every anomaly.
type Evidence struct {
	Address  string               `json:"address"`
	Severity Severity             `json:"severity"`
	Records  []*TransactionRecord `json:"records"`
	Reasons  []string             `json:"reasons,omitempty"`
}

// Details returns the evidence itself; variants get it by embedding.
func (e Evidence) Details() Evidence { return e }

// First returns the earliest supporting record, or nil.
func (e Evidence) First() *TransactionRecord {
	if len(e.Records) == 0 {
		return nil
	}
	return e.Records[0]
}

// Anomaly is the closed set of suspicious-behavior findings.
// The unexported method keeps the set of implementations inside this package.
type Anomaly interface {
	Kind() AnomalyKind
	Details() Evidence
	isAnomaly()
}

// LargeTransaction flags a single record above the large-value band.
type LargeTransaction struct {
	Evidence
	Value float64 `json:"value"`
}

// HighFrequency flags a sender with too many records inside one window.
type HighFrequency struct {
	Evidence
	Window Window `json:"window"`
	Count  int    `json:"count"`
}

// Structuring flags sub-threshold transfers whose windowed sum crosses the threshold.
type Structuring struct {
	Evidence
	Window Window  `json:"window"`
	Sum    float64 `json:"sum"`
}

// BurstActivity flags rapid-fire records inside a short interval.
type BurstActivity struct {
	Evidence
	Window Window `json:"window"`
	Count  int    `json:"count"`
}

// HighFee flags a record whose fee is high in absolute or relative terms.
type HighFee struct {
	Evidence
	Fee   float64 `json:"fee"`
	Ratio float64 `json:"ratio"`
}

// UnusualOperation flags a method outside the allow-list or new for the sender.
type UnusualOperation struct {
	Evidence
	Method     string `json:"method"`
	FirstSeen  bool   `json:"firstSeen"`
	NotAllowed bool   `json:"notAllowed"`
}

// UnusualTime flags a record timestamped inside a configured unusual range.
type UnusualTime struct {
	Evidence
	Range string    `json:"range"`
	Local time.Time `json:"local"`
}

// BlacklistedAddress flags a record touching a sanctioned address.
type BlacklistedAddress struct {
	Evidence
	Matched []string `json:"matched"`
}

func (LargeTransaction) Kind() AnomalyKind   { return KindLargeTransaction }
func (HighFrequency) Kind() AnomalyKind      { return KindHighFrequency }
func (Structuring) Kind() AnomalyKind        { return KindStructuring }
func (BurstActivity) Kind() AnomalyKind      { return KindBurstActivity }
func (HighFee) Kind() AnomalyKind            { return KindHighFee }
func (UnusualOperation) Kind() AnomalyKind   { return KindUnusualOperation }
func (UnusualTime) Kind() AnomalyKind        { return KindUnusualTime }
func (BlacklistedAddress) Kind() AnomalyKind { return KindBlacklistedAddress }

func (LargeTransaction) isAnomaly()   {}
func (HighFrequency) isAnomaly()      {}
func (Structuring) isAnomaly()        {}
func (BurstActivity) isAnomaly()      {}
func (HighFee) isAnomaly()            {}
func (UnusualOperation) isAnomaly()   {}
func (UnusualTime) isAnomaly()        {}
func (BlacklistedAddress) isAnomaly() {}

// PatternKind names a business pattern variant.
type PatternKind string

const (
	KindRegularPayment     PatternKind = "RegularPayment"
	KindBatchPayment       PatternKind = "BatchPayment"
	KindDexTrading         PatternKind = "DexTrading"
	KindNftActivity        PatternKind = "NftActivity"
	KindLiquidityProvision PatternKind = "LiquidityProvision"
	KindWhale              PatternKind = "Whale"
	KindActiveTrader       PatternKind = "ActiveTrader"
	KindArbitrage          PatternKind = "Arbitrage"
)

// PatternKinds lists every business pattern variant in suite order.
var PatternKinds = []PatternKind{
	KindRegularPayment, KindBatchPayment, KindDexTrading, KindNftActivity,
	KindLiquidityProvision, KindWhale, KindActiveTrader, KindArbitrage,
}

// Support is carried by every business pattern.
type Support struct {
	Address string `json:"address"`
	// Confidence is in [0, 1].
	Confidence float64              `json:"confidence"`
	Records    []*TransactionRecord `json:"records"`
	Message    string               `json:"message,omitempty"`
}

// Details returns the support itself; variants get it by embedding.
func (s Support) Details() Support { return s }

// First returns the earliest supporting record, or nil.
func (s Support) First() *TransactionRecord {
	if len(s.Records) == 0 {
		return nil
	}
	return s.Records[0]
}

// BusinessPattern is the closed set of legitimate-usage findings.
type BusinessPattern interface {
	Kind() PatternKind
	Details() Support
	isPattern()
}

// RegularPayment is a sender paying one receiver near-constant amounts at near-constant intervals.
type RegularPayment struct {
	Support
	Receiver     string        `json:"receiver"`
	MeanValue    float64       `json:"meanValue"`
	MeanInterval time.Duration `json:"meanInterval"`
}

// BatchPayment is one sender paying many distinct receivers inside one window.
type BatchPayment struct {
	Support
	Window    Window `json:"window"`
	Receivers int    `json:"receivers"`
}

// DexTrading is a record sent to a known DEX contract.
type DexTrading struct {
	Support
	Contract string `json:"contract"`
}

// NftActivity is a record sent to a known NFT contract or using an NFT method.
type NftActivity struct {
	Support
	Contract string `json:"contract,omitempty"`
	Method   string `json:"method,omitempty"`
}

// LiquidityProvision is an add or remove liquidity call against a DEX contract.
type LiquidityProvision struct {
	Support
	Contract string `json:"contract"`
	Method   string `json:"method"`
	Removal  bool   `json:"removal"`
}

// Whale is an address moving high value in one record or cumulatively.
// Roles lists the roles that crossed a threshold; Total counts every record
// of the address once.
type Whale struct {
	Support
	Roles   []Role  `json:"roles"`
	Largest float64 `json:"largest"`
	Total   float64 `json:"total"`
}

// ActiveTrader is a sender with many DEX records over the observed history.
type ActiveTrader struct {
	Support
	Trades int `json:"trades"`
}

// Arbitrage is a sender cycling through distinct DEX contracts for a net gain.
type Arbitrage struct {
	Support
	Window    Window   `json:"window"`
	Contracts []string `json:"contracts"`
	NetGain   float64  `json:"netGain"`
}

func (RegularPayment) Kind() PatternKind     { return KindRegularPayment }
func (BatchPayment) Kind() PatternKind       { return KindBatchPayment }
func (DexTrading) Kind() PatternKind         { return KindDexTrading }
func (NftActivity) Kind() PatternKind        { return KindNftActivity }
func (LiquidityProvision) Kind() PatternKind { return KindLiquidityProvision }
func (Whale) Kind() PatternKind              { return KindWhale }
func (ActiveTrader) Kind() PatternKind       { return KindActiveTrader }
func (Arbitrage) Kind() PatternKind          { return KindArbitrage }

func (RegularPayment) isPattern()     {}
func (BatchPayment) isPattern()       {}
func (DexTrading) isPattern()         {}
func (NftActivity) isPattern()        {}
func (LiquidityProvision) isPattern() {}
func (Whale) isPattern()              {}
func (ActiveTrader) isPattern()       {}
func (Arbitrage) isPattern()          {}

// MarshalAnomaly encodes an anomaly with its kind alongside the payload.
func MarshalAnomaly(a Anomaly) ([]byte, error) {
	return json.Marshal(struct {
		Kind    AnomalyKind `json:"kind"`
		Payload Anomaly     `json:"payload"`
	}{a.Kind(), a})
}

// MarshalPattern encodes a business pattern with its kind alongside the payload.
func MarshalPattern(p BusinessPattern) ([]byte, error) {
	return json.Marshal(struct {
		Kind    PatternKind     `json:"kind"`
		Payload BusinessPattern `json:"payload"`
	}{p.Kind(), p})
}
