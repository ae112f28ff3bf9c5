package pattern

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/store"
)

var t0 = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)

const (
	uniswap = domain.UniswapV2Router
	sushi   = domain.SushiSwapRouter
)

type recOpt func(*domain.TransactionRecord)

func withMethod(m string) recOpt { return func(r *domain.TransactionRecord) { r.Method = m } }
func withTag(tag domain.ContractTag) recOpt {
	return func(r *domain.TransactionRecord) { r.Tag = tag }
}

func appendRec(t *testing.T, s *store.Store, hash, from, to string, value float64, at time.Duration, opts ...recOpt) {
	t.Helper()
	rec := domain.TransactionRecord{
		Hash:      hash,
		From:      from,
		To:        to,
		Value:     value,
		Timestamp: t0.Add(at),
	}
	for _, opt := range opts {
		opt(&rec)
	}
	if err := s.Append(rec); err != nil {
		t.Fatalf("append %s: %v", hash, err)
	}
}

func newSuite(t *testing.T) *Suite {
	t.Helper()
	cfg := domain.DefaultConfig()
	cfg.Contracts.NFT = domain.NewAddressSet("0xnft")
	suite, err := NewSuite(cfg.Detection.Pattern, cfg.Contracts)
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}
	return suite
}

func runKind(t *testing.T, s *store.Store, kind domain.PatternKind) []domain.BusinessPattern {
	t.Helper()
	all, err := newSuite(t).Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var out []domain.BusinessPattern
	for _, p := range all {
		if p.Kind() == kind {
			out = append(out, p)
		}
	}
	return out
}

func TestNewSuite(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.PatternConfig)
		param  string
	}{
		{"ZeroTolerance", func(c *domain.PatternConfig) { c.RegularPayment.Tolerance = 0 }, "pattern.regular_payment.tolerance"},
		{"SingleOccurrence", func(c *domain.PatternConfig) { c.RegularPayment.MinOccurrences = 1 }, "pattern.regular_payment.min_occurrences"},
		{"NegativeBatchWindow", func(c *domain.PatternConfig) { c.BatchPayment.Window = -time.Second }, "pattern.batch_payment.window"},
		{"CumulativeBelowSingle", func(c *domain.PatternConfig) { c.Whale.CumulativeValue = 1 }, "pattern.whale.cumulative_value"},
		{"ZeroTrades", func(c *domain.PatternConfig) { c.ActiveTrader.MinTrades = 0 }, "pattern.active_trader.min_trades"},
		{"OneContract", func(c *domain.PatternConfig) { c.Arbitrage.MinContracts = 1 }, "pattern.arbitrage.min_contracts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(&cfg.Detection.Pattern)

			_, err := NewSuite(cfg.Detection.Pattern, cfg.Contracts)
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Param != tt.param {
				t.Errorf("expected param %s, got %s", tt.param, cfgErr.Param)
			}
		})
	}
}

func TestRegularPayment(t *testing.T) {
	t.Run("Regular", func(t *testing.T) {
		s := store.New()
		for i := range 4 {
			appendRec(t, s, fmt.Sprintf("0x%d", i), "0xa", "0xpayee", 10, time.Duration(i)*time.Hour)
		}

		got := runKind(t, s, domain.KindRegularPayment)
		if len(got) != 1 {
			t.Fatalf("expected one finding, got %d", len(got))
		}
		rp := got[0].(domain.RegularPayment)
		if rp.Receiver != "0xpayee" || rp.MeanValue != 10 || rp.MeanInterval != time.Hour {
			t.Errorf("unexpected payload %+v", rp)
		}
		if rp.Confidence != 1 || len(rp.Records) != 4 {
			t.Errorf("expected full confidence over 4 records, got %g / %d", rp.Confidence, len(rp.Records))
		}
	})

	t.Run("IrregularValue", func(t *testing.T) {
		s := store.New()
		for i, v := range []float64{10, 20, 10} {
			appendRec(t, s, fmt.Sprintf("0x%d", i), "0xa", "0xpayee", v, time.Duration(i)*time.Hour)
		}
		if got := runKind(t, s, domain.KindRegularPayment); len(got) != 0 {
			t.Errorf("expected none, got %d", len(got))
		}
	})

	t.Run("IrregularInterval", func(t *testing.T) {
		s := store.New()
		for i, at := range []time.Duration{0, time.Hour, 3 * time.Hour} {
			appendRec(t, s, fmt.Sprintf("0x%d", i), "0xa", "0xpayee", 10, at)
		}
		if got := runKind(t, s, domain.KindRegularPayment); len(got) != 0 {
			t.Errorf("expected none, got %d", len(got))
		}
	})

	t.Run("TooFew", func(t *testing.T) {
		s := store.New()
		appendRec(t, s, "0x1", "0xa", "0xpayee", 10, 0)
		appendRec(t, s, "0x2", "0xa", "0xpayee", 10, time.Hour)
		if got := runKind(t, s, domain.KindRegularPayment); len(got) != 0 {
			t.Errorf("expected none, got %d", len(got))
		}
	})
}

func TestBatchPayment(t *testing.T) {
	s := store.New()
	for i := range 5 {
		appendRec(t, s, fmt.Sprintf("0x%d", i), "0xpayroll", fmt.Sprintf("0xr%d", i), 1, time.Duration(i)*10*time.Second)
	}
	// Four receivers in a separate window do not qualify.
	for i := range 4 {
		appendRec(t, s, fmt.Sprintf("0x1%d", i), "0xpayroll", fmt.Sprintf("0xr%d", i), 1, time.Hour+time.Duration(i)*time.Second)
	}

	got := runKind(t, s, domain.KindBatchPayment)
	if len(got) != 1 {
		t.Fatalf("expected one finding, got %d", len(got))
	}
	bp := got[0].(domain.BatchPayment)
	if bp.Receivers != 5 || bp.Confidence != 1 {
		t.Errorf("unexpected payload %+v", bp)
	}
	if !bp.Window.Start.Equal(t0) || !bp.Window.End.Equal(t0.Add(5*time.Minute)) {
		t.Errorf("unexpected window %+v", bp.Window)
	}
}

func TestDexTrading(t *testing.T) {
	s := store.New()
	appendRec(t, s, "0x1", "0xa", uniswap, 1, 0)
	appendRec(t, s, "0x2", "0xa", "0xunknown", 1, time.Minute, withTag(domain.TagDEX))
	appendRec(t, s, "0x3", "0xa", "0xb", 1, 2*time.Minute)

	got := runKind(t, s, domain.KindDexTrading)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(got))
	}
	if got[0].(domain.DexTrading).Contract != uniswap {
		t.Errorf("unexpected contract %s", got[0].(domain.DexTrading).Contract)
	}
}

func TestNftActivity(t *testing.T) {
	s := store.New()
	appendRec(t, s, "0x1", "0xa", "0xNFT", 0, 0)
	appendRec(t, s, "0x2", "0xa", "0xother", 0, time.Minute, withMethod("0x42842e0e"))
	appendRec(t, s, "0x3", "0xa", "0xother", 0, 2*time.Minute, withMethod("0xa9059cbb"))
	// ERC-20 transferFrom shares its selector with ERC-721 transferFrom.
	appendRec(t, s, "0x4", "0xa", "0xtoken", 0, 3*time.Minute, withMethod("0x23b872dd"))

	got := runKind(t, s, domain.KindNftActivity)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(got))
	}
	if got[0].Details().Confidence != 1 {
		t.Errorf("expected full confidence for known contract, got %g", got[0].Details().Confidence)
	}
	if got[1].Details().Confidence != 0.7 {
		t.Errorf("expected reduced confidence for selector match, got %g", got[1].Details().Confidence)
	}
}

func TestLiquidityProvision(t *testing.T) {
	s := store.New()
	appendRec(t, s, "0x1", "0xlp", uniswap, 5, 0, withMethod(domain.SelectorAddLiquidityETH))
	appendRec(t, s, "0x2", "0xlp", sushi, 0, time.Minute, withMethod(domain.SelectorRemoveLiquidity))
	appendRec(t, s, "0x3", "0xlp", "0xnotadex", 0, 2*time.Minute, withMethod(domain.SelectorAddLiquidity))

	got := runKind(t, s, domain.KindLiquidityProvision)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(got))
	}
	if got[0].(domain.LiquidityProvision).Removal {
		t.Error("expected first finding to be an addition")
	}
	if !got[1].(domain.LiquidityProvision).Removal {
		t.Error("expected second finding to be a removal")
	}
}

func TestWhale(t *testing.T) {
	t.Run("SingleValue", func(t *testing.T) {
		s := store.New()
		appendRec(t, s, "0x1", "0xwhale", "0xdesk", 1500, 0)
		appendRec(t, s, "0x2", "0xwhale", "0xdesk", 1, time.Minute)

		got := runKind(t, s, domain.KindWhale)
		if len(got) != 2 {
			t.Fatalf("expected sender and receiver findings, got %d", len(got))
		}
		roles := map[domain.Role]string{}
		for _, p := range got {
			w := p.(domain.Whale)
			if len(w.Roles) != 1 {
				t.Fatalf("expected one triggering role, got %v", w.Roles)
			}
			roles[w.Roles[0]] = w.Address
			if w.Confidence != 1 || len(w.Records) != 1 || w.Largest != 1500 {
				t.Errorf("unexpected payload %+v", w)
			}
		}
		if roles[domain.RoleSender] != "0xwhale" || roles[domain.RoleReceiver] != "0xdesk" {
			t.Errorf("unexpected roles %v", roles)
		}
	})

	t.Run("Cumulative", func(t *testing.T) {
		s := store.New()
		for i := range 11 {
			appendRec(t, s, fmt.Sprintf("0x%d", i), "0xfund", fmt.Sprintf("0xr%d", i), 950, time.Duration(i)*time.Hour)
		}

		got := runKind(t, s, domain.KindWhale)
		if len(got) != 1 {
			t.Fatalf("expected one finding, got %d", len(got))
		}
		w := got[0].(domain.Whale)
		if w.Address != "0xfund" || !reflect.DeepEqual(w.Roles, []domain.Role{domain.RoleSender}) || w.Confidence != 0.8 {
			t.Errorf("unexpected payload %+v", w)
		}
		if len(w.Records) != 11 {
			t.Errorf("expected whole history as support, got %d", len(w.Records))
		}
	})

	t.Run("BothRoles", func(t *testing.T) {
		s := store.New()
		appendRec(t, s, "0x1", "0xwhale", "0xa", 2000, 0)
		appendRec(t, s, "0x2", "0xb", "0xwhale", 2000, time.Minute)

		var mine []domain.Whale
		for _, p := range runKind(t, s, domain.KindWhale) {
			if w := p.(domain.Whale); w.Address == "0xwhale" {
				mine = append(mine, w)
			}
		}
		if len(mine) != 1 {
			t.Fatalf("expected one finding for 0xwhale, got %d", len(mine))
		}
		w := mine[0]
		if !reflect.DeepEqual(w.Roles, []domain.Role{domain.RoleSender, domain.RoleReceiver}) {
			t.Errorf("unexpected roles %v", w.Roles)
		}
		if len(w.Records) != 2 || w.Records[0].Hash != "0x1" || w.Records[1].Hash != "0x2" {
			t.Errorf("expected both transfers as support, got %d", len(w.Records))
		}
		if w.Largest != 2000 || w.Total != 4000 || w.Confidence != 1 {
			t.Errorf("unexpected payload %+v", w)
		}
	})

	t.Run("SelfTransfer", func(t *testing.T) {
		s := store.New()
		appendRec(t, s, "0x1", "0xself", "0xself", 1500, 0)

		got := runKind(t, s, domain.KindWhale)
		if len(got) != 1 {
			t.Fatalf("expected one finding, got %d", len(got))
		}
		w := got[0].(domain.Whale)
		if len(w.Roles) != 2 || len(w.Records) != 1 || w.Total != 1500 {
			t.Errorf("self-transfer counted twice: %+v", w)
		}
	})
}

func TestActiveTrader(t *testing.T) {
	s := store.New()
	for i := range 11 {
		appendRec(t, s, fmt.Sprintf("0xa%d", i), "0xtrader", uniswap, 1, time.Duration(i)*time.Hour)
	}
	for i := range 10 {
		appendRec(t, s, fmt.Sprintf("0xb%d", i), "0xcasual", uniswap, 1, time.Duration(i)*time.Hour)
	}

	got := runKind(t, s, domain.KindActiveTrader)
	if len(got) != 1 {
		t.Fatalf("expected one finding, got %d", len(got))
	}
	at := got[0].(domain.ActiveTrader)
	if at.Address != "0xtrader" || at.Trades != 11 {
		t.Errorf("unexpected payload %+v", at)
	}
}

func TestArbitrage(t *testing.T) {
	tests := []struct {
		name   string
		second string
		end    float64
		found  bool
	}{
		{"Gain", sushi, 1.2, true},
		{"Loss", sushi, 0.9, false},
		{"Flat", sushi, 1, false},
		{"SameContract", uniswap, 1.2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.New()
			appendRec(t, s, "0x1", "0xarb", uniswap, 1, 0)
			appendRec(t, s, "0x2", "0xarb", tt.second, tt.end, 30*time.Second)

			got := runKind(t, s, domain.KindArbitrage)
			if !tt.found {
				if len(got) != 0 {
					t.Errorf("expected none, got %d", len(got))
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("expected exactly one finding, got %d", len(got))
			}
			arb := got[0].(domain.Arbitrage)
			if math.Abs(arb.NetGain-0.2) > 1e-9 {
				t.Errorf("expected net gain 0.2, got %g", arb.NetGain)
			}
			if !reflect.DeepEqual(arb.Contracts, []string{uniswap, sushi}) {
				t.Errorf("unexpected contracts %v", arb.Contracts)
			}
		})
	}

	t.Run("OutsideWindow", func(t *testing.T) {
		s := store.New()
		appendRec(t, s, "0x1", "0xarb", uniswap, 1, 0)
		appendRec(t, s, "0x2", "0xarb", sushi, 2, 10*time.Minute)
		if got := runKind(t, s, domain.KindArbitrage); len(got) != 0 {
			t.Errorf("expected none, got %d", len(got))
		}
	})
}

func TestRunIsIdempotent(t *testing.T) {
	s := store.New()
	for i := range 30 {
		to := uniswap
		if i%2 == 1 {
			to = sushi
		}
		appendRec(t, s, fmt.Sprintf("0x%d", i), fmt.Sprintf("0xs%d", i%3), to, float64(i), time.Duration(i)*20*time.Second)
	}
	suite := newSuite(t)

	first, err := suite.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := suite.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(first) == 0 || !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical non-empty passes, got %d and %d findings", len(first), len(second))
	}
}

func TestRunDuringAppend(t *testing.T) {
	s := store.New()
	suite := newSuite(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 300 {
			rec := domain.TransactionRecord{
				Hash:      fmt.Sprintf("0x%d", i),
				Timestamp: t0.Add(time.Duration(i) * time.Second),
			}
			switch i % 3 {
			case 0:
				rec.From, rec.To, rec.Value = "0xarb", uniswap, 1+float64(i)/1000
				if i%2 == 1 {
					rec.To = sushi
				}
			case 1:
				rec.From, rec.To, rec.Value = "0xpayroll", fmt.Sprintf("0xr%d", i), 1
			default:
				rec.From, rec.To, rec.Value = "0xwhale", "0xdesk", 1500
			}
			if err := s.Append(rec); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
	}()

	for range 5 {
		if _, err := suite.Run(context.Background(), s); err != nil {
			t.Errorf("Run failed: %v", err)
		}
	}
	wg.Wait()

	all, err := suite.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("final pass: %v", err)
	}
	kinds := make(map[domain.PatternKind]int)
	for _, p := range all {
		kinds[p.Kind()]++
	}
	for _, kind := range []domain.PatternKind{domain.KindArbitrage, domain.KindBatchPayment, domain.KindWhale} {
		if kinds[kind] == 0 {
			t.Errorf("expected %s findings once appends settled, got %v", kind, kinds)
		}
	}
	if kinds[domain.KindWhale] != 2 {
		t.Errorf("expected whale findings for 0xwhale and 0xdesk only, got %d", kinds[domain.KindWhale])
	}
}

func TestRunCancelled(t *testing.T) {
	s := store.New()
	appendRec(t, s, "0x1", "0xarb", uniswap, 1, 0)
	appendRec(t, s, "0x2", "0xarb", sushi, 1.2, 30*time.Second)
	appendRec(t, s, "0x3", "0xwhale", "0xdesk", 5000, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := newSuite(t).Run(ctx, s)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got != nil {
		t.Errorf("expected no findings, got %d", len(got))
	}
}
