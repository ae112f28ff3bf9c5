package pattern

import (
	"context"
	"fmt"
	"iter"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/velocity"
)

func (s *Suite) dexTrading(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.BusinessPattern, bool) {
		if !s.isDEX(rec) {
			return nil, false
		}
		return domain.DexTrading{
			Support: domain.Support{
				Address:    rec.From,
				Confidence: 1,
				Records:    []*domain.TransactionRecord{rec},
				Message:    fmt.Sprintf("trading with DEX %s", rec.To),
			},
			Contract: rec.To,
		}, true
	})
}

// nftActivity matches known NFT contracts first. A known NFT selector
// against an unknown contract is reported with lower confidence.
func (s *Suite) nftActivity(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	c := s.contracts
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.BusinessPattern, bool) {
		var confidence float64
		switch {
		case rec.Tag == domain.TagNFT || c.NFT.Contains(rec.To):
			confidence = 1
		case c.NFTMethods.Contains(rec.Method):
			confidence = 0.7
		default:
			return nil, false
		}
		return domain.NftActivity{
			Support: domain.Support{
				Address:    rec.From,
				Confidence: confidence,
				Records:    []*domain.TransactionRecord{rec},
				Message:    fmt.Sprintf("NFT activity in %s", rec.Hash),
			},
			Contract: rec.To,
			Method:   rec.Method,
		}, true
	})
}

func (s *Suite) liquidityProvision(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	c := s.contracts
	return perRecord(ctx, r, func(rec *domain.TransactionRecord) (domain.BusinessPattern, bool) {
		if !s.isDEX(rec) {
			return nil, false
		}
		add := c.AddLiquidityMethods.Contains(rec.Method)
		removal := c.RemoveLiquidityMethods.Contains(rec.Method)
		if !add && !removal {
			return nil, false
		}

		verb := "added"
		if removal {
			verb = "removed"
		}
		return domain.LiquidityProvision{
			Support: domain.Support{
				Address:    rec.From,
				Confidence: 1,
				Records:    []*domain.TransactionRecord{rec},
				Message:    fmt.Sprintf("%s %s liquidity on %s", rec.From, verb, rec.To),
			},
			Contract: rec.To,
			Method:   rec.Method,
			Removal:  removal,
		}, true
	})
}

func (s *Suite) activeTraders(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	threshold := s.cfg.ActiveTrader.MinTrades
	return perAddress(ctx, r, domain.RoleSender, func(addr string, recs []*domain.TransactionRecord) []domain.BusinessPattern {
		trades := velocity.Filter(recs, s.isDEX)
		if len(trades) <= threshold {
			return nil
		}
		return []domain.BusinessPattern{domain.ActiveTrader{
			Support: domain.Support{
				Address:    addr,
				Confidence: 1 - float64(threshold)/float64(len(trades)),
				Records:    trades,
				Message:    fmt.Sprintf("active trader %s: %d DEX transactions", addr, len(trades)),
			},
			Trades: len(trades),
		}}
	})
}

// arbitrage scans each sender's DEX legs in time order. From an anchor leg it
// takes the furthest leg inside the window that closes the run across enough
// distinct contracts with a value above the anchor's. Scanning resumes after
// that leg, so runs never share a record.
func (s *Suite) arbitrage(ctx context.Context, r domain.RecordReader) iter.Seq[domain.BusinessPattern] {
	cfg := s.cfg.Arbitrage

	return perAddress(ctx, r, domain.RoleSender, func(addr string, recs []*domain.TransactionRecord) []domain.BusinessPattern {
		legs := velocity.Filter(recs, s.isDEX)

		var out []domain.BusinessPattern
		for i := 0; i < len(legs); {
			w := domain.NewWindow(legs[i].Timestamp, cfg.Window)
			seen := make(map[string]struct{})
			end := -1
			for k := i; k < len(legs) && w.Contains(legs[k].Timestamp); k++ {
				seen[legs[k].To] = struct{}{}
				if k > i && len(seen) >= cfg.MinContracts && legs[k].Value > legs[i].Value {
					end = k
				}
			}
			if end < 0 {
				i++
				continue
			}

			run := legs[i : end+1]
			var contracts []string
			distinct := make(map[string]struct{}, len(run))
			for _, leg := range run {
				if _, ok := distinct[leg.To]; !ok {
					distinct[leg.To] = struct{}{}
					contracts = append(contracts, leg.To)
				}
			}
			gain := run[len(run)-1].Value - run[0].Value

			out = append(out, domain.Arbitrage{
				Support: domain.Support{
					Address:    addr,
					Confidence: float64(len(contracts)) / float64(len(run)),
					Records:    run,
					Message:    fmt.Sprintf("possible arbitrage from %s across %d contracts, net gain %g", addr, len(contracts), gain),
				},
				Window:    w,
				Contracts: contracts,
				NetGain:   gain,
			})
			i = end + 1
		}
		return out
	})
}
