package valuation

import (
	"fmt"
	"strings"
)

// Benchmark holds the PR thresholds for one broad index. Between SellStart
// and SellAll the suggested sell ratio rises linearly from 0 to 100%.
type Benchmark struct {
	Name         string  `json:"name"`
	ReasonablePR float64 `json:"reasonable_pr"`
	BuyThreshold float64 `json:"buy_threshold"`
	SellStart    float64 `json:"sell_start"`
	SellAll      float64 `json:"sell_all"`
	// DividendTaxRate is the withholding rate applied to the index's
	// dividends, which shifts the fair-value PR for offshore listings.
	DividendTaxRate float64 `json:"dividend_tax_rate"`
}

// Index benchmarks. Offshore indices price in dividend withholding, so their
// thresholds sit below the onshore baseline of 1.0.
var (
	BenchmarkCSI300 = Benchmark{
		Name: "CSI 300", ReasonablePR: 1.0, BuyThreshold: 1.0,
		SellStart: 1.0, SellAll: 1.4, DividendTaxRate: 0,
	}
	BenchmarkHSI = Benchmark{
		Name: "Hang Seng", ReasonablePR: 0.85, BuyThreshold: 0.85,
		SellStart: 0.85, SellAll: 1.19, DividendTaxRate: 0.15,
	}
	BenchmarkHSCEI = Benchmark{
		Name: "Hang Seng China Enterprises", ReasonablePR: 0.8, BuyThreshold: 0.8,
		SellStart: 0.8, SellAll: 1.12, DividendTaxRate: 0.20,
	}
)

// Benchmarks indexes the known benchmarks by name.
var Benchmarks = map[string]Benchmark{
	BenchmarkCSI300.Name: BenchmarkCSI300,
	BenchmarkHSI.Name:    BenchmarkHSI,
	BenchmarkHSCEI.Name:  BenchmarkHSCEI,
}

// benchmarkAliases maps the ticker-style shorthands accepted in URLs onto
// the display names above.
var benchmarkAliases = map[string]Benchmark{
	"csi300": BenchmarkCSI300,
	"hsi":    BenchmarkHSI,
	"hscei":  BenchmarkHSCEI,
}

// BenchmarkByName resolves a benchmark by display name or alias, defaulting
// to CSI 300.
func BenchmarkByName(name string) Benchmark {
	if b, ok := Benchmarks[name]; ok {
		return b
	}
	if b, ok := benchmarkAliases[strings.ToLower(name)]; ok {
		return b
	}
	return BenchmarkCSI300
}

// SignalType classifies a PR reading against a benchmark.
type SignalType string

const (
	SignalBuy     SignalType = "buy"
	SignalHold    SignalType = "hold"
	SignalReduce  SignalType = "reduce"
	SignalSellAll SignalType = "sell_all"
)

// Signal is an actionable reading of one PR value against a benchmark.
type Signal struct {
	Type              SignalType `json:"type"`
	Strength          float64    `json:"strength"`
	SuggestedPosition float64    `json:"suggested_position"`
	SellRatio         float64    `json:"sell_ratio"`
	PR                float64    `json:"pr"`
	Reason            string     `json:"reason"`
}

// TradingSignal maps a PR value onto the benchmark's threshold ladder.
//
//	pr <= buy threshold           buy, full position
//	buy threshold < pr < start    hold
//	start <= pr < sell-all        reduce, ratio linear in the band
//	pr >= sell-all                exit entirely
func TradingSignal(pr float64, b Benchmark) Signal {
	switch {
	case pr <= b.BuyThreshold:
		strength := (b.BuyThreshold - pr) / b.BuyThreshold
		if strength > 1 {
			strength = 1
		}
		return Signal{
			Type:              SignalBuy,
			Strength:          strength,
			SuggestedPosition: 1.0,
			PR:                pr,
			Reason:            fmt.Sprintf("PR %.4f at or below buy threshold %.2f", pr, b.BuyThreshold),
		}
	case pr < b.SellStart:
		return Signal{
			Type:              SignalHold,
			Strength:          0.5,
			SuggestedPosition: 1.0,
			PR:                pr,
			Reason:            fmt.Sprintf("PR %.4f inside fair band [%.2f, %.2f]", pr, b.BuyThreshold, b.SellStart),
		}
	case pr < b.SellAll:
		ratio := (pr - b.SellStart) / (b.SellAll - b.SellStart)
		if ratio > 1 {
			ratio = 1
		}
		return Signal{
			Type:              SignalReduce,
			Strength:          ratio,
			SuggestedPosition: 1.0 - ratio,
			SellRatio:         ratio,
			PR:                pr,
			Reason:            fmt.Sprintf("PR %.4f above sell start %.2f, trim %.0f%%", pr, b.SellStart, ratio*100),
		}
	default:
		return Signal{
			Type:      SignalSellAll,
			Strength:  1.0,
			SellRatio: 1.0,
			PR:        pr,
			Reason:    fmt.Sprintf("PR %.4f at or above exit threshold %.2f", pr, b.SellAll),
		}
	}
}
