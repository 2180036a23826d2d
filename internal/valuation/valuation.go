// Package valuation implements the price-to-earnings-relative-to-return (PR)
// model: PR relates trailing PE to return on equity, so a PR of 1.0 marks a
// fairly priced asset and lower is cheaper.
package valuation

import "math"

// Denominators for the PR ratio. Both securities and broad indices use 150;
// the Buffett buy gauge uses 100, making it stricter.
const (
	stockDenominator      = 150.0
	indexDenominator      = 150.0
	buffettBuyDenominator = 100.0
)

// normalizeROE converts a percentage ROE to a fraction. Values already in
// fractional form (|v| <= 1) pass through unchanged.
func normalizeROE(roe float64) float64 {
	if roe == 0 {
		return 0
	}
	if math.Abs(roe) > 1 {
		return roe / 100
	}
	return roe
}

// StandardPR computes PE / ROE / 150 for a single security. ok is false when
// PE or ROE is non-positive.
func StandardPR(peTTM, roe float64) (float64, bool) {
	r := normalizeROE(roe)
	if peTTM <= 0 || r <= 0 {
		return 0, false
	}
	return peTTM / r / stockDenominator, true
}

// PayoutRatio computes the dividend payout ratio in percent: cash dividend
// per share over basic EPS. ok is false when EPS is non-positive or the
// dividend is negative. Ratios above 100% are returned as-is; the caller may
// flag them as suspect.
func PayoutRatio(dividendPerShare, eps float64) (float64, bool) {
	if eps <= 0 || dividendPerShare < 0 {
		return 0, false
	}
	return dividendPerShare / eps * 100, true
}

// CorrectionFactor maps a payout ratio to the multiplier N used by the
// corrected PR:
//
//	>= 50%  -> 1.0 (payout is adequate)
//	<= 25%  -> 2.0 (payout is thin, double the ratio)
//	between -> 50 / ratio
//
// An unknown ratio gets the conservative maximum of 2.0.
func CorrectionFactor(payoutRatio float64, known bool) float64 {
	switch {
	case !known:
		return 2.0
	case payoutRatio >= 50:
		return 1.0
	case payoutRatio <= 25:
		return 2.0
	default:
		return 50.0 / payoutRatio
	}
}

// Corrected is the result of the payout-adjusted PR computation. PR is only
// meaningful when OK is true; PayoutRatio and Factor are reported regardless
// so callers can show why the correction was applied.
type Corrected struct {
	PR          float64
	PayoutRatio float64
	PayoutKnown bool
	Factor      float64
	OK          bool
}

// CorrectedPR computes N * PE / ROE / 150, penalizing securities that retain
// earnings instead of paying them out.
func CorrectedPR(peTTM, roe, dividendPerShare, eps float64) Corrected {
	payout, known := PayoutRatio(dividendPerShare, eps)
	n := CorrectionFactor(payout, known)

	r := normalizeROE(roe)
	if peTTM <= 0 || r <= 0 {
		return Corrected{PayoutRatio: payout, PayoutKnown: known, Factor: n}
	}
	return Corrected{
		PR:          n * peTTM / r / stockDenominator,
		PayoutRatio: payout,
		PayoutKnown: known,
		Factor:      n,
		OK:          true,
	}
}

// BroadIndexPR computes PE / ROE / 150 for a broad market index.
func BroadIndexPR(peTTM, roe float64) (float64, bool) {
	r := normalizeROE(roe)
	if peTTM <= 0 || r <= 0 {
		return 0, false
	}
	return peTTM / r / indexDenominator, true
}

// BuffettBuyPR computes PE / ROE / 100, the stricter buy gauge for single
// securities. Values under 0.4 indicate deep undervaluation.
func BuffettBuyPR(peTTM, roe float64) (float64, bool) {
	r := normalizeROE(roe)
	if peTTM <= 0 || r <= 0 {
		return 0, false
	}
	return peTTM / r / buffettBuyDenominator, true
}

// BuffettSellPR computes PE / ROE / 150, the market-wide sell gauge. Values
// over 1.5 suggest exiting broad index positions.
func BuffettSellPR(peTTM, roe float64) (float64, bool) {
	r := normalizeROE(roe)
	if peTTM <= 0 || r <= 0 {
		return 0, false
	}
	return peTTM / r / indexDenominator, true
}
