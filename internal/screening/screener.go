// Package screening runs the value screen: resolve annual fundamentals for a
// universe of securities, gate on audit and cash flow quality, then rank the
// survivors by corrected PR.
package screening

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/gaomindu/prscreen/internal/clients/tushare"
	"github.com/gaomindu/prscreen/internal/fetch"
	"github.com/gaomindu/prscreen/internal/history"
	"github.com/gaomindu/prscreen/internal/valuation"
)

// lookbackYears is how far back the quality gates reach.
const lookbackYears = 5

// MarketData supplies point-in-time metrics and the listing catalog.
type MarketData interface {
	Valuation(ctx context.Context, code string) (*tushare.Valuation, error)
	ListSecurities(ctx context.Context, exchange string) ([]tushare.Security, error)
}

// Resolver resolves annual history for a batch of securities.
type Resolver interface {
	Resolve(ctx context.Context, codes []string, r history.YearRange, onProgress func(fetch.Progress)) []fetch.Result
}

// Criteria parameterizes one screening run.
type Criteria struct {
	// PRThreshold is the maximum corrected PR a candidate may carry.
	PRThreshold float64 `json:"pr_threshold"`
	// MinROE in percent; zero disables the ROE gate.
	MinROE float64 `json:"min_roe"`
	// Exchange restricts the universe ("SSE", "SZSE"); empty means both.
	Exchange string `json:"exchange"`
}

// DefaultCriteria matches the fair-value baseline: PR at or under 1.0.
func DefaultCriteria() Criteria {
	return Criteria{PRThreshold: 1.0}
}

// Evaluation is the full audit trail for one security.
type Evaluation struct {
	Code     string `json:"ts_code"`
	Name     string `json:"name"`
	Industry string `json:"industry"`

	FundamentalsPass bool `json:"fundamentals_pass"`
	ValuationPass    bool `json:"valuation_pass"`
	Pass             bool `json:"pass"`

	PR          float64 `json:"pr"`
	StandardPR  float64 `json:"standard_pr"`
	Factor      float64 `json:"correction_factor"`
	ROE         float64 `json:"roe"`
	PETTM       float64 `json:"pe_ttm"`
	PayoutRatio float64 `json:"payout_ratio"`

	// Reasons lists every failed gate; Warnings lists sector-rule breaches
	// that do not reject the candidate.
	Reasons  []string `json:"reasons,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Stats summarizes the PR distribution of the passing candidates.
type Stats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
}

// Report is the outcome of one screening run. Candidates are the passing
// evaluations ordered by PR ascending; Rejected carries the rest.
type Report struct {
	Criteria   Criteria     `json:"criteria"`
	Universe   int          `json:"universe"`
	Candidates []Evaluation `json:"candidates"`
	Rejected   []Evaluation `json:"rejected"`
	Unresolved []string     `json:"unresolved,omitempty"`
	Stats      Stats        `json:"stats"`
	Elapsed    string       `json:"elapsed"`
}

// Screener wires history resolution, market data and the PR model together.
type Screener struct {
	resolver Resolver
	market   MarketData
	log      zerolog.Logger
}

// NewScreener creates a screener.
func NewScreener(resolver Resolver, market MarketData, log zerolog.Logger) *Screener {
	return &Screener{
		resolver: resolver,
		market:   market,
		log:      log.With().Str("component", "screener").Logger(),
	}
}

// ScreenUniverse screens the full listing catalog for the criteria's
// exchange.
func (s *Screener) ScreenUniverse(ctx context.Context, criteria Criteria, onProgress func(fetch.Progress)) (*Report, error) {
	secs, err := s.market.ListSecurities(ctx, criteria.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to list securities: %w", err)
	}
	return s.Screen(ctx, secs, criteria, onProgress)
}

// Screen evaluates the given securities. History resolution failures exclude
// only the affected security.
func (s *Screener) Screen(ctx context.Context, secs []tushare.Security, criteria Criteria, onProgress func(fetch.Progress)) (*Report, error) {
	start := time.Now()
	if criteria.PRThreshold <= 0 {
		criteria.PRThreshold = DefaultCriteria().PRThreshold
	}

	now := time.Now().Year()
	// The latest complete fiscal year is last year.
	window, err := history.NewYearRange(now-lookbackYears, now-1)
	if err != nil {
		return nil, err
	}

	codes := make([]string, len(secs))
	byCode := make(map[string]tushare.Security, len(secs))
	for i, sec := range secs {
		codes[i] = sec.Code
		byCode[sec.Code] = sec
	}

	s.log.Info().Int("universe", len(secs)).Str("window", window.String()).Msg("Screening run started")

	report := &Report{Criteria: criteria, Universe: len(secs)}
	for _, res := range s.resolver.Resolve(ctx, codes, window, onProgress) {
		if res.Status == fetch.StatusFailed {
			s.log.Warn().Err(res.Err).Str("ts_code", res.Code).Msg("History unresolved, excluding from screen")
			report.Unresolved = append(report.Unresolved, res.Code)
			continue
		}

		eval := s.evaluate(ctx, byCode[res.Code], res.Record, criteria)
		if eval.Pass {
			report.Candidates = append(report.Candidates, eval)
		} else {
			report.Rejected = append(report.Rejected, eval)
		}
	}

	sort.Slice(report.Candidates, func(i, j int) bool {
		return report.Candidates[i].PR < report.Candidates[j].PR
	})
	report.Stats = summarize(report.Candidates)
	report.Elapsed = time.Since(start).Round(time.Millisecond).String()

	s.log.Info().
		Int("candidates", len(report.Candidates)).
		Int("rejected", len(report.Rejected)).
		Int("unresolved", len(report.Unresolved)).
		Msg("Screening run finished")

	return report, nil
}

// evaluate runs the quality gates and the valuation gate for one security.
func (s *Screener) evaluate(ctx context.Context, sec tushare.Security, rec *history.CachedRecord, criteria Criteria) Evaluation {
	eval := Evaluation{Code: sec.Code, Name: sec.Name, Industry: sec.Industry}

	eval.FundamentalsPass = s.checkFundamentals(&eval, rec)
	eval.ValuationPass = s.checkValuation(ctx, &eval, criteria)
	eval.Pass = eval.FundamentalsPass && eval.ValuationPass

	if rec != nil && len(rec.Points) > 0 {
		s.applySectorWarnings(&eval, rec.Points[len(rec.Points)-1])
	}
	return eval
}

// checkFundamentals gates on the last five fiscal years: every audit must be
// a standard unqualified opinion, operating cash flow must be non-negative,
// and cash flow must cover reported profit.
func (s *Screener) checkFundamentals(eval *Evaluation, rec *history.CachedRecord) bool {
	if rec == nil || len(rec.Points) == 0 {
		eval.Reasons = append(eval.Reasons, "no annual history available")
		return false
	}

	pass := true
	for _, p := range rec.RecentPoints(lookbackYears) {
		if !p.AuditStandard {
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("%d: non-standard audit opinion %q", p.Year, p.AuditOpinion))
			pass = false
		}
		if p.OperCashflow < 0 {
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("%d: negative operating cash flow", p.Year))
			pass = false
		}
		if p.OperCashflow < p.NetIncome {
			eval.Reasons = append(eval.Reasons, fmt.Sprintf("%d: operating cash flow below net income", p.Year))
			pass = false
		}
	}
	return pass
}

// checkValuation gates on corrected PR and, when configured, minimum ROE.
func (s *Screener) checkValuation(ctx context.Context, eval *Evaluation, criteria Criteria) bool {
	v, err := s.market.Valuation(ctx, eval.Code)
	if err != nil {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("valuation unavailable: %v", err))
		return false
	}
	eval.ROE = v.ROE
	eval.PETTM = v.PETTM
	eval.PayoutRatio = v.PayoutRatio

	if std, ok := valuation.StandardPR(v.PETTM, v.ROE); ok {
		eval.StandardPR = std
	}

	dividendPerShare := v.PayoutRatio * v.EPS / 100
	corrected := valuation.CorrectedPR(v.PETTM, v.ROE, dividendPerShare, v.EPS)
	eval.Factor = corrected.Factor
	if !corrected.OK {
		eval.Reasons = append(eval.Reasons, "PR not computable from current PE and ROE")
		return false
	}
	eval.PR = corrected.PR

	pass := true
	if eval.PR > criteria.PRThreshold {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("PR %.4f above threshold %.2f", eval.PR, criteria.PRThreshold))
		pass = false
	}
	if criteria.MinROE > 0 && v.ROE < criteria.MinROE {
		eval.Reasons = append(eval.Reasons, fmt.Sprintf("ROE %.2f%% below minimum %.2f%%", v.ROE, criteria.MinROE))
		pass = false
	}
	return pass
}

// applySectorWarnings annotates sector-rule breaches from the latest fiscal
// year without affecting the pass decision.
func (s *Screener) applySectorWarnings(eval *Evaluation, latest history.YearPoint) {
	rule := RuleForSector(eval.Industry)

	if debt := latest.DebtRatio() * 100; debt > rule.DebtRatioMax {
		eval.Warnings = append(eval.Warnings,
			fmt.Sprintf("debt ratio %.1f%% above %s ceiling %.0f%%", debt, rule.Name, rule.DebtRatioMax))
	}
	if margin := latest.GrossMargin() * 100; latest.Revenue > 0 && margin < rule.GrossMarginMin {
		eval.Warnings = append(eval.Warnings,
			fmt.Sprintf("gross margin %.1f%% below %s floor %.0f%%", margin, rule.Name, rule.GrossMarginMin))
	}
}

// summarize computes the PR distribution over the passing candidates.
func summarize(candidates []Evaluation) Stats {
	if len(candidates) == 0 {
		return Stats{}
	}

	prs := make([]float64, len(candidates))
	for i, c := range candidates {
		prs[i] = c.PR
	}
	sort.Float64s(prs)

	var sd float64
	if len(prs) > 1 {
		sd = stat.StdDev(prs, nil)
	}
	return Stats{
		Count:  len(prs),
		Mean:   stat.Mean(prs, nil),
		StdDev: sd,
		Median: stat.Quantile(0.5, stat.Empirical, prs, nil),
		P25:    stat.Quantile(0.25, stat.Empirical, prs, nil),
		P75:    stat.Quantile(0.75, stat.Empirical, prs, nil),
	}
}
