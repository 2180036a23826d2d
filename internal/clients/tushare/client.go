// Package tushare is a client for the Tushare Pro data API. All endpoints
// share one POST envelope; responses are columnar (field names plus rows).
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaomindu/prscreen/internal/history"
)

const defaultBaseURL = "https://api.tushare.pro"

// annual reports carry an end_date of December 31st
const annualSuffix = "1231"

// Client calls the Tushare Pro API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a Tushare client. The token comes from the provider's
// account page.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "tushare").Logger(),
	}
}

// call performs one API request and returns the columnar payload.
func (c *Client) call(ctx context.Context, apiName string, params map[string]string, fields string) (*dataset, error) {
	if c.token == "" {
		return nil, ErrTokenMissing
	}

	body, err := json.Marshal(apiRequest{APIName: apiName, Token: c.token, Params: params, Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", apiName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", apiName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", apiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", apiName, resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", apiName, err)
	}
	if envelope.Code != 0 {
		if envelope.Code == codeRateLimited {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, envelope.Msg)
		}
		return nil, fmt.Errorf("%s error %d: %s", apiName, envelope.Code, envelope.Msg)
	}

	return newDataset(envelope.Data.Fields, envelope.Data.Items), nil
}

// FetchAnnual fetches the annual fundamentals for one security over the year
// range, merging the income statement, balance sheet, cash flow statement and
// audit report by fiscal year. Only year-end reports are kept; quarterly rows
// are discarded.
func (c *Client) FetchAnnual(ctx context.Context, code string, r history.YearRange) ([]history.YearPoint, error) {
	params := map[string]string{
		"ts_code":    code,
		"start_date": fmt.Sprintf("%d0101", r.Start),
		"end_date":   fmt.Sprintf("%d%s", r.End, annualSuffix),
	}

	byYear := make(map[int]*history.YearPoint)
	point := func(year int) *history.YearPoint {
		p, ok := byYear[year]
		if !ok {
			p = &history.YearPoint{Year: year}
			byYear[year] = p
		}
		return p
	}

	income, err := c.call(ctx, "income", params, "end_date,revenue,oper_cost,n_income")
	if err != nil {
		return nil, err
	}
	for _, row := range income.rows {
		year, ok := annualYear(income.str(row, "end_date"))
		if !ok {
			continue
		}
		p := point(year)
		p.Revenue = income.num(row, "revenue")
		p.OperCost = income.num(row, "oper_cost")
		p.NetIncome = income.num(row, "n_income")
	}

	balance, err := c.call(ctx, "balancesheet", params, "end_date,total_assets,total_liab")
	if err != nil {
		return nil, err
	}
	for _, row := range balance.rows {
		year, ok := annualYear(balance.str(row, "end_date"))
		if !ok {
			continue
		}
		p := point(year)
		p.TotalAssets = balance.num(row, "total_assets")
		p.TotalLiabilities = balance.num(row, "total_liab")
	}

	cashflow, err := c.call(ctx, "cashflow", params, "end_date,n_cashflow_act")
	if err != nil {
		return nil, err
	}
	for _, row := range cashflow.rows {
		year, ok := annualYear(cashflow.str(row, "end_date"))
		if !ok {
			continue
		}
		point(year).OperCashflow = cashflow.num(row, "n_cashflow_act")
	}

	audit, err := c.call(ctx, "fina_audit", params, "end_date,audit_result")
	if err != nil {
		return nil, err
	}
	for _, row := range audit.rows {
		year, ok := annualYear(audit.str(row, "end_date"))
		if !ok {
			continue
		}
		opinion := audit.str(row, "audit_result")
		p := point(year)
		p.AuditOpinion = opinion
		p.AuditStandard = opinion == "标准无保留意见"
	}

	points := make([]history.YearPoint, 0, len(byYear))
	for _, p := range byYear {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Year < points[j].Year })

	c.log.Debug().
		Str("ts_code", code).
		Str("range", r.String()).
		Int("years", len(points)).
		Msg("Fetched annual fundamentals")

	return points, nil
}

// Valuation fetches the current screening metrics for one security: trailing
// PE and dividend yield from the latest daily snapshot, weighted-average ROE
// and EPS from the latest annual indicator row, and the payout ratio derived
// from the latest cash dividend against EPS.
func (c *Client) Valuation(ctx context.Context, code string) (*Valuation, error) {
	v := &Valuation{Code: code}

	daily, err := c.call(ctx, "daily_basic", map[string]string{"ts_code": code}, "trade_date,pe_ttm,dv_ratio")
	if err != nil {
		return nil, err
	}
	if len(daily.rows) > 0 {
		row := daily.rows[0]
		v.PETTM = daily.num(row, "pe_ttm")
		v.DividendYield = daily.num(row, "dv_ratio")
	}

	indicator, err := c.call(ctx, "fina_indicator", map[string]string{"ts_code": code}, "end_date,roe_waa,eps")
	if err != nil {
		return nil, err
	}
	for _, row := range indicator.rows {
		if _, ok := annualYear(indicator.str(row, "end_date")); !ok {
			continue
		}
		v.ROE = indicator.num(row, "roe_waa")
		v.EPS = indicator.num(row, "eps")
		break
	}

	dividend, err := c.call(ctx, "dividend", map[string]string{"ts_code": code}, "end_date,cash_div_tax,div_proc")
	if err != nil {
		return nil, err
	}
	for _, row := range dividend.rows {
		if dividend.str(row, "div_proc") != "实施" {
			continue
		}
		if v.EPS > 0 {
			v.PayoutRatio = dividend.num(row, "cash_div_tax") / v.EPS * 100
		}
		break
	}

	return v, nil
}

// ListSecurities fetches the catalog of listed securities, optionally
// filtered to one exchange ("SSE" or "SZSE").
func (c *Client) ListSecurities(ctx context.Context, exchange string) ([]Security, error) {
	params := map[string]string{"list_status": "L"}
	if exchange != "" {
		params["exchange"] = exchange
	}

	data, err := c.call(ctx, "stock_basic", params, "ts_code,name,industry,market,list_date")
	if err != nil {
		return nil, err
	}

	out := make([]Security, 0, len(data.rows))
	for _, row := range data.rows {
		out = append(out, Security{
			Code:     data.str(row, "ts_code"),
			Name:     data.str(row, "name"),
			Industry: data.str(row, "industry"),
			Market:   data.str(row, "market"),
			ListDate: data.str(row, "list_date"),
		})
	}
	return out, nil
}

// annualYear extracts the fiscal year from an end_date like "20231231".
// Non-year-end dates report ok=false.
func annualYear(endDate string) (int, bool) {
	if len(endDate) != 8 || !strings.HasSuffix(endDate, annualSuffix) {
		return 0, false
	}
	year, err := strconv.Atoi(endDate[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}
