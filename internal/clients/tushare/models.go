package tushare

import (
	"errors"
	"fmt"
	"strconv"
)

// Sentinel errors callers can branch on.
var (
	// ErrTokenMissing - the client was built without an API token.
	ErrTokenMissing = errors.New("tushare token not configured")
	// ErrRateLimited - the provider rejected the call for exceeding the
	// account's per-minute allowance.
	ErrRateLimited = errors.New("tushare rate limit exceeded")
)

// rate-limit code per the provider's error table
const codeRateLimited = 40203

// apiRequest is the provider's uniform POST envelope.
type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params,omitempty"`
	Fields  string            `json:"fields,omitempty"`
}

// apiResponse is the uniform response envelope. Data is columnar: a field
// name list plus rows of positional values.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// dataset wraps a columnar response with name-based access.
type dataset struct {
	index map[string]int
	rows  [][]any
}

func newDataset(fields []string, rows [][]any) *dataset {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f] = i
	}
	return &dataset{index: index, rows: rows}
}

// str returns the named column of a row as a string, "" when null or absent.
func (d *dataset) str(row []any, field string) string {
	i, ok := d.index[field]
	if !ok || i >= len(row) || row[i] == nil {
		return ""
	}
	if s, ok := row[i].(string); ok {
		return s
	}
	return fmt.Sprintf("%v", row[i])
}

// num returns the named column of a row as a float64, 0 when null or absent.
// The provider emits numbers as JSON numbers but occasionally as strings.
func (d *dataset) num(row []any, field string) float64 {
	i, ok := d.index[field]
	if !ok || i >= len(row) || row[i] == nil {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Valuation holds the point-in-time metrics used for screening.
type Valuation struct {
	Code          string  `json:"ts_code"`
	PETTM         float64 `json:"pe_ttm"`
	ROE           float64 `json:"roe"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
	PayoutRatio   float64 `json:"payout_ratio"`
}

// Security is one listing from the provider's stock basic catalog.
type Security struct {
	Code     string `json:"ts_code"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Market   string `json:"market"`
	ListDate string `json:"list_date"`
}
