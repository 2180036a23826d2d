package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaomindu/prscreen/internal/clients/tushare"
	"github.com/gaomindu/prscreen/internal/config"
	"github.com/gaomindu/prscreen/internal/fetch"
	"github.com/gaomindu/prscreen/internal/history"
	"github.com/gaomindu/prscreen/internal/screening"
	testutil "github.com/gaomindu/prscreen/internal/testing"
	"github.com/gaomindu/prscreen/internal/valuation"
)

type stubClient struct{}

// FetchAnnual returns clean fundamentals for every requested year.
func (stubClient) FetchAnnual(_ context.Context, _ string, r history.YearRange) ([]history.YearPoint, error) {
	points := make([]history.YearPoint, 0, r.Years())
	for y := r.Start; y <= r.End; y++ {
		points = append(points, history.YearPoint{
			Year:          y,
			Revenue:       1000,
			OperCost:      400,
			NetIncome:     300,
			OperCashflow:  350,
			TotalAssets:   5000,
			AuditOpinion:  "标准无保留意见",
			AuditStandard: true,
		})
	}
	return points, nil
}

type stubMarket struct{}

func (stubMarket) Valuation(_ context.Context, code string) (*tushare.Valuation, error) {
	return &tushare.Valuation{Code: code, PETTM: 22.5, ROE: 30, EPS: 50, PayoutRatio: 50}, nil
}

func (stubMarket) ListSecurities(context.Context, string) ([]tushare.Security, error) {
	return []tushare.Security{{Code: "600519.SH", Name: "贵州茅台", Industry: "消费"}}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "history")
	t.Cleanup(cleanup)

	log := zerolog.Nop()
	store := history.NewStore(db, log)
	scheduler := fetch.NewScheduler(store, stubClient{}, fetch.TierPro, log)
	screener := screening.NewScreener(scheduler, stubMarket{}, log)

	return New(Config{
		Log:       log,
		Cfg:       &config.Config{DataDir: t.TempDir()},
		HistoryDB: db,
		Store:     store,
		Scheduler: scheduler,
		Screener:  screener,
		Market:    stubMarket{},
		Port:      0,
		DevMode:   true,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleResolve(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/resolve", resolveRequest{
		Codes: []string{"600519.SH"}, StartYear: 2019, EndYear: 2023,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Range   string         `json:"range"`
		Results []resolveEntry `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2019-2023", body.Range)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "fetched", body.Results[0].Status)
	require.NotNil(t, body.Results[0].Record)
	assert.Len(t, body.Results[0].Record.Points, 5)

	// Second call must be a cache hit.
	rec = doJSON(t, s, http.MethodPost, "/api/resolve", resolveRequest{
		Codes: []string{"600519.SH"}, StartYear: 2019, EndYear: 2023,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hit", body.Results[0].Status)
}

func TestHandleResolve_BadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/resolve", resolveRequest{Codes: nil, StartYear: 2019, EndYear: 2023})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/resolve", resolveRequest{Codes: []string{"600519.SH"}, StartYear: 2023, EndYear: 2019})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleScreen_Lifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/screen/", map[string]any{"pr_threshold": 1.0})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		JobID string `json:"job_id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.JobID)
	assert.Equal(t, string(JobRunning), started.State)

	// Poll until the job finishes.
	deadline := time.Now().Add(10 * time.Second)
	var status struct {
		State  string            `json:"state"`
		Report *screening.Report `json:"report"`
	}
	for {
		rec = doJSON(t, s, http.MethodGet, "/api/screen/"+started.JobID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		if status.State != string(JobRunning) {
			break
		}
		require.True(t, time.Now().Before(deadline), "screening job did not finish in time")
		time.Sleep(20 * time.Millisecond)
	}

	require.Equal(t, string(JobDone), status.State)
	require.NotNil(t, status.Report)
	assert.Equal(t, 1, status.Report.Universe)
	require.Len(t, status.Report.Candidates, 1)
	assert.Equal(t, "600519.SH", status.Report.Candidates[0].Code)
}

func TestHandleScreen_UnknownJob(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/screen/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCacheEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Populate via resolve.
	rec := doJSON(t, s, http.MethodPost, "/api/resolve", resolveRequest{
		Codes: []string{"600519.SH"}, StartYear: 2019, EndYear: 2023,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/cache/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info history.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 1, info.Records)
	assert.Equal(t, 5, info.Years)

	rec = doJSON(t, s, http.MethodGet, "/api/cache/600519.SH", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/cache/600519.SH", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/cache/info", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 0, info.Records)
}

func TestHandleValuation(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/valuation/600519.SH", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var v tushare.Valuation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 22.5, v.PETTM)
}

func TestHandleIndexSignal(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/index/csi300/signal?pe=12&roe=12", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Benchmark    valuation.Benchmark `json:"benchmark"`
		PR           float64             `json:"pr"`
		BuffettBuyPR float64             `json:"buffett_buy_pr"`
		Signal       valuation.Signal    `json:"signal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CSI 300", body.Benchmark.Name)
	assert.InDelta(t, 0.6667, body.PR, 1e-4)
	assert.InDelta(t, 1.0, body.BuffettBuyPR, 1e-9)
	assert.Equal(t, valuation.SignalBuy, body.Signal.Type)
	assert.Equal(t, 1.0, body.Signal.SuggestedPosition)

	// Offshore benchmarks resolve by alias and carry lower thresholds.
	rec = doJSON(t, s, http.MethodGet, "/api/index/hscei/signal?pe=20&roe=15", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hang Seng China Enterprises", body.Benchmark.Name)
	assert.InDelta(t, 0.8889, body.PR, 1e-4)
	assert.Equal(t, valuation.SignalReduce, body.Signal.Type)
	assert.Greater(t, body.Signal.SellRatio, 0.0)
}

func TestHandleIndexSignal_BadInput(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/index/csi300/signal", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/index/csi300/signal?pe=-5&roe=12", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleSystemHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "history_db")
}
