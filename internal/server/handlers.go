package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/gaomindu/prscreen/internal/history"
	"github.com/gaomindu/prscreen/internal/screening"
	"github.com/gaomindu/prscreen/internal/valuation"
)

// resolveRequest asks for a year range across a batch of securities.
type resolveRequest struct {
	Codes     []string `json:"codes"`
	StartYear int      `json:"start_year"`
	EndYear   int      `json:"end_year"`
}

// resolveEntry is the per-security outcome returned by /api/resolve.
type resolveEntry struct {
	Code   string                `json:"ts_code"`
	Status string                `json:"status"`
	Record *history.CachedRecord `json:"record,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// handleResolve resolves annual history for a batch, fetching whatever the
// cache cannot serve. The call is synchronous; large batches on narrow quota
// tiers belong on the async screen endpoint instead.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Codes) == 0 {
		s.respondError(w, http.StatusBadRequest, "codes is required")
		return
	}
	requested, err := history.NewYearRange(req.StartYear, req.EndYear)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results := s.scheduler.Resolve(r.Context(), req.Codes, requested, nil)

	entries := make([]resolveEntry, len(results))
	for i, res := range results {
		entries[i] = resolveEntry{Code: res.Code, Status: res.Status.String(), Record: res.Record}
		if res.Err != nil {
			entries[i].Error = res.Err.Error()
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"range":   requested.String(),
		"results": entries,
	})
}

// handleListSecurities proxies the listing catalog.
func (s *Server) handleListSecurities(w http.ResponseWriter, r *http.Request) {
	secs, err := s.market.ListSecurities(r.Context(), r.URL.Query().Get("exchange"))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, secs)
}

// handleValuation returns the current PR metrics for one security.
func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	v, err := s.market.Valuation(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

// handleIndexSignal values a broad index against its benchmark's threshold
// ladder. Indices have no single upstream ROE source, so PE and ROE arrive as
// query parameters.
func (s *Server) handleIndexSignal(w http.ResponseWriter, r *http.Request) {
	pe, peErr := strconv.ParseFloat(r.URL.Query().Get("pe"), 64)
	roe, roeErr := strconv.ParseFloat(r.URL.Query().Get("roe"), 64)
	if peErr != nil || roeErr != nil {
		s.respondError(w, http.StatusBadRequest, "pe and roe query parameters are required")
		return
	}

	benchmark := valuation.BenchmarkByName(chi.URLParam(r, "name"))
	pr, ok := valuation.BroadIndexPR(pe, roe)
	if !ok {
		s.respondError(w, http.StatusUnprocessableEntity, "PR requires positive PE and ROE")
		return
	}

	payload := map[string]any{
		"benchmark": benchmark,
		"pe_ttm":    pe,
		"roe":       roe,
		"pr":        pr,
		"signal":    valuation.TradingSignal(pr, benchmark),
	}
	if buy, ok := valuation.BuffettBuyPR(pe, roe); ok {
		payload["buffett_buy_pr"] = buy
	}
	if sell, ok := valuation.BuffettSellPR(pe, roe); ok {
		payload["buffett_sell_pr"] = sell
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// handleStartScreen launches an asynchronous screening job over the full
// listing universe and returns its ID.
func (s *Server) handleStartScreen(w http.ResponseWriter, r *http.Request) {
	criteria := screening.DefaultCriteria()
	// An empty body keeps the defaults.
	if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid criteria")
		return
	}

	job := s.jobs.start(func(ctx context.Context, job *screenJob) (*screening.Report, error) {
		return s.screener.ScreenUniverse(ctx, criteria, job.onProgress)
	})

	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"state":      JobRunning,
		"started_at": job.StartedAt,
	})
}

// handleScreenStatus reports a job's state, progress and, once done, its
// report.
func (s *Server) handleScreenStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(chi.URLParam(r, "jobID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown job")
		return
	}

	state, report, progress, err := job.snapshot()
	payload := map[string]any{
		"job_id":     job.ID,
		"state":      state,
		"started_at": job.StartedAt,
		"progress":   progress,
	}
	if report != nil {
		payload["report"] = report
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.respondJSON(w, http.StatusOK, payload)
}

// handleScreenProgress streams progress snapshots over a websocket until the
// job finishes.
func (s *Server) handleScreenProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(chi.URLParam(r, "jobID"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown job")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ch, unsubscribe, finished := job.subscribe()
	defer unsubscribe()

	ctx := r.Context()
	if finished {
		state, _, progress, _ := job.snapshot()
		_ = wsjson.Write(ctx, conn, map[string]any{"state": state, "progress": progress})
		return
	}

	for {
		select {
		case p, open := <-ch:
			if !open {
				state, _, progress, _ := job.snapshot()
				_ = wsjson.Write(ctx, conn, map[string]any{"state": state, "progress": progress})
				return
			}
			if err := wsjson.Write(ctx, conn, map[string]any{"state": JobRunning, "progress": p}); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// handleCacheInfo reports cache statistics.
func (s *Server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetInfo()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

// handleCacheRecords lists every cached range for one security.
func (s *Server) handleCacheRecords(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	records, err := s.store.Records(code)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type rangeEntry struct {
		Range     string    `json:"range"`
		Years     int       `json:"years"`
		WrittenAt time.Time `json:"written_at"`
	}
	out := make([]rangeEntry, len(records))
	for i, rec := range records {
		out[i] = rangeEntry{Range: rec.Range.String(), Years: len(rec.Points), WrittenAt: rec.WrittenAt}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ts_code": code, "records": out})
}

// handleCacheDelete evicts a security from the cache.
func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.store.Delete(code); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"deleted": code})
}
