package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaomindu/prscreen/internal/history"
)

// DefaultFetchTimeout bounds a single remote call so one hung request cannot
// stall a batch.
const DefaultFetchTimeout = 60 * time.Second

// ErrFetchTimeout marks a remote call that exceeded the per-fetch timeout.
// The affected entity fails; the batch continues.
var ErrFetchTimeout = errors.New("fetch timed out")

// Client fetches annual financial history from the remote provider.
type Client interface {
	FetchAnnual(ctx context.Context, code string, r history.YearRange) ([]history.YearPoint, error)
}

// Cache is the slice of the history store the scheduler uses: the batch scan,
// the per-entity re-read backing verification and persistence of merged
// records.
type Cache interface {
	ScanAll(codes []string) map[string]*history.CachedRecord
	Get(code string) (*history.CachedRecord, error)
	Put(rec history.CachedRecord) error
}

// Status classifies how a single entity was resolved.
type Status int

const (
	// StatusHit - served entirely from cache.
	StatusHit Status = iota
	// StatusMerged - partial cache coverage extended by a remote fetch.
	StatusMerged
	// StatusFetched - no usable cache, fetched in full.
	StatusFetched
	// StatusFailed - the entity could not be resolved; Err carries the cause.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusMerged:
		return "merged"
	case StatusFetched:
		return "fetched"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the per-entity outcome of a batch resolution. Failures are
// isolated: one failed entity never aborts the rest of the batch.
type Result struct {
	Code   string
	Status Status
	Record *history.CachedRecord
	Err    error
}

// Scheduler resolves requested year ranges for batches of securities in two
// phases: a local scan that reconciles each request against the cache, then
// concurrent remote work split across two pools. Cache-complete entities go
// through a wide verification pool; entities needing remote data go through a
// narrow pool bounded by the account's quota tier, with dispatches spaced by
// the tier's delay.
//
// The tier bound holds globally: every remote call, including one triggered
// by a failed verification, passes through the same semaphore and dispatch
// gate.
type Scheduler struct {
	store        Cache
	client       Client
	tier         QuotaTier
	fetchTimeout time.Duration
	log          zerolog.Logger

	fetchSem chan struct{}

	gateMu       sync.Mutex
	nextDispatch time.Time
}

// NewScheduler creates a scheduler for the given quota tier.
func NewScheduler(store Cache, client Client, tier QuotaTier, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		client:       client,
		tier:         tier,
		fetchTimeout: DefaultFetchTimeout,
		log:          log.With().Str("component", "fetch-scheduler").Str("tier", tier.Name).Logger(),
		fetchSem:     make(chan struct{}, tier.Workers),
	}
}

// Resolve resolves the requested range for every code. It always returns one
// result per code, in input order. Duplicate codes are resolved once and
// share the first occurrence's result, so no two workers ever fetch the same
// entity concurrently within a batch. onProgress, if non-nil, receives
// throttled progress snapshots counting unique entities.
//
// Cancelling the context stops new dispatches; entities not yet dispatched
// fail with the context error, in-flight work is allowed to finish.
func (s *Scheduler) Resolve(ctx context.Context, codes []string, requested history.YearRange, onProgress func(Progress)) []Result {
	results := make([]Result, len(codes))

	// Phase 1: local scan, no network.
	cached := s.store.ScanAll(codes)

	type verifyJob struct {
		idx int
		rec *history.CachedRecord
	}
	type fetchJob struct {
		idx     int
		rec     *history.CachedRecord
		missing []history.YearRange
	}

	var verifies []verifyJob
	var fetches []fetchJob
	first := make(map[string]int, len(codes))
	var dups [][2]int
	for i, code := range codes {
		if j, seen := first[code]; seen {
			dups = append(dups, [2]int{i, j})
			continue
		}
		first[code] = i
		rec := cached[code]
		decision := history.Reconcile(requested, rec)
		switch decision.Outcome {
		case history.OutcomeComplete:
			verifies = append(verifies, verifyJob{idx: i, rec: rec})
		default:
			fetches = append(fetches, fetchJob{idx: i, rec: rec, missing: decision.Missing})
		}
	}

	tracker := NewTracker(len(first), s.tier.Workers, onProgress)

	s.log.Info().
		Int("total", len(first)).
		Int("cache_complete", len(verifies)).
		Int("remote", len(fetches)).
		Str("range", requested.String()).
		Msg("Starting batch resolution")

	var wg sync.WaitGroup

	// Phase 2a: wide verification pool for cache-complete entities.
	verifyCh := make(chan verifyJob)
	for w := 0; w < min(s.tier.VerifyWorkers(), len(verifies)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range verifyCh {
				start := time.Now()
				results[job.idx] = s.verify(ctx, codes[job.idx], requested, job.rec)
				tracker.Done(time.Since(start))
			}
		}()
	}

	// Phase 2b: quota-bounded fetch pool.
	fetchCh := make(chan fetchJob)
	for w := 0; w < min(s.tier.Workers, len(fetches)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range fetchCh {
				start := time.Now()
				results[job.idx] = s.resolveRemote(ctx, codes[job.idx], job.rec, job.missing)
				tracker.Done(time.Since(start))
			}
		}()
	}

	// Feed each tier from its own goroutine. A saturated verify pool must
	// never delay the first quota-bounded dispatch, and vice versa.
	go func() {
		for _, job := range verifies {
			verifyCh <- job
		}
		close(verifyCh)
	}()
	go func() {
		for _, job := range fetches {
			fetchCh <- job
		}
		close(fetchCh)
	}()
	wg.Wait()

	for _, d := range dups {
		results[d[0]] = results[d[1]]
	}

	return results
}

// verify re-reads a cache-complete entity to confirm the stored row still
// decodes. A row that went unreadable between scan and verification degrades
// to a full fetch, through the same quota gate as any other remote call.
func (s *Scheduler) verify(ctx context.Context, code string, requested history.YearRange, rec *history.CachedRecord) Result {
	fresh, err := s.store.Get(code)
	if err == nil && fresh != nil && fresh.Range.Contains(requested) {
		return Result{Code: code, Status: StatusHit, Record: fresh}
	}

	s.log.Warn().Str("ts_code", code).Msg("Cached record failed verification, refetching")
	return s.resolveRemote(ctx, code, nil, []history.YearRange{requested})
}

// resolveRemote fetches the missing sub-ranges for one entity, merges each
// into the cached record and persists the result. Sub-ranges are fetched
// sequentially so the merge stays expansion-only.
func (s *Scheduler) resolveRemote(ctx context.Context, code string, rec *history.CachedRecord, missing []history.YearRange) Result {
	status := StatusFetched
	if rec != nil {
		status = StatusMerged
	}

	for _, r := range missing {
		points, err := s.fetchRange(ctx, code, r)
		if err != nil {
			s.log.Warn().Err(err).Str("ts_code", code).Str("range", r.String()).Msg("Fetch failed")
			return Result{Code: code, Status: StatusFailed, Err: fmt.Errorf("fetch %s %s: %w", code, r, err)}
		}

		merged, _ := history.Merge(rec, code, r, points)
		if err := s.store.Put(merged); err != nil {
			return Result{Code: code, Status: StatusFailed, Err: fmt.Errorf("store %s: %w", code, err)}
		}
		rec = &merged
	}

	return Result{Code: code, Status: status, Record: rec}
}

// fetchRange performs one remote call under the tier's concurrency and
// dispatch-spacing bounds, with a per-call timeout.
func (s *Scheduler) fetchRange(ctx context.Context, code string, r history.YearRange) ([]history.YearPoint, error) {
	select {
	case s.fetchSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.fetchSem }()

	if err := s.waitDispatch(ctx); err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	points, err := s.client.FetchAnnual(fctx, code, r)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", ErrFetchTimeout, err)
	}
	return points, err
}

// waitDispatch reserves the next dispatch slot and sleeps until it arrives.
// Slots are spaced by the tier delay across all workers.
func (s *Scheduler) waitDispatch(ctx context.Context) error {
	if s.tier.DispatchDelay <= 0 {
		return ctx.Err()
	}

	s.gateMu.Lock()
	at := s.nextDispatch
	now := time.Now()
	if at.Before(now) {
		at = now
	}
	s.nextDispatch = at.Add(s.tier.DispatchDelay)
	s.gateMu.Unlock()

	wait := time.Until(at)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
