package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaomindu/prscreen/internal/fetch"
	"github.com/gaomindu/prscreen/internal/screening"
)

// JobState is the lifecycle of an async screening job.
type JobState string

const (
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// screenJob is one asynchronous screening run. Progress fans out to any
// number of subscribers; slow subscribers drop intermediate snapshots rather
// than stall the run.
type screenJob struct {
	ID        string
	StartedAt time.Time

	cancel context.CancelFunc

	mu       sync.Mutex
	state    JobState
	report   *screening.Report
	err      error
	progress fetch.Progress
	subs     map[chan fetch.Progress]struct{}
}

func (j *screenJob) onProgress(p fetch.Progress) {
	j.mu.Lock()
	j.progress = p
	for ch := range j.subs {
		select {
		case ch <- p:
		default:
		}
	}
	j.mu.Unlock()
}

func (j *screenJob) finish(report *screening.Report, err error) {
	j.mu.Lock()
	if err != nil {
		j.state = JobFailed
		j.err = err
	} else {
		j.state = JobDone
		j.report = report
	}
	for ch := range j.subs {
		close(ch)
	}
	j.subs = map[chan fetch.Progress]struct{}{}
	j.mu.Unlock()
}

// subscribe registers a progress channel. The returned channel is closed when
// the job finishes; done reports true if the job had already finished.
func (j *screenJob) subscribe() (<-chan fetch.Progress, func(), bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != JobRunning {
		return nil, func() {}, true
	}

	ch := make(chan fetch.Progress, 8)
	ch <- j.progress
	j.subs[ch] = struct{}{}
	return ch, func() {
		j.mu.Lock()
		if _, ok := j.subs[ch]; ok {
			delete(j.subs, ch)
			close(ch)
		}
		j.mu.Unlock()
	}, false
}

// snapshot returns the job's externally visible state.
func (j *screenJob) snapshot() (JobState, *screening.Report, fetch.Progress, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.report, j.progress, j.err
}

// jobRegistry tracks screening jobs by ID.
type jobRegistry struct {
	mu   sync.Mutex
	jobs map[string]*screenJob
	log  zerolog.Logger
}

func newJobRegistry(log zerolog.Logger) *jobRegistry {
	return &jobRegistry{
		jobs: make(map[string]*screenJob),
		log:  log.With().Str("component", "job-registry").Logger(),
	}
}

// start launches run in a goroutine and returns the tracking job.
func (r *jobRegistry) start(run func(ctx context.Context, job *screenJob) (*screening.Report, error)) *screenJob {
	ctx, cancel := context.WithCancel(context.Background())
	job := &screenJob{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		cancel:    cancel,
		state:     JobRunning,
		subs:      map[chan fetch.Progress]struct{}{},
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	go func() {
		defer cancel()
		report, err := run(ctx, job)
		job.finish(report, err)
		if err != nil {
			r.log.Warn().Err(err).Str("job_id", job.ID).Msg("Screening job failed")
		} else {
			r.log.Info().Str("job_id", job.ID).Msg("Screening job finished")
		}
	}()

	return job
}

func (r *jobRegistry) get(id string) (*screenJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// cancelAll stops every running job, used during shutdown.
func (r *jobRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		job.cancel()
	}
}
