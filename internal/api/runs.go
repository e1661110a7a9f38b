package api

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/scheduler"
)

// RunState is the lifecycle state of a crawl started through the API.
type RunState string

// Run states.
const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCanceled  RunState = "canceled"
)

var (
	errRunNotFound    = errors.New("run not found")
	errRegistryClosed = errors.New("run registry is shutting down")
)

// Runner executes one crawl. *scheduler.Scheduler satisfies it.
type Runner interface {
	Execute(ctx context.Context, req scheduler.Request, stats *crawler.RunStats) ([]crawler.JobRecord, error)
}

// RunView is the JSON shape of a run.
type RunView struct {
	ID         string                `json:"run_id"`
	State      RunState              `json:"state"`
	Keywords   []string              `json:"keywords"`
	PageLimit  int                   `json:"page_limit"`
	JobLimit   int                   `json:"job_limit"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      string                `json:"error,omitempty"`
	Records    int                   `json:"records"`
	Stats      crawler.StatsSnapshot `json:"stats"`
}

type run struct {
	id      string
	profile crawler.ProfileConfig
	started time.Time
	stats   *crawler.RunStats
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.Mutex
	state     RunState
	finished  time.Time
	err       string
	records   int
	cancelled bool
}

func (r *run) view() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := RunView{
		ID:        r.id,
		State:     r.state,
		Keywords:  slices.Clone(r.profile.Keywords),
		PageLimit: r.profile.PerKeywordPageLimit,
		JobLimit:  r.profile.PerKeywordJobLimit,
		StartedAt: r.started,
		Error:     r.err,
		Records:   r.records,
		Stats:     r.stats.Snapshot(),
	}
	if !r.finished.IsZero() {
		f := r.finished
		v.FinishedAt = &f
	}
	return v
}

// Registry tracks crawls started through the API. Runs outlive the request that
// started them and are canceled together on Shutdown.
type Registry struct {
	runner Runner
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// NewRegistry builds a Registry.
func NewRegistry(runner Runner, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Registry{
		runner: runner,
		ids:    ids,
		clock:  clock,
		logger: logger,
		base:   base,
		stop:   stop,
		runs:   make(map[string]*run),
	}
}

// Start launches a crawl in the background and returns its initial view.
func (g *Registry) Start(profile crawler.ProfileConfig) (RunView, error) {
	id, err := g.ids.NewID()
	if err != nil {
		return RunView{}, fmt.Errorf("generate run id: %w", err)
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return RunView{}, errRegistryClosed
	}
	ctx, cancel := context.WithCancel(g.base)
	r := &run{
		id:      id,
		profile: profile,
		started: g.clock.Now(),
		stats:   crawler.NewRunStats(),
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   RunRunning,
	}
	g.runs[id] = r
	g.wg.Add(1)
	g.mu.Unlock()

	go g.execute(ctx, r)
	return r.view(), nil
}

func (g *Registry) execute(ctx context.Context, r *run) {
	defer g.wg.Done()
	defer close(r.done)
	defer r.cancel()

	logger := g.logger.With(zap.String("run_id", r.id))
	logger.Info("api run started", zap.Strings("keywords", r.profile.Keywords))

	records, err := g.runner.Execute(ctx, scheduler.Request{RunID: r.id, Profile: r.profile}, r.stats)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = g.clock.Now()
	r.records = len(records)
	switch {
	case err == nil:
		r.state = RunSucceeded
	case r.cancelled || errors.Is(err, context.Canceled):
		r.state = RunCanceled
		r.err = err.Error()
	default:
		r.state = RunFailed
		r.err = err.Error()
	}
	logger.Info("api run finished", zap.String("state", string(r.state)), zap.Int("records", r.records))
}

// Get returns the current view of a run.
func (g *Registry) Get(id string) (RunView, error) {
	r, err := g.lookup(id)
	if err != nil {
		return RunView{}, err
	}
	return r.view(), nil
}

// List returns every known run, oldest first.
func (g *Registry) List() []RunView {
	g.mu.Lock()
	runs := make([]*run, 0, len(g.runs))
	for _, r := range g.runs {
		runs = append(runs, r)
	}
	g.mu.Unlock()

	out := make([]RunView, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.view())
	}
	slices.SortFunc(out, func(a, b RunView) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel asks a running crawl to stop. Canceling a finished run is a no-op.
func (g *Registry) Cancel(id string) (RunView, error) {
	r, err := g.lookup(id)
	if err != nil {
		return RunView{}, err
	}
	r.mu.Lock()
	if r.state == RunRunning {
		r.cancelled = true
	}
	r.mu.Unlock()
	r.cancel()
	return r.view(), nil
}

// Done returns a channel closed when the run finishes.
func (g *Registry) Done(id string) (<-chan struct{}, error) {
	r, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.done, nil
}

// Ready reports whether new runs are accepted.
func (g *Registry) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed
}

// Shutdown stops accepting runs, cancels the running ones and waits for them
// to return or for ctx to expire.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stop()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

func (g *Registry) lookup(id string) (*run, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.runs[id]
	if !ok {
		return nil, errRunNotFound
	}
	return r, nil
}
