// Package dispatch fans work out to Worker capabilities, one per lane, and
// joins the results. Partial failure is a first-class outcome: the dispatcher
// returns whatever results it collected rather than raising.
package dispatch

import (
	"context"
	"sync"
	"time"

	"laneflow/pkg/config"
	"laneflow/pkg/logx"
	"laneflow/pkg/workspace"
)

// Outcome classifies a single worker result.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Instructions is the payload handed to a worker. The orchestrator treats
// its interpretation as opaque; only the scoping fields are meaningful here.
type Instructions struct {
	WorkItemID  string   `json:"work_item_id"`
	Domain      string   `json:"domain"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// WorkerResult reports what a worker did inside its workspace.
type WorkerResult struct {
	Domain       string        `json:"domain"`
	Outcome      Outcome       `json:"outcome"`
	FilesTouched []string      `json:"files_touched"`
	Issues       []string      `json:"issues,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Worker is the execution capability boundary. Implementations may be slow
// and fallible; they must honor context cancellation at safe points but are
// never forcibly killed mid-unit.
type Worker interface {
	Execute(ctx context.Context, ws *workspace.Workspace, instructions Instructions) (WorkerResult, error)
}

// Set is the joined outcome of dispatching a plan. Results are ordered like
// the input workspaces. Cancelled marks runs where a failing lane signalled
// its siblings to stop early.
type Set struct {
	Results   []WorkerResult `json:"results"`
	Cancelled bool           `json:"cancelled"`
}

// AllSucceeded reports whether every lane finished with a success outcome.
func (s *Set) AllSucceeded() bool {
	for _, r := range s.Results {
		if r.Outcome != OutcomeSuccess {
			return false
		}
	}
	return len(s.Results) > 0
}

// Failed returns the results that did not succeed.
func (s *Set) Failed() []WorkerResult {
	var failed []WorkerResult
	for _, r := range s.Results {
		if r.Outcome != OutcomeSuccess {
			failed = append(failed, r)
		}
	}
	return failed
}

// Dispatcher issues work to a Worker and performs the fan-out/fan-in join
// for parallel plans.
type Dispatcher struct {
	worker  Worker
	timeout time.Duration
	logger  *logx.Logger
}

// New creates a dispatcher backed by the given worker.
func New(worker Worker, cfg config.DispatchConfig) *Dispatcher {
	return &Dispatcher{
		worker:  worker,
		timeout: cfg.Timeout(),
		logger:  logx.NewLogger("dispatch"),
	}
}

// Dispatch runs a single lane to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, ws *workspace.Workspace, instructions Instructions) WorkerResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := d.worker.Execute(ctx, ws, instructions)
	result.Domain = ws.Domain
	if result.Duration == 0 {
		result.Duration = time.Since(start)
	}
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Issues = append(result.Issues, err.Error())
		d.logger.Warn("Lane %s/%s failed: %v", ws.WorkItemID, ws.Domain, err)
	}
	return result
}

// DispatchAll runs every lane concurrently and blocks until all have
// returned or definitively failed. The first unrecoverable lane failure
// cancels outstanding siblings cooperatively; their results are still
// collected and returned as part of the set.
func (d *Dispatcher) DispatchAll(ctx context.Context, workspaces []*workspace.Workspace, instructions []Instructions) *Set {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	set := &Set{Results: make([]WorkerResult, len(workspaces))}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		cancelled bool
	)
	for i := range workspaces {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result := d.Dispatch(ctx, workspaces[i], instructions[i])

			mu.Lock()
			set.Results[i] = result
			if result.Outcome == OutcomeFailed && !cancelled {
				cancelled = true
				d.logger.Warn("Lane %s failed, signalling siblings to stop", workspaces[i].Domain)
				cancel()
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	set.Cancelled = cancelled
	d.logger.Info("Dispatched %d lanes, %d failed", len(set.Results), len(set.Failed()))
	return set
}
