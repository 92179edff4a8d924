/*
batch.go - Year-end carry-forward batch runner

PURPOSE:
  Runs the carry-forward projection across the whole workforce for a
  year-end date: loads every stored balance snapshotted on that date,
  resolves the rule set in force, projects each balance, and records the
  run with its aggregate totals.

EXECUTION MODEL:
  Projections are independent per balance, so the run fans out over a
  small worker pool. Every run writes a run row first (pending), then
  either completes it with totals or fails it with the first error -
  operations can always see what happened from the runs table.

SEE ALSO:
  - ../carryforward/projector.go: The per-balance projection
  - ../store/sqlite: Run row lifecycle
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/carryforward"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/store/sqlite"
)

const defaultWorkers = 4

// BatchRunner executes year-end carry-forward runs over stored balances.
type BatchRunner struct {
	Store        *sqlite.Store
	Registry     *engine.Registry
	Jurisdiction engine.Jurisdiction
	Workers      int
}

func NewBatchRunner(store *sqlite.Store, registry *engine.Registry) *BatchRunner {
	return &BatchRunner{
		Store:    store,
		Registry: registry,
		Workers:  defaultWorkers,
	}
}

// Run executes one year-end batch and returns the run ID. The run row is
// created before any work starts; failures are recorded on it.
func (b *BatchRunner) Run(ctx context.Context, yearEnd engine.Date) (string, error) {
	ruleVersion, err := b.Registry.Resolve(ctx, engine.KindCarryForward, b.Jurisdiction, yearEnd)
	if err != nil {
		return "", err
	}
	if ruleVersion.CarryForward == nil {
		return "", fmt.Errorf("%w: version %s carries no carry-forward rules", engine.ErrInvalidPolicy, ruleVersion.ID)
	}
	rules := *ruleVersion.CarryForward

	balances, err := b.Store.ListLeaveBalances(ctx, yearEnd)
	if err != nil {
		return "", err
	}

	runID := uuid.NewString()
	if err := b.Store.CreateCarryForwardRun(ctx, runID, yearEnd); err != nil {
		return "", err
	}
	log.Printf("[YearEnd] Run %s started: %d balances as of %s", runID, len(balances), yearEnd)

	projections, err := b.projectParallel(balances, rules, yearEnd)
	if err != nil {
		if failErr := b.Store.FailCarryForwardRun(ctx, runID, err); failErr != nil {
			log.Printf("[YearEnd] Run %s: failed to record failure: %v", runID, failErr)
		}
		log.Printf("[YearEnd] Run %s failed: %v", runID, err)
		return runID, err
	}

	agg := carryforward.Sum(projections)
	if err := b.Store.CompleteCarryForwardRun(ctx, runID, projections, agg); err != nil {
		return runID, err
	}
	log.Printf("[YearEnd] Run %s completed: %d employees, carry %s, lapse %s",
		runID, agg.Employees, agg.TotalCarry, agg.TotalLapse)
	return runID, nil
}

// projectParallel fans balances out over the worker pool. Order of the
// returned projections follows the input order so run rows are stable.
func (b *BatchRunner) projectParallel(balances []engine.LeaveTypeBalance, rules engine.CarryForwardRuleSet, yearEnd engine.Date) ([]carryforward.Projection, error) {
	workers := b.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	type job struct {
		idx int
		bal engine.LeaveTypeBalance
	}

	jobs := make(chan job)
	out := make([]carryforward.Projection, len(balances))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				rule, ok := rules.RuleFor(j.bal.LeaveTypeCode)
				if !ok {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("%w: no carry-forward rule for leave type %s",
							engine.ErrPolicyNotFound, j.bal.LeaveTypeCode)
					}
					mu.Unlock()
					continue
				}
				out[j.idx] = carryforward.Project(j.bal, rule, yearEnd)
			}
		}()
	}

	for i, bal := range balances {
		jobs <- job{idx: i, bal: bal}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
