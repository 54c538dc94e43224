package chain

import (
	"context"
	"sync"

	"github.com/penserai/acteon/pkg/acteon"
)

// runParallel fans step.Parallel.Steps out concurrently, bounded by
// MaxConcurrency, honouring join (all/any) and on_failure
// (fail_fast/best_effort) per spec.md §4.L.
func (e *Executor) runParallel(ctx context.Context, st *acteon.ChainState, step acteon.StepConfig) (stepOutcome, error) {
	pg := step.Parallel
	substepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, pg.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	results := make(map[string]acteon.StepResult, len(pg.Steps))
	statuses := make(map[string]acteon.ParallelSubStepStatus, len(pg.Steps))
	for _, ss := range pg.Steps {
		statuses[ss.Name] = acteon.ParallelSubPending
	}

	anySucceeded := false
	allSucceeded := true

	named := namedResults(st, e.nameIndex(st.ChainName))
	var prev *acteon.StepResult
	if st.CurrentStep > 0 {
		prev = st.StepResults[st.CurrentStep-1]
	}

	for _, ss := range pg.Steps {
		ss := ss
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-substepCtx.Done():
				mu.Lock()
				statuses[ss.Name] = acteon.ParallelSubCancelled
				mu.Unlock()
				return
			}

			mu.Lock()
			statuses[ss.Name] = acteon.ParallelSubRunning
			mu.Unlock()

			if substepCtx.Err() != nil {
				mu.Lock()
				statuses[ss.Name] = acteon.ParallelSubCancelled
				mu.Unlock()
				return
			}

			payload := resolveTemplate(ss.PayloadTemplate, st.OriginAction, prev, named, st.ChainID, st.CurrentStep)
			synthetic := acteon.Action{
				ID: ss.Name + ":" + st.ChainID, Namespace: st.OriginAction.Namespace, Tenant: st.OriginAction.Tenant,
				Provider: ss.Provider, ActionType: ss.ActionType, Payload: payload, CreatedAt: e.now(),
			}
			out, err := e.executeSynthetic(substepCtx, synthetic)
			res := acteon.StepResult{Success: out.success, Body: out.body, Error: out.errMsg, CompletedAt: e.now()}
			if err != nil {
				res.Success = false
				res.Error = err.Error()
			}

			mu.Lock()
			results[ss.Name] = res
			if res.Success {
				statuses[ss.Name] = acteon.ParallelSubCompleted
			} else {
				statuses[ss.Name] = acteon.ParallelSubFailed
				allSucceeded = false
				if pg.OnFailure == acteon.ParallelFailFast {
					cancel()
				}
			}
			mu.Unlock()

			if res.Success {
				mu.Lock()
				anySucceeded = true
				mu.Unlock()
				if pg.Join == acteon.ParallelJoinAny {
					cancel()
				}
			}
		}()
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	st.ParallelState = &acteon.ParallelExecutionState{SubSteps: statuses}
	if st.ParallelSubResults == nil {
		st.ParallelSubResults = make(map[string]acteon.StepResult, len(results))
	}
	for k, v := range results {
		st.ParallelSubResults[k] = v
	}

	success := false
	switch pg.Join {
	case acteon.ParallelJoinAny:
		success = anySucceeded
	default: // all
		success = allSucceeded && len(results) == len(pg.Steps)
	}

	return stepOutcome{success: success, body: map[string]interface{}{"parallel_results": resultsToBody(results)}}, nil
}

func resultsToBody(results map[string]acteon.StepResult) map[string]interface{} {
	out := make(map[string]interface{}, len(results))
	for k, v := range results {
		out[k] = map[string]interface{}{"success": v.Success, "body": v.Body, "error": v.Error}
	}
	return out
}
