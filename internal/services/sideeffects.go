package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Step is one best-effort side effect.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step      string    `json:"step"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// RunSideEffects runs steps in parallel and collects every result. A failing
// or panicking step never affects its siblings; each failure is logged once.
// Results are returned in step order.
func RunSideEffects(ctx context.Context, steps ...Step) []StepResult {
	var wg sync.WaitGroup
	results := make([]StepResult, len(steps))

	for i, step := range steps {
		i, step := i, step // per-iteration copies (go 1.21 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runStep(ctx, step)
		}()
	}
	wg.Wait()

	for _, r := range results {
		if !r.Success {
			log.Warn().
				Str("step", r.Step).
				Int64("durationMs", r.Duration).
				Str("error", r.Error).
				Msg("Side effect failed")
		} else {
			log.Debug().
				Str("step", r.Step).
				Int64("durationMs", r.Duration).
				Msg("Side effect completed")
		}
	}
	return results
}

func runStep(ctx context.Context, step Step) (result StepResult) {
	start := time.Now()
	result = StepResult{Step: step.Name, Timestamp: start.UTC()}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(start).Milliseconds()
	}()

	if err := step.Run(ctx); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// Failed returns the names of the steps that did not succeed.
func Failed(results []StepResult) []string {
	var out []string
	for _, r := range results {
		if !r.Success {
			out = append(out, r.Step)
		}
	}
	return out
}
