package security

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"invite-sentinel/internal/metrics"
)

// ActionResult is the outcome of one host mutation in a fan-out.
type ActionResult struct {
	Action string
	Target string
	Err    error
}

func (r ActionResult) Failed() bool {
	return r.Err != nil
}

type action struct {
	name   string
	target string
	run    func(ctx context.Context) error
}

// fanOut runs every action independently. A failing action never cancels the
// others; each outcome is returned in input order.
func fanOut(ctx context.Context, limiter *rate.Limiter, concurrency int, actions []action) []ActionResult {
	results := make([]ActionResult, len(actions))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, a := range actions {
		i, a := i, a // per-iteration copies (go < 1.22 loop semantics)
		g.Go(func() error {
			err := limiter.Wait(ctx)
			if err == nil {
				err = a.run(ctx)
			}
			metrics.RecordAction(a.name, err)
			results[i] = ActionResult{Action: a.name, Target: a.target, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
