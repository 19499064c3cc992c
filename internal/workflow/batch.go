package workflow

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/madoguchi/internal/model"
)

// BatchResult pairs one submitted ticket with its outcome or the validation
// error that kept it out of the pipeline.
type BatchResult struct {
	Outcome *model.TicketOutcome `json:"outcome,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// ProcessBatch processes independent tickets on up to workers goroutines.
// Results are in input order. A rejected ticket does not stop the batch; the
// returned error is non-nil only when ctx is cancelled before every ticket
// started.
func (o *Orchestrator) ProcessBatch(ctx context.Context, tickets []model.Ticket, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]BatchResult, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, t := range tickets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := o.Process(gctx, t)
			var verr *model.ValidationError
			switch {
			case errors.As(err, &verr):
				results[i] = BatchResult{Error: verr.Error()}
			case err != nil:
				return err
			default:
				results[i] = BatchResult{Outcome: &out}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
