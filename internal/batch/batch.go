package batch

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/extract"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type Extractor interface {
	Run(ctx context.Context, in extract.Input) (*extract.Result, error)
}

// Sink receives every finished session. It may be called concurrently.
type Sink func(ctx context.Context, i int, res *extract.Result) error

type Options struct {
	Parallel int  // sessions in flight, at least 1
	Sink     Sink // optional
}

// Run extracts every input with at most opts.Parallel sessions in flight.
// Results are returned in input order; an entry is nil when its session
// failed before producing a result. A failing session does not stop the
// batch; only cancellation of ctx does.
func Run(ctx context.Context, engine Extractor, inputs []extract.Input, opts Options) ([]*extract.Result, error) {
	results := make([]*extract.Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallel, 1))

	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			log := logger.With("row", i+1)

			res, err := engine.Run(gctx, in)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				log.Warn("Event skipped", "err", err)
				return nil
			}
			results[i] = res

			if opts.Sink != nil {
				if err := opts.Sink(gctx, i, res); err != nil {
					log.Error("Failed to record result", "session", res.SessionID, "err", err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
