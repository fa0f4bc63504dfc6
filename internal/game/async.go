package game

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gokatarajesh/codeduel/internal/logging"
)

// runner executes long external calls off the request path. Each unit gets its
// own background context so a finished HTTP request never cancels it.
type runner struct {
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func (r *runner) Go(name string, timeout time.Duration, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().Interface("panic", rec).Str("unit", name).Msg("async unit panicked")
			}
		}()

		ctx := logging.IntoContext(context.Background(), r.logger.With().Str("unit", name).Logger())
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		fn(ctx)
	}()
}

// Wait blocks until every dispatched unit has returned.
func (r *runner) Wait() {
	r.wg.Wait()
}
