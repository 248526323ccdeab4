// Package limiter bounds how many tasks run at once against a rate-sensitive
// service.
//
// Tasks are admitted in submission order. At most maxConcurrent tasks are in
// flight at any moment; the rest wait in a FIFO queue. Each time a task settles,
// its slot is freed and, after an optional delay, the queue is drained again.
// Admitted tasks run on an ants worker pool sized to the concurrency bound.
//
//	lim, err := limiter.New(10, limiter.WithDelay(100*time.Millisecond))
//	if err != nil {
//	    return err
//	}
//	defer lim.Close()
//
//	desc, err := limiter.Do(ctx, lim, func(ctx context.Context) (string, error) {
//	    return describer.DescribeImage(ctx, data, "image/jpeg")
//	})
//
// A Limiter is explicitly constructed and passed to the code that needs it;
// there is no package-level instance.
package limiter
