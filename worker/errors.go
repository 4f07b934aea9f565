package worker

import "errors"

// Pipeline error kinds. All of them are handed to the queue's
// retry/backoff machinery; the distinction matters for operators reading
// terminal failures, not for control flow inside the pool.
var (
	// ErrNoCurrency marks a target whose site→country association does
	// not resolve to a currency. Retrying cannot fix it, but the job
	// still runs through the attempt budget before surfacing as a
	// terminal failure for operator attention.
	ErrNoCurrency = errors.New("target has no resolvable currency")

	// ErrPriceNotFound marks a price selector that matched nothing.
	// Persistently absent means a stale selector configuration.
	ErrPriceNotFound = errors.New("price selector matched nothing")

	// ErrPriceUnparseable marks price text the normalizer rejected.
	ErrPriceUnparseable = errors.New("price text is not a number")
)
