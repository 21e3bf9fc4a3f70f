// Package breaker implements the circuit breaker that isolates callers from a
// failing upstream.
//
// A breaker has three states:
//
//   - closed: normal operation, calls pass through
//   - open: upstream failing, calls are rejected with *OpenError
//   - half-open: one trial call probes whether the upstream recovered
//
// Every permitted call gets a Ticket that must be reported exactly once:
//
//	ticket, err := b.Allow()
//	if err != nil {
//	    return err // *OpenError, errors.Is(err, breaker.ErrOpen)
//	}
//	resp, err := call(ctx)
//	switch {
//	case ctx.Err() != nil:
//	    b.Report(ticket, breaker.Ignore)
//	case err != nil:
//	    b.Report(ticket, breaker.Failure)
//	default:
//	    b.Report(ticket, breaker.Success)
//	}
//
// Each upstream integration should own its breaker; Registry hands out one
// breaker per name.
package breaker
