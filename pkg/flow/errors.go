package flow

import "errors"

var (
	// ErrCircuitOpen is the fast-fail returned while the breaker is OPEN.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrCircuitProbeExceeded is returned in HALF_OPEN once the probe
	// budget is spent.
	ErrCircuitProbeExceeded = errors.New("circuit breaker probe budget exceeded")
)
